package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/feedline/internal/model"
)

// PostgresJobRunRepo はPostgreSQLを使用したジョブ実行記録リポジトリ。
// job_runsテーブルには「status = 'running'」の部分ユニークインデックスがあり、
// 同名ジョブのrunning行は常に高々1件に保たれる。
type PostgresJobRunRepo struct {
	db *sql.DB
}

// NewPostgresJobRunRepo はPostgresJobRunRepoを生成する。
func NewPostgresJobRunRepo(db *sql.DB) *PostgresJobRunRepo {
	return &PostgresJobRunRepo{db: db}
}

const jobRunColumns = `id, job_name, status, started_at, completed_at, duration, message`

// Create はrunning状態の実行記録を条件付きで挿入する。
// 部分ユニークインデックスに衝突した場合は行が返らず、ErrJobAlreadyRunningとなる。
func (r *PostgresJobRunRepo) Create(ctx context.Context, run *model.JobRun) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO job_runs (id, job_name, status, started_at, message)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (job_name) WHERE status = 'running' DO NOTHING
		 RETURNING id`,
		run.ID, run.JobName, string(model.JobStatusRunning), run.StartedAt, nullString(run.Message),
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrJobAlreadyRunning
	}
	if err != nil {
		return "", fmt.Errorf("ジョブ実行記録の作成に失敗しました: %w", err)
	}

	return id, nil
}

// FindByID は指定IDの実行記録を取得する。見つからない場合はnilを返す。
func (r *PostgresJobRunRepo) FindByID(ctx context.Context, id string) (*model.JobRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobRunColumns+` FROM job_runs WHERE id = $1`,
		id,
	)

	run, err := scanJobRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブ実行記録の取得に失敗しました: %w", err)
	}

	return run, nil
}

// ExistsRunning は指定ジョブ名のrunning行が存在するかを返す。
func (r *PostgresJobRunRepo) ExistsRunning(ctx context.Context, jobName string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_runs WHERE job_name = $1 AND status = 'running')`,
		jobName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("実行中ジョブの確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Finish はrunning状態の実行記録を終了状態に更新する。
// 既に終了状態の行は更新せず、falseを返す。
func (r *PostgresJobRunRepo) Finish(ctx context.Context, id string, status model.JobStatus, message string, completedAt time.Time, duration string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE job_runs
		 SET status = $2, message = $3, completed_at = $4, duration = $5
		 WHERE id = $1 AND status = 'running'`,
		id, string(status), nullString(message), completedAt, duration,
	)
	if err != nil {
		return false, fmt.Errorf("ジョブ実行記録の更新に失敗しました: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// ListRecentByName は指定ジョブ名の実行記録をstarted_at降順で最大limit件返す。
func (r *PostgresJobRunRepo) ListRecentByName(ctx context.Context, jobName string, limit int) ([]*model.JobRun, error) {
	return r.query(ctx,
		`SELECT `+jobRunColumns+`
		 FROM job_runs
		 WHERE job_name = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		jobName, limit,
	)
}

// ListStartedSince はsince以降に開始した実行記録をstarted_at降順で返す。
func (r *PostgresJobRunRepo) ListStartedSince(ctx context.Context, since time.Time, jobName string) ([]*model.JobRun, error) {
	if jobName == "" {
		return r.query(ctx,
			`SELECT `+jobRunColumns+`
			 FROM job_runs
			 WHERE started_at >= $1
			 ORDER BY started_at DESC`,
			since,
		)
	}
	return r.query(ctx,
		`SELECT `+jobRunColumns+`
		 FROM job_runs
		 WHERE started_at >= $1 AND job_name = $2
		 ORDER BY started_at DESC`,
		since, jobName,
	)
}

// ListByStatus は指定ステータスの実行記録をstarted_at降順で返す。
func (r *PostgresJobRunRepo) ListByStatus(ctx context.Context, status model.JobStatus) ([]*model.JobRun, error) {
	return r.query(ctx,
		`SELECT `+jobRunColumns+`
		 FROM job_runs
		 WHERE status = $1
		 ORDER BY started_at DESC`,
		string(status),
	)
}

// CountByStatus はステータス別の件数を返す。
func (r *PostgresJobRunRepo) CountByStatus(ctx context.Context, jobName string) (map[model.JobStatus]int, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if jobName == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT status, COUNT(*) FROM job_runs GROUP BY status`,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT status, COUNT(*) FROM job_runs WHERE job_name = $1 GROUP BY status`,
			jobName,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("ジョブ統計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ジョブ統計の読み取りに失敗しました: %w", err)
		}
		counts[model.JobStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ジョブ統計の走査に失敗しました: %w", err)
	}

	return counts, nil
}

// DeleteStartedBefore はbeforeより前に開始した実行記録を削除する。
func (r *PostgresJobRunRepo) DeleteStartedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM job_runs WHERE started_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("古いジョブ実行記録の削除に失敗しました: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

func (r *PostgresJobRunRepo) query(ctx context.Context, query string, args ...any) ([]*model.JobRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ジョブ実行記録一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var runs []*model.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ジョブ実行記録の読み取りに失敗しました: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ジョブ実行記録一覧の走査に失敗しました: %w", err)
	}

	return runs, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobRun(s rowScanner) (*model.JobRun, error) {
	run := &model.JobRun{}
	var status string
	var completedAt sql.NullTime
	var duration, message sql.NullString

	if err := s.Scan(&run.ID, &run.JobName, &status, &run.StartedAt, &completedAt, &duration, &message); err != nil {
		return nil, err
	}

	run.Status = model.JobStatus(status)
	run.CompletedAt = nullTimePtr(completedAt)
	run.Duration = nullStringValue(duration)
	run.Message = nullStringValue(message)
	return run, nil
}

// compile-time interface check
var _ JobRunRepository = (*PostgresJobRunRepo)(nil)
