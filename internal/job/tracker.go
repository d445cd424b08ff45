// Package job はジョブ実行記録のライフサイクル管理と、
// 重複実行を防止するガード付き実行を提供する。
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedline/internal/model"
	"github.com/hitoshi/feedline/internal/repository"
)

// 各操作の既定値。
const (
	DefaultCompleteMessage = "Job completed successfully"
	DefaultCancelReason    = "Job cancelled"
	DefaultRecentLimit     = 10
	DefaultHistoryDays     = 7
	DefaultRetentionDays   = 30
)

// Tracker はジョブ実行記録の状態遷移を管理する。
// 状態はrunningから completed / failed / cancelled のいずれかへ1回だけ遷移する。
type Tracker struct {
	repo   repository.JobRunRepository
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewTracker はTrackerの新しいインスタンスを生成する。
func NewTracker(repo repository.JobRunRepository, logger *slog.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// IsRunning は指定ジョブ名のrunning記録が存在するかを返す。
// 時点のチェックであり、排他はStartの条件付き挿入で担保する。
func (t *Tracker) IsRunning(ctx context.Context, jobName string) (bool, error) {
	running, err := t.repo.ExistsRunning(ctx, jobName)
	if err != nil {
		return false, fmt.Errorf("ジョブ実行状態の確認に失敗しました: %w", err)
	}
	return running, nil
}

// Start はrunning状態の実行記録を作成し、そのIDを返す。
// 同名ジョブが実行中の場合は model.ErrJobAlreadyRunning を返す。
func (t *Tracker) Start(ctx context.Context, jobName string) (string, error) {
	if jobName == "" {
		return "", errors.New("ジョブ名が指定されていません")
	}

	run := &model.JobRun{
		ID:        t.newID(),
		JobName:   jobName,
		Status:    model.JobStatusRunning,
		StartedAt: t.now().UTC(),
	}

	id, err := t.repo.Create(ctx, run)
	if err != nil {
		if errors.Is(err, model.ErrJobAlreadyRunning) {
			return "", fmt.Errorf("%s: %w", jobName, err)
		}
		return "", fmt.Errorf("ジョブ実行記録の作成に失敗しました: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("ジョブ実行記録の作成結果が空です: %s", jobName)
	}

	t.logger.Info("ジョブを開始しました",
		slog.String("job_name", jobName),
		slog.String("job_id", id),
	)
	return id, nil
}

// Complete は実行記録を完了状態にする。messageが空の場合は既定メッセージを使う。
func (t *Tracker) Complete(ctx context.Context, jobID, message string) (*model.JobRun, error) {
	if message == "" {
		message = DefaultCompleteMessage
	}
	return t.finish(ctx, jobID, model.JobStatusCompleted, message)
}

// Fail は実行記録を失敗状態にする。
func (t *Tracker) Fail(ctx context.Context, jobID, errorMessage string) (*model.JobRun, error) {
	return t.finish(ctx, jobID, model.JobStatusFailed, errorMessage)
}

// Cancel は実行記録を中止状態にする。reasonが空の場合は既定の理由を使う。
func (t *Tracker) Cancel(ctx context.Context, jobID, reason string) (*model.JobRun, error) {
	if reason == "" {
		reason = DefaultCancelReason
	}
	return t.finish(ctx, jobID, model.JobStatusCancelled, reason)
}

// finish は開始日時から所要時間を算出し、running状態の記録を終了状態に更新する。
// 既に終了している記録は更新せず model.ErrJobRunNotRunning を返す。
func (t *Tracker) finish(ctx context.Context, jobID string, status model.JobStatus, message string) (*model.JobRun, error) {
	run, err := t.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("ジョブ実行記録の取得に失敗しました: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%s: %w", jobID, model.ErrJobRunNotFound)
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%s (%s): %w", jobID, run.Status, model.ErrJobRunNotRunning)
	}

	completedAt := t.now().UTC()
	duration := FormatDuration(completedAt.Sub(run.StartedAt))

	updated, err := t.repo.Finish(ctx, jobID, status, message, completedAt, duration)
	if err != nil {
		return nil, fmt.Errorf("ジョブ実行記録の更新に失敗しました: %w", err)
	}
	if !updated {
		return nil, fmt.Errorf("%s: %w", jobID, model.ErrJobRunNotRunning)
	}

	run.Status = status
	run.Message = message
	run.CompletedAt = &completedAt
	run.Duration = duration

	level := slog.LevelInfo
	if status == model.JobStatusFailed {
		level = slog.LevelWarn
	}
	t.logger.Log(ctx, level, "ジョブが終了しました",
		slog.String("job_name", run.JobName),
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
		slog.String("duration", duration),
		slog.String("message", message),
	)

	return run, nil
}

// Get は指定IDの実行記録を返す。見つからない場合は model.ErrJobRunNotFound を返す。
func (t *Tracker) Get(ctx context.Context, jobID string) (*model.JobRun, error) {
	run, err := t.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("ジョブ実行記録の取得に失敗しました: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%s: %w", jobID, model.ErrJobRunNotFound)
	}
	return run, nil
}

// RecentRuns は指定ジョブの直近の実行記録を新しい順に返す。
func (t *Tracker) RecentRuns(ctx context.Context, jobName string, limit int) ([]*model.JobRun, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	runs, err := t.repo.ListRecentByName(ctx, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("直近のジョブ実行記録の取得に失敗しました: %w", err)
	}
	return runs, nil
}

// RunsInLastNDays は直近days日に開始した実行記録を新しい順に返す。
// jobNameが空の場合は全ジョブを対象とする。
func (t *Tracker) RunsInLastNDays(ctx context.Context, days int, jobName string) ([]*model.JobRun, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	since := t.now().UTC().AddDate(0, 0, -days)
	runs, err := t.repo.ListStartedSince(ctx, since, jobName)
	if err != nil {
		return nil, fmt.Errorf("ジョブ実行履歴の取得に失敗しました: %w", err)
	}
	return runs, nil
}

// RunningRuns は実行中の記録を新しい順に返す。
func (t *Tracker) RunningRuns(ctx context.Context) ([]*model.JobRun, error) {
	runs, err := t.repo.ListByStatus(ctx, model.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("実行中ジョブの取得に失敗しました: %w", err)
	}
	return runs, nil
}

// Stats はステータス別の実行件数を返す。jobNameが空の場合は全ジョブを対象とする。
func (t *Tracker) Stats(ctx context.Context, jobName string) (*model.JobStats, error) {
	counts, err := t.repo.CountByStatus(ctx, jobName)
	if err != nil {
		return nil, fmt.Errorf("ジョブ統計の取得に失敗しました: %w", err)
	}

	stats := &model.JobStats{
		Running:   counts[model.JobStatusRunning],
		Completed: counts[model.JobStatusCompleted],
		Failed:    counts[model.JobStatusFailed],
		Cancelled: counts[model.JobStatusCancelled],
	}
	stats.Total = stats.Running + stats.Completed + stats.Failed + stats.Cancelled
	return stats, nil
}

// CleanupOlderThan はdays日より前に開始した実行記録を削除し、削除件数を返す。
func (t *Tracker) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := t.now().UTC().AddDate(0, 0, -days)

	deleted, err := t.repo.DeleteStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("古いジョブ実行記録の削除に失敗しました: %w", err)
	}

	t.logger.Info("古いジョブ実行記録を削除しました",
		slog.Int("retention_days", days),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}
