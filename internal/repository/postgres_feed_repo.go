package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/feedline/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// ListActive はis_active = trueのフィードを作成日時の昇順で返す。
// 返却順がそのままフェッチ順になる。
func (r *PostgresFeedRepo) ListActive(ctx context.Context) ([]model.FeedSource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, url
		 FROM feeds
		 WHERE is_active = true
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("アクティブなフィードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []model.FeedSource
	for rows.Next() {
		var src model.FeedSource
		if err := rows.Scan(&src.ID, &src.URL); err != nil {
			return nil, fmt.Errorf("アクティブなフィードの読み取りに失敗しました: %w", err)
		}
		sources = append(sources, src)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アクティブなフィードの走査に失敗しました: %w", err)
	}

	return sources, nil
}

// MarkFetched は指定フィードのlast_fetchedを更新する。
func (r *PostgresFeedRepo) MarkFetched(ctx context.Context, feedIDs []string, fetchedAt time.Time) error {
	if len(feedIDs) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET last_fetched = $2, updated_at = now()
		 WHERE id = ANY($1::uuid[])`,
		pq.Array(feedIDs), fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの最終フェッチ日時の更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTimePtr はsql.NullTimeを*time.Timeに変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
