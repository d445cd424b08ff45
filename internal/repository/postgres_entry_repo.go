package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedline/internal/model"
)

// PostgresEntryRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresEntryRepo struct {
	db *sql.DB
}

// NewPostgresEntryRepo はPostgresEntryRepoを生成する。
func NewPostgresEntryRepo(db *sql.DB) *PostgresEntryRepo {
	return &PostgresEntryRepo{db: db}
}

// InsertBatch は記事を1トランザクションで挿入する。
// (feed_id, guid) のユニーク制約に衝突した記事はON CONFLICT DO NOTHINGでスキップする。
// いずれかの挿入が失敗した場合はロールバックし、1件も保存しない。
func (r *PostgresEntryRepo) InsertBatch(ctx context.Context, entries []*model.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (id, feed_id, title, link, description, is_description_html,
		                      author, guid, pub_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (feed_id, guid) DO NOTHING`,
	)
	if err != nil {
		return 0, fmt.Errorf("記事挿入ステートメントの準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		result, err := stmt.ExecContext(ctx,
			e.ID, e.FeedID, e.Title, e.Link,
			nullString(e.Description), e.IsDescriptionHTML,
			nullString(e.Author), e.GUID, e.PubDate,
			e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("記事の挿入に失敗しました (guid=%s): %w", e.GUID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("挿入件数の取得に失敗しました: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("記事挿入のコミットに失敗しました: %w", err)
	}

	return inserted, nil
}

// ListSubscribedByUser はユーザーが購読しているフィードの記事をフィード情報付きで返す。
func (r *PostgresEntryRepo) ListSubscribedByUser(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.feed_id, e.title, e.link, e.description, e.is_description_html,
		        e.author, e.guid, e.pub_date, e.is_read, e.is_bookmarked,
		        e.created_at, e.updated_at,
		        f.id, f.title, f.url, f.description, f.site_url, f.favicon_url,
		        f.last_fetched, f.is_active, f.created_at, f.updated_at
		 FROM entries e
		 INNER JOIN feeds f ON e.feed_id = f.id
		 INNER JOIN user_feeds uf ON f.id = uf.feed_id
		 WHERE uf.user_id = $1
		 ORDER BY e.pub_date DESC NULLS LAST, e.created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("購読中フィードの記事取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var results []model.EntryWithFeed
	for rows.Next() {
		var ewf model.EntryWithFeed
		var entryDesc, author, feedDesc, siteURL, faviconURL sql.NullString
		var pubDate, lastFetched sql.NullTime

		if err := rows.Scan(
			&ewf.ID, &ewf.FeedID, &ewf.Title, &ewf.Link, &entryDesc, &ewf.IsDescriptionHTML,
			&author, &ewf.GUID, &pubDate, &ewf.IsRead, &ewf.IsBookmarked,
			&ewf.CreatedAt, &ewf.UpdatedAt,
			&ewf.Feed.ID, &ewf.Feed.Title, &ewf.Feed.URL, &feedDesc, &siteURL, &faviconURL,
			&lastFetched, &ewf.Feed.IsActive, &ewf.Feed.CreatedAt, &ewf.Feed.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("購読中フィードの記事の読み取りに失敗しました: %w", err)
		}

		ewf.Description = nullStringValue(entryDesc)
		ewf.Author = nullStringValue(author)
		ewf.PubDate = nullTimePtr(pubDate)
		ewf.Feed.Description = nullStringValue(feedDesc)
		ewf.Feed.SiteURL = nullStringValue(siteURL)
		ewf.Feed.FaviconURL = nullStringValue(faviconURL)
		ewf.Feed.LastFetched = nullTimePtr(lastFetched)

		results = append(results, ewf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読中フィードの記事の走査に失敗しました: %w", err)
	}

	return results, nil
}

// compile-time interface check
var _ EntryRepository = (*PostgresEntryRepo)(nil)
