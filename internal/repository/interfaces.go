// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/feedline/internal/model"
)

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行は外部の認証プロバイダーが行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// FeedRepository はフィードデータの永続化インターフェース。
type FeedRepository interface {
	// ListActive はis_active = trueのフィードをフェッチ対象として返す。
	ListActive(ctx context.Context) ([]model.FeedSource, error)
	// MarkFetched は指定フィードのlast_fetchedを更新する。
	MarkFetched(ctx context.Context, feedIDs []string, fetchedAt time.Time) error
}

// EntryRepository は記事データの永続化インターフェース。
type EntryRepository interface {
	// InsertBatch は記事を1トランザクションで挿入する。
	// (feed_id, guid) が既に存在する記事はスキップし、挿入件数を返す。
	InsertBatch(ctx context.Context, entries []*model.Entry) (int, error)
	// ListSubscribedByUser はユーザーが購読しているフィードの記事を
	// pub_date降順、created_at降順で返す。
	ListSubscribedByUser(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error)
}

// JobRunRepository はジョブ実行記録の永続化インターフェース。
type JobRunRepository interface {
	// Create は実行中のジョブ実行記録を挿入し、作成されたIDを返す。
	// 同名ジョブのrunning行が既に存在する場合は挿入せず model.ErrJobAlreadyRunning を返す。
	Create(ctx context.Context, run *model.JobRun) (string, error)
	// FindByID は指定IDのジョブ実行記録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.JobRun, error)
	// ExistsRunning は指定ジョブ名のrunning行が存在するかを返す。
	ExistsRunning(ctx context.Context, jobName string) (bool, error)
	// Finish はrunning状態のジョブ実行記録を終了状態に更新する。
	// 対象がrunningでなかった場合はfalseを返す。
	Finish(ctx context.Context, id string, status model.JobStatus, message string, completedAt time.Time, duration string) (bool, error)
	// ListRecentByName は指定ジョブ名の実行記録をstarted_at降順で最大limit件返す。
	ListRecentByName(ctx context.Context, jobName string, limit int) ([]*model.JobRun, error)
	// ListStartedSince はsince以降に開始した実行記録をstarted_at降順で返す。
	// jobNameが空の場合は全ジョブを対象とする。
	ListStartedSince(ctx context.Context, since time.Time, jobName string) ([]*model.JobRun, error)
	// ListByStatus は指定ステータスの実行記録をstarted_at降順で返す。
	ListByStatus(ctx context.Context, status model.JobStatus) ([]*model.JobRun, error)
	// CountByStatus はステータス別の件数を返す。jobNameが空の場合は全ジョブを対象とする。
	CountByStatus(ctx context.Context, jobName string) (map[model.JobStatus]int, error)
	// DeleteStartedBefore はbeforeより前に開始した実行記録を削除し、削除件数を返す。
	DeleteStartedBefore(ctx context.Context, before time.Time) (int64, error)
}
