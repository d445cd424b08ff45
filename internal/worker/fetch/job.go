package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/feedline/internal/job"
	"github.com/hitoshi/feedline/internal/model"
	"github.com/hitoshi/feedline/internal/repository"
)

// JobName は全フィード取得ジョブの名前。HTTPトリガーとスケジューラで共有する。
const JobName = "rss-fetch-all"

// NoActiveFeedsMessage は取得対象のフィードがない場合の失敗メッセージ。
const NoActiveFeedsMessage = "No active feeds found"

// BatchFetcher はフィードソースの列から記事を取得する。
type BatchFetcher interface {
	FetchAll(ctx context.Context, sources []model.FeedSource) ([]model.RawEntry, error)
}

// EntrySaver は取得した記事を保存し、新規挿入件数を返す。
type EntrySaver interface {
	Save(ctx context.Context, entries []model.RawEntry) (int, error)
}

// FetchAllJob は有効な全フィードを取得して記事を保存する。
// 保存は全ソースの取得に成功した後にだけ行う。
type FetchAllJob struct {
	feeds   repository.FeedRepository
	fetcher BatchFetcher
	entries EntrySaver
	logger  *slog.Logger
	now     func() time.Time
}

// NewFetchAllJob はFetchAllJobの新しいインスタンスを生成する。
func NewFetchAllJob(
	feeds repository.FeedRepository,
	fetcher BatchFetcher,
	entries EntrySaver,
	logger *slog.Logger,
) *FetchAllJob {
	return &FetchAllJob{
		feeds:   feeds,
		fetcher: fetcher,
		entries: entries,
		logger:  logger,
		now:     time.Now,
	}
}

// Run はjob.Operationとして実行される。
// 有効なフィードがない場合は404の失敗結果を返す。
// 取得や保存の失敗はerrorとして返し、ジョブは失敗として記録される。
func (j *FetchAllJob) Run(ctx context.Context, jobID string) (job.Outcome, error) {
	sources, err := j.feeds.ListActive(ctx)
	if err != nil {
		return job.Outcome{}, fmt.Errorf("有効なフィードの取得に失敗しました: %w", err)
	}
	if len(sources) == 0 {
		j.logger.Info("取得対象のフィードがありません", slog.String("job_id", jobID))
		return job.Fail(http.StatusNotFound, NoActiveFeedsMessage), nil
	}

	raws, err := j.fetcher.FetchAll(ctx, sources)
	if err != nil {
		return job.Outcome{}, err
	}

	inserted, err := j.entries.Save(ctx, raws)
	if err != nil {
		return job.Outcome{}, err
	}

	ids := make([]string, len(sources))
	for i, src := range sources {
		ids[i] = src.ID
	}
	if err := j.feeds.MarkFetched(ctx, ids, j.now().UTC()); err != nil {
		// 記事は保存済みのためジョブは失敗扱いにしない
		j.logger.Error("フィードの取得日時の更新に失敗しました",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	j.logger.Info("全フィードの取得ジョブが完了しました",
		slog.String("job_id", jobID),
		slog.Int("feed_count", len(sources)),
		slog.Int("entry_count", len(raws)),
		slog.Int("inserted", inserted),
	)
	return job.OK(fmt.Sprintf("Successfully processed %d feeds.", len(sources))), nil
}
