package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/feedline/internal/metrics"
	"github.com/hitoshi/feedline/internal/model"
)

const (
	// DefaultUserAgent はフェッチ時に名乗るUser-Agent。
	DefaultUserAgent = "Feedline/1.0 RSS Aggregator"
	// acceptHeader はRSS/Atom/XMLのメディアタイプ。
	acceptHeader = "application/rss+xml, application/atom+xml, application/xml, text/xml"
	// defaultMaxBodySize はレスポンスボディの既定上限（5MiB）。
	defaultMaxBodySize int64 = 5 << 20
)

// SSRFValidator はフェッチ先URLの検証と安全なHTTPクライアントの生成を行う。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// EntryNormalizer はフィード本文を記事の列に変換する。
type EntryNormalizer interface {
	Normalize(body []byte) []model.RawEntry
}

// Options はFetcherの動作設定。ゼロ値の項目は既定値を使う。
type Options struct {
	Timeout     time.Duration
	MaxBodySize int64
	UserAgent   string
}

// Fetcher はフィードソースの列を順番に取得し、正規化した記事をまとめて返す。
//
// 1件でも取得に失敗したらその時点で打ち切り、それまでに取得した記事も返さない。
// 本文の解析失敗は取得失敗として扱わず、そのソースを0件として続行する。
type Fetcher struct {
	guard       SSRFValidator
	normalizer  EntryNormalizer
	recorder    metrics.FetchRecorder
	logger      *slog.Logger
	client      *http.Client
	maxBodySize int64
	userAgent   string
}

// NewFetcher はFetcherの新しいインスタンスを生成する。recorderはnilでもよい。
func NewFetcher(
	guard SSRFValidator,
	normalizer EntryNormalizer,
	recorder metrics.FetchRecorder,
	logger *slog.Logger,
	opts Options,
) *Fetcher {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &Fetcher{
		guard:       guard,
		normalizer:  normalizer,
		recorder:    recorder,
		logger:      logger,
		client:      guard.NewSafeClient(opts.Timeout),
		maxBodySize: opts.MaxBodySize,
		userAgent:   opts.UserAgent,
	}
}

// FetchAll はsourcesを先頭から1件ずつ取得し、記事をソース順に連結して返す。
// 失敗した場合は*FetchErrorを返し、記事は1件も返さない。
func (f *Fetcher) FetchAll(ctx context.Context, sources []model.FeedSource) ([]model.RawEntry, error) {
	start := time.Now()
	all := make([]model.RawEntry, 0)

	for i, src := range sources {
		entries, err := f.fetchOne(ctx, src)
		if err != nil {
			f.logger.Error("フィードの取得に失敗したため残りのフェッチを中止します",
				slog.String("feed_id", src.ID),
				slog.String("feed_url", src.URL),
				slog.Int("position", i+1),
				slog.Int("feed_count", len(sources)),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		all = append(all, entries...)
	}

	f.logger.Info("フィードの取得が完了しました",
		slog.Int("feed_count", len(sources)),
		slog.Int("entry_count", len(all)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return all, nil
}

// fetchOne は1つのソースを取得して正規化し、FeedIDを付与する。
func (f *Fetcher) fetchOne(ctx context.Context, src model.FeedSource) ([]model.RawEntry, error) {
	start := time.Now()

	if err := f.guard.ValidateURL(src.URL); err != nil {
		f.recordFailure(src.ID, "ssrf")
		return nil, &FetchError{FeedID: src.ID, URL: src.URL, Err: fmt.Errorf("URL検証に失敗: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		f.recordFailure(src.ID, "transport")
		return nil, &FetchError{FeedID: src.ID, URL: src.URL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		f.recordFailure(src.ID, "transport")
		return nil, &FetchError{FeedID: src.ID, URL: src.URL, Err: err}
	}
	defer resp.Body.Close()

	if f.recorder != nil {
		f.recorder.RecordHTTPStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.recordFailure(src.ID, "status")
		return nil, &FetchError{FeedID: src.ID, URL: src.URL, StatusCode: resp.StatusCode, Err: ErrUnexpectedStatus}
	}

	// 上限+1バイトまで読み、超過を検出する
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		f.recordFailure(src.ID, "read")
		return nil, &FetchError{FeedID: src.ID, URL: src.URL, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > f.maxBodySize {
		f.recordFailure(src.ID, "size_limit")
		return nil, &FetchError{FeedID: src.ID, URL: src.URL, StatusCode: resp.StatusCode, Err: ErrBodyTooLarge}
	}

	entries := f.normalizer.Normalize(body)
	for i := range entries {
		entries[i].FeedID = src.ID
	}

	elapsed := time.Since(start)
	if f.recorder != nil {
		f.recorder.RecordFetchSuccess(src.ID)
		f.recorder.RecordFetchLatency(elapsed)
	}
	f.logger.Debug("フィードを取得しました",
		slog.String("feed_id", src.ID),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("entry_count", len(entries)),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	)
	return entries, nil
}

func (f *Fetcher) recordFailure(feedID, reason string) {
	if f.recorder != nil {
		f.recorder.RecordFetchFailure(feedID, reason)
	}
}
