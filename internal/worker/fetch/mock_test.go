package fetch

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/feedline/internal/job"
	"github.com/hitoshi/feedline/internal/model"
)

// --- モック定義 ---

// mockSSRF はSSRFValidatorのテスト用モック。
// httptestサーバーはループバックで待ち受けるため、通常のクライアントを返す。
type mockSSRF struct {
	validateFunc func(rawURL string) error
}

func (m *mockSSRF) ValidateURL(rawURL string) error {
	if m.validateFunc != nil {
		return m.validateFunc(rawURL)
	}
	return nil
}

func (m *mockSSRF) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// mockFetchRecorder はFetchRecorderのテスト用モック。
type mockFetchRecorder struct {
	mu        sync.Mutex
	successes int
	failures  map[string]int
	statuses  []int
	latencies int
}

func newMockFetchRecorder() *mockFetchRecorder {
	return &mockFetchRecorder{failures: make(map[string]int)}
}

func (m *mockFetchRecorder) RecordFetchSuccess(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *mockFetchRecorder) RecordFetchFailure(_ string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reason]++
}

func (m *mockFetchRecorder) RecordHTTPStatus(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, statusCode)
}

func (m *mockFetchRecorder) RecordFetchLatency(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *mockFetchRecorder) RecordEntriesInserted(int) {}

// mockFeedRepo はFeedRepositoryのテスト用モック。
type mockFeedRepo struct {
	listActiveFunc  func(ctx context.Context) ([]model.FeedSource, error)
	markFetchedFunc func(ctx context.Context, ids []string, fetchedAt time.Time) error
	markedIDs       []string
}

func (m *mockFeedRepo) ListActive(ctx context.Context) ([]model.FeedSource, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx)
	}
	return nil, nil
}

func (m *mockFeedRepo) MarkFetched(ctx context.Context, ids []string, fetchedAt time.Time) error {
	m.markedIDs = append(m.markedIDs, ids...)
	if m.markFetchedFunc != nil {
		return m.markFetchedFunc(ctx, ids, fetchedAt)
	}
	return nil
}

// mockBatchFetcher はBatchFetcherのテスト用モック。
type mockBatchFetcher struct {
	fetchAllFunc func(ctx context.Context, sources []model.FeedSource) ([]model.RawEntry, error)
	calls        int
}

func (m *mockBatchFetcher) FetchAll(ctx context.Context, sources []model.FeedSource) ([]model.RawEntry, error) {
	m.calls++
	if m.fetchAllFunc != nil {
		return m.fetchAllFunc(ctx, sources)
	}
	return nil, nil
}

// mockEntrySaver はEntrySaverのテスト用モック。
type mockEntrySaver struct {
	saveFunc func(ctx context.Context, entries []model.RawEntry) (int, error)
	saved    []model.RawEntry
	calls    int
}

func (m *mockEntrySaver) Save(ctx context.Context, entries []model.RawEntry) (int, error) {
	m.calls++
	m.saved = append(m.saved, entries...)
	if m.saveFunc != nil {
		return m.saveFunc(ctx, entries)
	}
	return len(entries), nil
}

// mockRunner はGuardedRunnerのテスト用モック。
type mockRunner struct {
	runFunc func(ctx context.Context, jobName string, op job.Operation) (job.Outcome, string, error)
	mu      sync.Mutex
	names   []string
}

func (m *mockRunner) Run(ctx context.Context, jobName string, op job.Operation) (job.Outcome, string, error) {
	m.mu.Lock()
	m.names = append(m.names, jobName)
	m.mu.Unlock()
	if m.runFunc != nil {
		return m.runFunc(ctx, jobName, op)
	}
	outcome, err := op(ctx, "job-1")
	return outcome, "job-1", err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
