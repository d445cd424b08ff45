package handler

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/feedline/internal/job"
	"github.com/hitoshi/feedline/internal/model"
)

// --- モック定義 ---

// mockJobRunner はJobRunnerのモック実装。
// runFnが未設定の場合はopをjob-1として実行する。
type mockJobRunner struct {
	runFn      func(ctx context.Context, jobName string, op job.Operation) (job.Outcome, string, error)
	calledWith string
}

func (m *mockJobRunner) Run(ctx context.Context, jobName string, op job.Operation) (job.Outcome, string, error) {
	m.calledWith = jobName
	if m.runFn != nil {
		return m.runFn(ctx, jobName, op)
	}
	outcome, err := op(ctx, "job-1")
	return outcome, "job-1", err
}

// mockJobRunService はJobRunServiceのモック実装。
type mockJobRunService struct {
	getFn             func(ctx context.Context, jobID string) (*model.JobRun, error)
	recentRunsFn      func(ctx context.Context, jobName string, limit int) ([]*model.JobRun, error)
	runsInLastNDaysFn func(ctx context.Context, days int, jobName string) ([]*model.JobRun, error)
	runningRunsFn     func(ctx context.Context) ([]*model.JobRun, error)
	statsFn           func(ctx context.Context, jobName string) (*model.JobStats, error)
	cancelFn          func(ctx context.Context, jobID, reason string) (*model.JobRun, error)
	cleanupFn         func(ctx context.Context, days int) (int64, error)
}

func (m *mockJobRunService) Get(ctx context.Context, jobID string) (*model.JobRun, error) {
	if m.getFn != nil {
		return m.getFn(ctx, jobID)
	}
	return nil, model.ErrJobRunNotFound
}

func (m *mockJobRunService) RecentRuns(ctx context.Context, jobName string, limit int) ([]*model.JobRun, error) {
	if m.recentRunsFn != nil {
		return m.recentRunsFn(ctx, jobName, limit)
	}
	return nil, nil
}

func (m *mockJobRunService) RunsInLastNDays(ctx context.Context, days int, jobName string) ([]*model.JobRun, error) {
	if m.runsInLastNDaysFn != nil {
		return m.runsInLastNDaysFn(ctx, days, jobName)
	}
	return nil, nil
}

func (m *mockJobRunService) RunningRuns(ctx context.Context) ([]*model.JobRun, error) {
	if m.runningRunsFn != nil {
		return m.runningRunsFn(ctx)
	}
	return nil, nil
}

func (m *mockJobRunService) Stats(ctx context.Context, jobName string) (*model.JobStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, jobName)
	}
	return &model.JobStats{}, nil
}

func (m *mockJobRunService) Cancel(ctx context.Context, jobID, reason string) (*model.JobRun, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, jobID, reason)
	}
	return nil, model.ErrJobRunNotFound
}

func (m *mockJobRunService) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if m.cleanupFn != nil {
		return m.cleanupFn(ctx, days)
	}
	return 0, nil
}

// mockEntryLister はEntryListerのモック実装。
type mockEntryLister struct {
	listFn func(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error)
}

func (m *mockEntryLister) ListSubscribed(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, limit)
	}
	return []model.EntryWithFeed{}, nil
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// mockSessionFinder はmiddleware.SessionFinderのモック実装。
// sessionsに登録されたIDのみ有効なセッションとして返す。
type mockSessionFinder struct {
	sessions map[string]string
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	userID, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

// newTestLogger はテスト用のJSONロガーを生成する。
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// sampleRun はテスト用の実行記録を生成する。
func sampleRun(id string, status model.JobStatus) *model.JobRun {
	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	run := &model.JobRun{
		ID:        id,
		JobName:   "rss-fetch-all",
		Status:    status,
		StartedAt: started,
	}
	if status.IsTerminal() {
		completed := started.Add(90 * time.Second)
		run.CompletedAt = &completed
		run.Duration = "1m 30s"
		run.Message = "done"
	}
	return run
}
