package job

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/feedline/internal/model"
	"github.com/hitoshi/feedline/internal/repository"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// memJobRunRepo はJobRunRepositoryのインメモリ実装。
// running行の一意性をCreateで原子的に検査する。
type memJobRunRepo struct {
	mu   sync.Mutex
	runs map[string]*model.JobRun

	// 設定された場合は対応する操作がこのエラーを返す
	existsErr error
	createErr error
	finishErr error
	// 空でない場合、finishErrはこの状態への更新にだけ適用する
	finishErrStatus model.JobStatus
}

func newMemJobRunRepo() *memJobRunRepo {
	return &memJobRunRepo{runs: make(map[string]*model.JobRun)}
}

func (m *memJobRunRepo) Create(_ context.Context, run *model.JobRun) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	for _, r := range m.runs {
		if r.JobName == run.JobName && r.Status == model.JobStatusRunning {
			return "", model.ErrJobAlreadyRunning
		}
	}
	c := *run
	m.runs[run.ID] = &c
	return run.ID, nil
}

func (m *memJobRunRepo) FindByID(_ context.Context, id string) (*model.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (m *memJobRunRepo) ExistsRunning(_ context.Context, jobName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	for _, r := range m.runs {
		if r.JobName == jobName && r.Status == model.JobStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

func (m *memJobRunRepo) Finish(_ context.Context, id string, status model.JobStatus, message string, completedAt time.Time, duration string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishErr != nil && (m.finishErrStatus == "" || m.finishErrStatus == status) {
		return false, m.finishErr
	}
	r, ok := m.runs[id]
	if !ok || r.Status != model.JobStatusRunning {
		return false, nil
	}
	r.Status = status
	r.Message = message
	r.CompletedAt = &completedAt
	r.Duration = duration
	return true, nil
}

func (m *memJobRunRepo) sorted(keep func(*model.JobRun) bool) []*model.JobRun {
	var out []*model.JobRun
	for _, r := range m.runs {
		if keep(r) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (m *memJobRunRepo) ListRecentByName(_ context.Context, jobName string, limit int) ([]*model.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(r *model.JobRun) bool { return r.JobName == jobName })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobRunRepo) ListStartedSince(_ context.Context, since time.Time, jobName string) ([]*model.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r *model.JobRun) bool {
		return !r.StartedAt.Before(since) && (jobName == "" || r.JobName == jobName)
	}), nil
}

func (m *memJobRunRepo) ListByStatus(_ context.Context, status model.JobStatus) ([]*model.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r *model.JobRun) bool { return r.Status == status }), nil
}

func (m *memJobRunRepo) CountByStatus(_ context.Context, jobName string) (map[model.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[model.JobStatus]int)
	for _, r := range m.runs {
		if jobName == "" || r.JobName == jobName {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (m *memJobRunRepo) DeleteStartedBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.runs {
		if r.StartedAt.Before(before) {
			delete(m.runs, id)
			n++
		}
	}
	return n, nil
}

func (m *memJobRunRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

var _ repository.JobRunRepository = (*memJobRunRepo)(nil)

// fakeClock はテスト用の時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestTracker はインメモリリポジトリと固定時計を使うTrackerを返す。
func newTestTracker(buf *bytes.Buffer) (*Tracker, *memJobRunRepo, *fakeClock) {
	repo := newMemJobRunRepo()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(repo, newTestLogger(buf))
	tr.now = clock.Now
	return tr, repo, clock
}

// mockRecorder はmetrics.JobRecorderのテスト用モック。
type mockRecorder struct {
	mu        sync.Mutex
	runs      map[string]int // "job/status" -> 件数
	conflicts map[string]int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{runs: map[string]int{}, conflicts: map[string]int{}}
}

func (m *mockRecorder) RecordJobRun(jobName, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[jobName+"/"+status]++
}

func (m *mockRecorder) RecordJobConflict(jobName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[jobName]++
}
