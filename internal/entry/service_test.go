package entry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/feedline/internal/metrics"
	"github.com/hitoshi/feedline/internal/model"
)

// --- モック定義 ---

type mockEntryRepo struct {
	insertBatchFunc func(ctx context.Context, entries []*model.Entry) (int, error)
	listFunc        func(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error)
	inserted        []*model.Entry
}

func (m *mockEntryRepo) InsertBatch(ctx context.Context, entries []*model.Entry) (int, error) {
	m.inserted = append(m.inserted, entries...)
	if m.insertBatchFunc != nil {
		return m.insertBatchFunc(ctx, entries)
	}
	return len(entries), nil
}

func (m *mockEntryRepo) ListSubscribedByUser(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, userID, limit)
	}
	return nil, nil
}

// upperSanitizer はサニタイズが呼ばれたことを判別できるようにするモック。
type upperSanitizer struct {
	calls int
}

func (s *upperSanitizer) Sanitize(rawHTML string) string {
	s.calls++
	return "[sanitized]" + rawHTML
}

type mockRecorder struct {
	inserted int
}

func (m *mockRecorder) RecordFetchSuccess(string) {}
func (m *mockRecorder) RecordFetchFailure(string, string) {}
func (m *mockRecorder) RecordHTTPStatus(int) {}
func (m *mockRecorder) RecordFetchLatency(time.Duration) {}
func (m *mockRecorder) RecordEntriesInserted(count int) { m.inserted += count }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// recにはメトリクスを記録しない場合はnilを渡す。
func newTestService(repo *mockEntryRepo, sanitizer *upperSanitizer, rec metrics.FetchRecorder, buf *bytes.Buffer) *Service {
	svc := NewService(repo, sanitizer, rec, newTestLogger(buf))
	svc.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	n := 0
	svc.newID = func() string {
		n++
		return "entry-" + strings.Repeat("x", n)
	}
	return svc
}

// --- テスト ---

func TestNewService_ReturnsNonNil(t *testing.T) {
	var buf bytes.Buffer
	if NewService(&mockEntryRepo{}, &upperSanitizer{}, nil, newTestLogger(&buf)) == nil {
		t.Fatal("NewService は nil を返してはならない")
	}
}

func TestSave_MapsRawEntries(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockEntryRepo{}
	sanitizer := &upperSanitizer{}
	rec := &mockRecorder{}
	svc := newTestService(repo, sanitizer, rec, &buf)

	pub := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	raws := []model.RawEntry{
		{FeedID: "f1", Link: "https://a/1", GUID: "g1", Title: "html", PublishedAt: &pub,
			Author: "Alice", Description: "<p>x</p>", IsDescriptionHTML: true},
		{FeedID: "f1", Link: "https://a/2", GUID: "g2", Title: "plain", Description: "text"},
	}

	inserted, err := svc.Save(context.Background(), raws)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}
	if rec.inserted != 2 {
		t.Errorf("RecordEntriesInserted の合計 = %d, want 2", rec.inserted)
	}
	if len(repo.inserted) != 2 {
		t.Fatalf("InsertBatch に渡された件数 = %d, want 2", len(repo.inserted))
	}

	first := repo.inserted[0]
	if first.FeedID != "f1" || first.GUID != "g1" || first.Link != "https://a/1" || first.Title != "html" {
		t.Errorf("フィールドの写像が不正: %+v", first)
	}
	if first.Description != "[sanitized]<p>x</p>" {
		t.Errorf("HTML本文はサニタイズされるべき: %q", first.Description)
	}
	if first.PubDate == nil || !first.PubDate.Equal(pub) {
		t.Errorf("PubDate = %v, want %v", first.PubDate, pub)
	}
	if first.ID == "" || first.CreatedAt.IsZero() {
		t.Error("ID と CreatedAt は設定されるべき")
	}

	second := repo.inserted[1]
	if second.Description != "text" {
		t.Errorf("プレーンテキストはサニタイズしない: %q", second.Description)
	}
	if sanitizer.calls != 1 {
		t.Errorf("Sanitize 呼び出し回数 = %d, want 1", sanitizer.calls)
	}
}

func TestSave_SkipsEmptyGUID(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockEntryRepo{}
	svc := newTestService(repo, &upperSanitizer{}, nil, &buf)

	inserted, err := svc.Save(context.Background(), []model.RawEntry{
		{FeedID: "f1", GUID: ""},
		{FeedID: "f1", GUID: "g", Link: "https://a"},
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if inserted != 1 || len(repo.inserted) != 1 {
		t.Errorf("GUIDが空の記事はスキップされるべき: inserted=%d passed=%d", inserted, len(repo.inserted))
	}
	if !strings.Contains(buf.String(), `"skipped":1`) {
		t.Errorf("スキップ件数がログに出力されるべき: %s", buf.String())
	}
}

func TestSave_WithoutRecorder(t *testing.T) {
	var buf bytes.Buffer
	svc := NewService(&mockEntryRepo{}, &upperSanitizer{}, nil, newTestLogger(&buf))

	inserted, err := svc.Save(context.Background(), []model.RawEntry{
		{FeedID: "f1", GUID: "g1", Link: "https://a"},
		{FeedID: "f1", GUID: "g2", Link: "https://b"},
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}
}

func TestSave_EmptyInputDoesNotTouchRepo(t *testing.T) {
	var buf bytes.Buffer
	called := false
	repo := &mockEntryRepo{insertBatchFunc: func(ctx context.Context, entries []*model.Entry) (int, error) {
		called = true
		return 0, nil
	}}
	svc := newTestService(repo, &upperSanitizer{}, nil, &buf)

	inserted, err := svc.Save(context.Background(), nil)
	if err != nil || inserted != 0 {
		t.Errorf("Save(nil) = (%d, %v), want (0, nil)", inserted, err)
	}
	if called {
		t.Error("空入力で InsertBatch を呼んではならない")
	}
}

func TestSave_DuplicatesAreCounted(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockEntryRepo{insertBatchFunc: func(ctx context.Context, entries []*model.Entry) (int, error) {
		return 1, nil
	}}
	svc := newTestService(repo, &upperSanitizer{}, nil, &buf)

	inserted, err := svc.Save(context.Background(), []model.RawEntry{
		{FeedID: "f1", GUID: "a"}, {FeedID: "f1", GUID: "b"}, {FeedID: "f1", GUID: "c"},
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if inserted != 1 {
		t.Errorf("inserted = %d, want 1", inserted)
	}
	if !strings.Contains(buf.String(), `"duplicates":2`) {
		t.Errorf("重複件数がログに出力されるべき: %s", buf.String())
	}
}

func TestSave_RepoError(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection reset")
	repo := &mockEntryRepo{insertBatchFunc: func(ctx context.Context, entries []*model.Entry) (int, error) {
		return 0, dbErr
	}}
	svc := newTestService(repo, &upperSanitizer{}, nil, &buf)

	_, err := svc.Save(context.Background(), []model.RawEntry{{FeedID: "f1", GUID: "a"}})
	if !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want wrapping %v", err, dbErr)
	}
}

func TestSave_TruncatesLongAuthor(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockEntryRepo{}
	svc := newTestService(repo, &upperSanitizer{}, nil, &buf)

	long := strings.Repeat("著", 300)
	if _, err := svc.Save(context.Background(), []model.RawEntry{{FeedID: "f1", GUID: "a", Author: long}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := []rune(repo.inserted[0].Author); len(got) != 255 {
		t.Errorf("Author の長さ = %d, want 255", len(got))
	}
}

func TestListSubscribed_Limit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"0は既定値", 0, DefaultListLimit},
		{"負数は既定値", -1, DefaultListLimit},
		{"指定値", 20, 20},
		{"上限超過", 10000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			var gotLimit int
			repo := &mockEntryRepo{listFunc: func(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error) {
				gotLimit = limit
				return nil, nil
			}}
			svc := newTestService(repo, &upperSanitizer{}, nil, &buf)

			entries, err := svc.ListSubscribed(context.Background(), "user-1", tt.limit)
			if err != nil {
				t.Fatalf("ListSubscribed() error = %v", err)
			}
			if entries == nil {
				t.Error("結果がない場合も nil ではなく空スライスを返すべき")
			}
			if gotLimit != tt.want {
				t.Errorf("limit = %d, want %d", gotLimit, tt.want)
			}
		})
	}
}

func TestListSubscribed_RepoError(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("timeout")
	repo := &mockEntryRepo{listFunc: func(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error) {
		return nil, dbErr
	}}
	svc := newTestService(repo, &upperSanitizer{}, nil, &buf)

	if _, err := svc.ListSubscribed(context.Background(), "user-1", 10); !errors.Is(err, dbErr) {
		t.Errorf("err = %v, want wrapping %v", err, dbErr)
	}
}
