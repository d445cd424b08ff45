// Package entry はフェッチした記事の保存と、購読中フィードの記事一覧を提供する。
package entry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/feedline/internal/metrics"
	"github.com/hitoshi/feedline/internal/model"
	"github.com/hitoshi/feedline/internal/repository"
)

const (
	// DefaultListLimit は一覧の既定件数。
	DefaultListLimit = 100
	// maxListLimit は一覧で指定できる最大件数。
	maxListLimit = 500
	// maxAuthorLength はentries.authorの列幅。
	maxAuthorLength = 255
)

// Sanitizer はHTML本文を無害化する。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// Service は記事の保存と参照を行う。
type Service struct {
	repo      repository.EntryRepository
	sanitizer Sanitizer
	recorder  metrics.FetchRecorder
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(
	repo repository.EntryRepository,
	sanitizer Sanitizer,
	recorder metrics.FetchRecorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Save は正規化済みの記事を保存し、新規に挿入された件数を返す。
// GUIDが空の記事は重複排除できないため保存しない。
// HTML本文はサニタイズしてから保存する。既存の(feed_id, guid)は上書きしない。
func (s *Service) Save(ctx context.Context, raws []model.RawEntry) (int, error) {
	now := s.now().UTC()
	entries := make([]*model.Entry, 0, len(raws))
	skipped := 0

	for _, raw := range raws {
		if raw.GUID == "" {
			skipped++
			continue
		}
		entries = append(entries, s.toEntry(raw, now))
	}

	if skipped > 0 {
		s.logger.Warn("GUIDもリンクもない記事をスキップしました",
			slog.Int("skipped", skipped),
		)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	inserted, err := s.repo.InsertBatch(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("記事の保存に失敗しました: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordEntriesInserted(inserted)
	}
	s.logger.Info("記事を保存しました",
		slog.Int("received", len(raws)),
		slog.Int("inserted", inserted),
		slog.Int("duplicates", len(entries)-inserted),
	)
	return inserted, nil
}

func (s *Service) toEntry(raw model.RawEntry, now time.Time) *model.Entry {
	description := raw.Description
	if raw.IsDescriptionHTML {
		description = s.sanitizer.Sanitize(description)
	}

	return &model.Entry{
		ID:                s.newID(),
		FeedID:            raw.FeedID,
		Title:             raw.Title,
		Link:              raw.Link,
		Description:       description,
		IsDescriptionHTML: raw.IsDescriptionHTML,
		Author:            truncateRunes(raw.Author, maxAuthorLength),
		GUID:              raw.GUID,
		PubDate:           raw.PublishedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ListSubscribed はユーザーが購読しているフィードの記事を新しい順に返す。
// limitが0以下の場合は既定値、上限を超える場合は上限に丸める。
func (s *Service) ListSubscribed(ctx context.Context, userID string, limit int) ([]model.EntryWithFeed, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	entries, err := s.repo.ListSubscribedByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("購読中フィードの記事一覧の取得に失敗しました: %w", err)
	}
	if entries == nil {
		entries = []model.EntryWithFeed{}
	}
	return entries, nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
