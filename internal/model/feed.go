// Package model はドメインモデルを定義する。
package model

import "time"

// Feed はRSS/Atomフィードを表す。
type Feed struct {
	ID          string
	Title       string
	URL         string
	Description string
	SiteURL     string
	FaviconURL  string
	LastFetched *time.Time
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FeedSource はフェッチ対象のフィードを表す。
// 1回のフェッチサイクルの間は不変として扱い、値渡しでFetcherに渡す。
type FeedSource struct {
	ID  string
	URL string
}

// Source はフィードからフェッチ対象を取り出す。
func (f *Feed) Source() FeedSource {
	return FeedSource{ID: f.ID, URL: f.URL}
}
