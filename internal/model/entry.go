package model

import "time"

// RawEntry はNormalizerが出力する保存前の記事データを表す。
// RSS/Atomの差異を吸収した形式で、フェッチサイクルごとに新しく生成される。
// AuthorとDescriptionの空文字列は「値なし」を意味し、保存時にNULLとなる。
type RawEntry struct {
	FeedID            string
	Link              string
	GUID              string // 重複排除キー。元データにない場合はLinkで代用する
	Title             string
	PublishedAt       *time.Time
	Author            string
	Description       string
	IsDescriptionHTML bool
}

// Entry は保存済みの記事を表す。
type Entry struct {
	ID                string
	FeedID            string
	Title             string
	Link              string
	Description       string // サニタイズ済み
	IsDescriptionHTML bool
	Author            string
	GUID              string
	PubDate           *time.Time
	IsRead            bool
	IsBookmarked      bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EntryWithFeed は記事と所属フィードを結合したモデル。
// 購読中フィードの記事一覧で使用する。
type EntryWithFeed struct {
	Entry
	Feed Feed
}
