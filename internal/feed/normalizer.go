// Package feed はRSS/Atomフィードを形式に依存しない記事データへ正規化する。
package feed

import (
	"bytes"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"

	"github.com/hitoshi/feedline/internal/model"
)

// Normalizer はフィード本文をRawEntryの列に変換する。
// RSS 2.0 / RSS 1.0 (rdf) / Atom をルート要素から自動判別する。
// 壊れた文書や未対応の形式は空の列として扱い、エラーを返さない。
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer はNormalizerの新しいインスタンスを生成する。
func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize はフィード本文を解析し、文書順のRawEntryを返す。
// FeedIDは設定しない（呼び出し側のFetcherが付与する）。
// 時刻の取得など非決定的な処理は行わないため、同じ入力には常に同じ結果を返す。
func (n *Normalizer) Normalize(body []byte) []model.RawEntry {
	switch gofeed.DetectFeedType(bytes.NewReader(body)) {
	case gofeed.FeedTypeRSS:
		return n.normalizeRSS(body)
	case gofeed.FeedTypeAtom:
		return n.normalizeAtom(body)
	default:
		n.logger.Warn("未対応のフィード形式のため記事を0件として扱います",
			slog.Int("body_size", len(body)),
		)
		return []model.RawEntry{}
	}
}

// normalizeRSS はRSS文書の<item>を変換する。
// パーサーは並行利用できないため呼び出しごとに生成する。
func (n *Normalizer) normalizeRSS(body []byte) []model.RawEntry {
	parser := &rss.Parser{}
	parsed, err := parser.Parse(bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("RSSのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return []model.RawEntry{}
	}

	entries := make([]model.RawEntry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, rssEntry(item))
	}
	return entries
}

// normalizeAtom はAtom文書の<entry>を変換する。
func (n *Normalizer) normalizeAtom(body []byte) []model.RawEntry {
	parser := &atom.Parser{}
	parsed, err := parser.Parse(bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("Atomのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return []model.RawEntry{}
	}

	entries := make([]model.RawEntry, 0, len(parsed.Entries))
	for _, entry := range parsed.Entries {
		if entry == nil {
			continue
		}
		entries = append(entries, atomEntry(entry))
	}
	return entries
}

func rssEntry(item *rss.Item) model.RawEntry {
	link := strings.TrimSpace(item.Link)

	var guid string
	if item.GUID != nil {
		guid = strings.TrimSpace(item.GUID.Value)
	}

	// content:encoded → description
	content := item.Content
	if content == "" {
		content = item.Description
	}

	var author string
	if item.DublinCoreExt != nil {
		author = firstNonEmpty(item.DublinCoreExt.Creator)
	}

	return buildEntry(link, guid, item.Title, copyTime(item.PubDateParsed), author, content)
}

func atomEntry(entry *atom.Entry) model.RawEntry {
	link := atomLink(entry.Links)
	guid := strings.TrimSpace(entry.ID)

	published := copyTime(entry.UpdatedParsed)
	if published == nil {
		published = copyTime(entry.PublishedParsed)
	}

	var content string
	if entry.Content != nil {
		content = entry.Content.Value
	}
	if content == "" {
		content = entry.Summary
	}

	var author string
	for _, p := range entry.Authors {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			author = strings.TrimSpace(p.Name)
			break
		}
	}

	return buildEntry(link, guid, entry.Title, published, author, content)
}

// buildEntry は解決済みのフィールドからRawEntryを組み立てる。
// guidが空の場合はlinkで代用する。
// IsDescriptionHTMLは "<" を含むかどうかの簡易判定であり、HTMLとしての妥当性は見ない。
func buildEntry(link, guid, title string, published *time.Time, author, content string) model.RawEntry {
	if guid == "" {
		guid = link
	}
	return model.RawEntry{
		Link:              link,
		GUID:              guid,
		Title:             strings.TrimSpace(title),
		PublishedAt:       published,
		Author:            strings.TrimSpace(author),
		Description:       content,
		IsDescriptionHTML: strings.Contains(content, "<"),
	}
}

// atomLink はrel="alternate"またはrel未指定のhrefを優先し、
// なければ最初のhrefを返す。
func atomLink(links []*atom.Link) string {
	var fallback string
	for _, l := range links {
		if l == nil {
			continue
		}
		href := strings.TrimSpace(l.Href)
		if href == "" {
			continue
		}
		if l.Rel == "" || l.Rel == "alternate" {
			return href
		}
		if fallback == "" {
			fallback = href
		}
	}
	return fallback
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
