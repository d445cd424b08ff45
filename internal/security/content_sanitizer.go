package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はフィード由来のHTML本文を保存前に無害化する。
// bluemondayのポリシーは構築後に変更しない限り並行利用できる。
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer は記事本文用の許可リストポリシーを持つSanitizerを生成する。
//   - 段落、リスト、引用、コード、強調、見出しのみ許可
//   - aはhrefのみ、絶対URLに限りtarget="_blank"とrel="noreferrer noopener"を付与
//   - imgはhttpsのsrcとaltのみ
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i",
		"h1", "h2", "h3", "h4", "h5", "h6",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })

	return &Sanitizer{policy: p}
}

// Sanitize はHTMLから許可リスト外の要素と属性を取り除く。
// 空文字列には空文字列を返す。
func (s *Sanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
