// Package render turns authored markup into HTML and produces the
// textual HTML diff shown for long-text fields.
package render

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"gitlab.com/golang-commonmark/markdown"
)

type Renderer struct {
	md *markdown.Markdown
}

func New() *Renderer {
	return &Renderer{
		md: markdown.New(
			markdown.HTML(false),
			markdown.Linkify(true),
			markdown.Typographer(false),
			markdown.Breaks(true),
		),
	}
}

// Markdown renders src as HTML. Empty input renders as an empty string
// so blank fields do not show up as "<p></p>" churn in diffs.
func (r *Renderer) Markdown(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	return r.md.RenderToString([]byte(src))
}

// Diff returns an HTML fragment marking insertions and deletions
// between two rendered documents.
func (r *Renderer) Diff(from, to string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(from, to, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.DiffPrettyHtml(diffs)
}
