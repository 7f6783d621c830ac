package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkdownRendersParagraphs(t *testing.T) {
	t.Parallel()

	r := New()
	out := r.Markdown("hello **world**")
	require.Contains(t, out, "<strong>world</strong>")
	require.True(t, strings.HasPrefix(out, "<p>"))
}

func TestMarkdownBlankIsEmpty(t *testing.T) {
	t.Parallel()

	require.Empty(t, New().Markdown("  \n"))
}

func TestMarkdownEscapesRawHTML(t *testing.T) {
	t.Parallel()

	out := New().Markdown("<script>alert(1)</script>")
	require.NotContains(t, out, "<script>")
}

func TestDiffMarksInsertionsAndDeletions(t *testing.T) {
	t.Parallel()

	out := New().Diff("the quick fox", "the slow fox")
	require.Contains(t, out, "<del")
	require.Contains(t, out, "<ins")
	require.Contains(t, out, "slow")
}

func TestDiffOfEqualInputsHasNoMarks(t *testing.T) {
	t.Parallel()

	out := New().Diff("same", "same")
	require.NotContains(t, out, "<del")
	require.NotContains(t, out, "<ins")
}
