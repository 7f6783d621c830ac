package history

import (
	"slices"
	"testing"

	"github.com/simonjohansson/tracker/internal/model"
	"github.com/stretchr/testify/require"
)

func squashAll(t *testing.T, entries ...model.HistoryEntry) []model.HistoryEntry {
	t.Helper()
	out, err := SquashEntries(entries, true)
	require.NoError(t, err)
	return out
}

func diffs(entries []model.HistoryEntry) []model.ValuesDiff {
	out := make([]model.ValuesDiff, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ValuesDiff)
	}
	return out
}

func TestSquashCollapsesRoundTrip(t *testing.T) {
	t.Parallel()

	out := squashAll(t,
		change("", model.ValuesDiff{"status": pair("A", "B")}),
		change("", model.ValuesDiff{"status": pair("B", "C")}),
		change("", model.ValuesDiff{"status": pair("C", "B")}),
	)
	require.Equal(t, []model.ValuesDiff{{"status": pair("A", "B")}}, diffs(out))
}

func TestSquashDropsNoOp(t *testing.T) {
	t.Parallel()

	out := squashAll(t,
		change("", model.ValuesDiff{"status": pair("A", "B")}),
		change("", model.ValuesDiff{"status": pair("B", "A")}),
	)
	require.Empty(t, out)
}

func TestSquashPreservesNonSquashable(t *testing.T) {
	t.Parallel()

	added := map[string]any{"new": []any{"x"}}
	removed := map[string]any{"deleted": []any{"x"}}
	out := squashAll(t,
		change("", model.ValuesDiff{"attachments": added}),
		change("", model.ValuesDiff{"status": pair("A", "B")}),
		change("", model.ValuesDiff{"attachments": removed}),
	)
	require.Equal(t, []model.ValuesDiff{
		{"attachments": added},
		{"attachments": removed},
		{"status": pair("A", "B")},
	}, diffs(out))
}

func TestSquashPassesCommentsThrough(t *testing.T) {
	t.Parallel()

	commented := change("hello", model.ValuesDiff{"status": pair("A", "B")})
	out := squashAll(t,
		commented,
		change("", model.ValuesDiff{"status": pair("B", "C")}),
	)
	require.Len(t, out, 2)
	require.Equal(t, commented, out[0])
	require.Equal(t, "", out[1].Comment)
	require.Equal(t, model.ValuesDiff{"status": pair("B", "C")}, out[1].ValuesDiff)
}

func TestSquashOmitsExcludedFields(t *testing.T) {
	t.Parallel()

	out := squashAll(t, change("", model.ValuesDiff{"description": pair("x", "y")}))
	require.Empty(t, out)

	out = squashAll(t, change("", model.ValuesDiff{
		"kanban_order":      pair(float64(1), float64(2)),
		"custom_attributes": map[string]any{"new": []any{}},
		"description_diff":  pair(nil, "<ins>y</ins>"),
	}))
	require.Equal(t, []model.ValuesDiff{{"description_diff": pair(nil, "<ins>y</ins>")}}, diffs(out))
}

func TestSquashSingleEntry(t *testing.T) {
	t.Parallel()

	commented := change("note", model.ValuesDiff{})
	require.Equal(t, []model.HistoryEntry{commented}, squashAll(t, commented))
	require.Empty(t, squashAll(t, change("", model.ValuesDiff{})))
	require.Empty(t, squashAll(t, change("", model.ValuesDiff{"content_html": pair("a", "b")})))
}

func TestSquashSummaryCarriesLastEntryMetadata(t *testing.T) {
	t.Parallel()

	first := change("", model.ValuesDiff{"subject": pair("a", "b")})
	first.ID = "one"
	last := change("", model.ValuesDiff{"subject": pair("b", "c")})
	last.ID = "two"
	last.AuthorID = ptr(int64(9))

	out := squashAll(t, first, last)
	require.Len(t, out, 1)
	require.Equal(t, "two", out[0].ID)
	require.Equal(t, ptr(int64(9)), out[0].AuthorID)
	require.Equal(t, model.ValuesDiff{"subject": pair("a", "c")}, out[0].ValuesDiff)
}

func TestSquashIsIdempotent(t *testing.T) {
	t.Parallel()

	input := []model.HistoryEntry{
		change("", model.ValuesDiff{"status": pair("A", "B"), "subject": pair("s1", "s2")}),
		change("c1", model.ValuesDiff{"status": pair("B", "C")}),
		change("", model.ValuesDiff{"watchers": pair([]any{}, []any{float64(1)})}),
		change("", model.ValuesDiff{"status": pair("C", "D"), "description": pair("x", "y")}),
		change("", model.ValuesDiff{"subject": pair("s2", "s1")}),
		change("c2", model.ValuesDiff{}),
	}
	once := squashAll(t, input...)
	twice := squashAll(t, once...)
	require.Equal(t, once, twice)
	require.Equal(t, []model.ValuesDiff{
		{"status": pair("B", "C")},
		{"watchers": pair([]any{}, []any{float64(1)})},
		{},
		{"status": pair("A", "D")},
	}, diffs(once))
}

func TestSquashDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	input := []model.HistoryEntry{
		change("", model.ValuesDiff{"status": pair("A", "B"), "points": map[string]any{"UX": pair(nil, "1")}}),
	}
	snapshot := slices.Clone(input)
	_ = squashAll(t, input...)
	require.Equal(t, snapshot, input)
	require.Len(t, input[0].ValuesDiff, 2)
}

func TestSquashIsLazy(t *testing.T) {
	t.Parallel()

	pulled := 0
	source := func(yield func(model.HistoryEntry) bool) {
		for i := 0; i < 100; i++ {
			pulled++
			if !yield(change("c", model.ValuesDiff{})) {
				return
			}
		}
	}
	for range Squash(source) {
		break
	}
	require.Equal(t, 1, pulled)
}

func TestSquashEntriesStrictPanicsOnMalformedDiff(t *testing.T) {
	t.Parallel()

	bad := []model.HistoryEntry{change("", model.ValuesDiff{"status": "not-a-pair"})}
	require.Panics(t, func() { _, _ = SquashEntries(bad, true) })
}

func TestSquashEntriesDegradesToRawEntries(t *testing.T) {
	t.Parallel()

	bad := []model.HistoryEntry{
		change("", model.ValuesDiff{"status": pair("A", "B")}),
		change("", model.ValuesDiff{"status": "not-a-pair"}),
	}
	out, err := SquashEntries(bad, false)
	require.ErrorIs(t, err, ErrMalformedEntry)
	require.Equal(t, bad, out)
}

func TestClassifyExcludedWins(t *testing.T) {
	t.Parallel()

	require.Equal(t, Excluded, Classify("custom_attributes"))
	require.Equal(t, NonSquashable, Classify("points"))
	require.Equal(t, Squashable, Classify("status"))
	require.Equal(t, Excluded, Classify("us_order"))
}

func TestPublicDiffDropsExcludedFields(t *testing.T) {
	t.Parallel()

	diff := model.ValuesDiff{
		"description":      []any{"a", "b"},
		"description_diff": []any{nil, "<ins>b</ins>"},
		"status":           []any{"New", "Done"},
	}
	require.Equal(t, model.ValuesDiff{
		"description_diff": []any{nil, "<ins>b</ins>"},
		"status":           []any{"New", "Done"},
	}, PublicDiff(diff))
	require.Len(t, diff, 3)
}
