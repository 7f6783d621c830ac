package history

import (
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sort"

	"github.com/simonjohansson/tracker/internal/model"
)

// Squash collapses the commentless entries of one entity into at most
// one summary entry per squashable field. Commented entries and
// non-squashable fields pass through in order; summaries follow at the
// end in order of first appearance. It panics on a squashable field
// whose diff is not a [from, to] pair.
func Squash(entries iter.Seq[model.HistoryEntry]) iter.Seq[model.HistoryEntry] {
	return func(yield func(model.HistoryEntry) bool) {
		type group struct {
			from  any
			to    any
			entry model.HistoryEntry
		}
		groups := map[string]*group{}
		var order []string

		for entry := range entries {
			if entry.HasComment() {
				if !yield(entry) {
					return
				}
				continue
			}
			for _, field := range sortedFields(entry.ValuesDiff) {
				value := entry.ValuesDiff[field]
				switch Classify(field) {
				case Excluded:
					continue
				case NonSquashable:
					if !yield(withDiff(entry, field, value)) {
						return
					}
				default:
					from, to := mustPair(field, value)
					g, ok := groups[field]
					if !ok {
						groups[field] = &group{from: from, to: to, entry: entry}
						order = append(order, field)
						continue
					}
					g.to = to
					g.entry = entry
				}
			}
		}

		for _, field := range order {
			g := groups[field]
			if reflect.DeepEqual(g.from, g.to) {
				continue
			}
			if !yield(withDiff(g.entry, field, []any{g.from, g.to})) {
				return
			}
		}
	}
}

// SquashEntries collects Squash over a slice. In strict mode a
// malformed entry panics; otherwise the raw entries come back together
// with an ErrMalformedEntry error.
func SquashEntries(entries []model.HistoryEntry, strict bool) (out []model.HistoryEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			if strict {
				panic(r)
			}
			out = entries
			err = fmt.Errorf("%w: %v", ErrMalformedEntry, r)
		}
	}()
	out = slices.Collect(Squash(slices.Values(entries)))
	if out == nil {
		out = []model.HistoryEntry{}
	}
	return out, nil
}

func withDiff(entry model.HistoryEntry, field string, value any) model.HistoryEntry {
	out := entry
	out.ValuesDiff = model.ValuesDiff{field: value}
	return out
}

func mustPair(field string, value any) (any, any) {
	pair, ok := value.([]any)
	if !ok || len(pair) != 2 {
		panic(fmt.Sprintf("field %q: expected [from, to] pair, got %#v", field, value))
	}
	return pair[0], pair[1]
}

func sortedFields(diff model.ValuesDiff) []string {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
