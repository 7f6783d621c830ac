package history

import "github.com/simonjohansson/tracker/internal/model"

// FieldClass controls how the squasher treats one values_diff key.
type FieldClass int

const (
	Squashable FieldClass = iota
	NonSquashable
	Excluded
)

func (c FieldClass) String() string {
	switch c {
	case NonSquashable:
		return "non_squashable"
	case Excluded:
		return "excluded"
	default:
		return "squashable"
	}
}

var excludedFields = map[string]struct{}{
	"description":       {},
	"description_html":  {},
	"blocked_note":      {},
	"blocked_note_html": {},
	"content":           {},
	"content_html":      {},
	"epics_order":       {},
	"backlog_order":     {},
	"kanban_order":      {},
	"sprint_order":      {},
	"taskboard_order":   {},
	"us_order":          {},
	"custom_attributes": {},
	"tribe_gig":         {},
}

var nonSquashableFields = map[string]struct{}{
	"points":            {},
	"attachments":       {},
	"watchers":          {},
	"description_diff":  {},
	"content_diff":      {},
	"blocked_note_diff": {},
	"custom_attributes": {},
}

// Classify reports the squash class of field. A field listed as both
// excluded and non-squashable is excluded.
func Classify(field string) FieldClass {
	if _, ok := excludedFields[field]; ok {
		return Excluded
	}
	if _, ok := nonSquashableFields[field]; ok {
		return NonSquashable
	}
	return Squashable
}

// PublicDiff returns diff without its excluded fields.
func PublicDiff(diff model.ValuesDiff) model.ValuesDiff {
	out := make(model.ValuesDiff, len(diff))
	for field, value := range diff {
		if Classify(field) != Excluded {
			out[field] = value
		}
	}
	return out
}
