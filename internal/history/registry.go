package history

import (
	"fmt"
	"sort"

	"github.com/simonjohansson/tracker/internal/model"
)

// Descriptor declares what the snapshot of one entity kind contains.
type Descriptor struct {
	Kind  model.Kind
	Label string
	// TitleField names the scalar used as the human title in mail
	// subjects (subject, name or slug).
	TitleField string
	HasRef     bool
	Scalars    []string
	// Markup fields are stored raw and rendered under <field>_html.
	Markup []string
	// Assignees selects how assignment is captured: "" for none,
	// "single" for assigned_to only, "multi" for assigned_users plus a
	// derived assigned_to that is kept out of diffs.
	Assignees        string
	Tags             bool
	Watchers         bool
	Attachments      bool
	CustomAttributes bool
	Points           bool
}

const (
	AssignSingle = "single"
	AssignMulti  = "multi"
)

func (d Descriptor) IsMarkup(field string) bool {
	for _, f := range d.Markup {
		if f == field {
			return true
		}
	}
	return false
}

type Registry struct {
	descriptors map[model.Kind]Descriptor
}

func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{descriptors: make(map[model.Kind]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		r.descriptors[d.Kind] = d
	}
	return r
}

func (r *Registry) Lookup(kind model.Kind) (Descriptor, error) {
	d, ok := r.descriptors[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return d, nil
}

func (r *Registry) Kinds() []model.Kind {
	out := make([]model.Kind, 0, len(r.descriptors))
	for k := range r.descriptors {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func DefaultRegistry() *Registry {
	return NewRegistry(
		Descriptor{
			Kind:       model.KindEpic,
			Label:      "Epic",
			TitleField: "subject",
			HasRef:     true,
			Scalars: []string{
				"subject", "status", "color", "epics_order",
				"client_requirement", "team_requirement", "is_blocked",
			},
			Markup:           []string{"description", "blocked_note"},
			Assignees:        AssignSingle,
			Tags:             true,
			Watchers:         true,
			Attachments:      true,
			CustomAttributes: true,
		},
		Descriptor{
			Kind:       model.KindUserStory,
			Label:      "User Story",
			TitleField: "subject",
			HasRef:     true,
			Scalars: []string{
				"subject", "status", "is_closed", "finish_date", "due_date",
				"backlog_order", "sprint_order", "kanban_order", "milestone",
				"client_requirement", "team_requirement", "from_issue",
				"is_blocked", "tribe_gig",
			},
			Markup:           []string{"description", "blocked_note"},
			Assignees:        AssignMulti,
			Tags:             true,
			Watchers:         true,
			Attachments:      true,
			CustomAttributes: true,
			Points:           true,
		},
		Descriptor{
			Kind:       model.KindTask,
			Label:      "Task",
			TitleField: "subject",
			HasRef:     true,
			Scalars: []string{
				"subject", "status", "milestone", "user_story", "due_date",
				"taskboard_order", "us_order", "is_iocaine", "is_blocked",
			},
			Markup:           []string{"description", "blocked_note"},
			Assignees:        AssignSingle,
			Tags:             true,
			Watchers:         true,
			Attachments:      true,
			CustomAttributes: true,
		},
		Descriptor{
			Kind:       model.KindIssue,
			Label:      "Issue",
			TitleField: "subject",
			HasRef:     true,
			Scalars: []string{
				"subject", "status", "priority", "severity", "type",
				"milestone", "due_date", "is_blocked",
			},
			Markup:           []string{"description", "blocked_note"},
			Assignees:        AssignSingle,
			Tags:             true,
			Watchers:         true,
			Attachments:      true,
			CustomAttributes: true,
		},
		Descriptor{
			Kind:        model.KindWikiPage,
			Label:       "Wiki Page",
			TitleField:  "slug",
			Scalars:     []string{"slug"},
			Markup:      []string{"content"},
			Watchers:    true,
			Attachments: true,
		},
		Descriptor{
			Kind:       model.KindMilestone,
			Label:      "Sprint",
			TitleField: "name",
			Scalars: []string{
				"name", "slug", "estimated_start", "estimated_finish",
				"closed", "disponibility",
			},
			Watchers: true,
		},
		Descriptor{
			Kind:       model.KindRelatedUserStory,
			Label:      "Related User Story",
			TitleField: "user_story",
			Scalars:    []string{"epic", "user_story", "order"},
		},
	)
}
