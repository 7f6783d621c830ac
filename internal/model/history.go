package model

import "time"

type HistoryType string

const (
	HistoryCreate HistoryType = "create"
	HistoryChange HistoryType = "change"
	HistoryDelete HistoryType = "delete"
)

// Snapshot is the JSON-canonical capture of one entity. Numbers are
// float64 and nested values are map[string]any or []any, so a fresh
// snapshot and one read back from storage compare equal.
type Snapshot map[string]any

// ValuesDiff maps a field name to either a [from, to] pair or, for
// keyed sub-collections, a {new, changed, deleted} object.
type ValuesDiff map[string]any

type HistoryEntry struct {
	ID         string      `json:"id"`
	Seq        int64       `json:"seq"`
	Kind       Kind        `json:"kind"`
	EntityID   int64       `json:"entity_id"`
	ProjectID  int64       `json:"project_id"`
	AuthorID   *int64      `json:"author_id"`
	CreatedAt  time.Time   `json:"created_at"`
	Type       HistoryType `json:"type"`
	Comment    string      `json:"comment"`
	ValuesDiff ValuesDiff  `json:"values_diff"`
	Snapshot   Snapshot    `json:"snapshot,omitempty"`
	IsHidden   bool        `json:"is_hidden"`
	Version    int         `json:"version"`
}

func (e HistoryEntry) HasComment() bool {
	return e.Comment != ""
}

func (e HistoryEntry) Key() EntityRef {
	return EntityRef{Kind: e.Kind, ID: e.EntityID}
}
