package model

import "time"

type EventType string

const (
	EventTypeEntityCreated   EventType = "entity.created"
	EventTypeEntityChanged   EventType = "entity.changed"
	EventTypeEntityDeleted   EventType = "entity.deleted"
	EventTypeEntityCommented EventType = "entity.commented"
	EventTypeDeliveryDead    EventType = "delivery.dead"
)

var websocketEventTypes = []EventType{
	EventTypeEntityCreated,
	EventTypeEntityChanged,
	EventTypeEntityDeleted,
	EventTypeEntityCommented,
	EventTypeDeliveryDead,
}

func WebSocketEventTypes() []EventType {
	out := make([]EventType, len(websocketEventTypes))
	copy(out, websocketEventTypes)
	return out
}

// Event is a live notification. Users lists the recipients resolved
// against their live level. A nil Users addresses every subscriber of
// the project, an empty one only project-wide observers.
type Event struct {
	Type      EventType  `json:"type"`
	ProjectID int64      `json:"project_id"`
	Kind      Kind       `json:"kind,omitempty"`
	EntityID  int64      `json:"entity_id,omitempty"`
	EntryID   string     `json:"entry_id,omitempty"`
	Users     []int64    `json:"users,omitempty"`
	Diff      ValuesDiff `json:"diff,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func EventTypeForEntry(entry HistoryEntry) EventType {
	switch entry.Type {
	case HistoryCreate:
		return EventTypeEntityCreated
	case HistoryDelete:
		return EventTypeEntityDeleted
	}
	if entry.HasComment() && len(entry.ValuesDiff) == 0 {
		return EventTypeEntityCommented
	}
	return EventTypeEntityChanged
}
