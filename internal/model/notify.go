package model

import "time"

type NotifyLevel string

const (
	NotifyAll      NotifyLevel = "all"
	NotifyInvolved NotifyLevel = "involved"
	NotifyNone     NotifyLevel = "none"
)

func (l NotifyLevel) Valid() bool {
	switch l {
	case NotifyAll, NotifyInvolved, NotifyNone:
		return true
	default:
		return false
	}
}

// NotifyPolicy is one user's preference inside one project. A zero
// NotifyOwnChanges suppresses notifications about the user's own edits.
type NotifyPolicy struct {
	UserID           int64       `json:"user_id"`
	ProjectID        int64       `json:"project_id"`
	Level            NotifyLevel `json:"level"`
	LiveLevel        NotifyLevel `json:"live_level"`
	NotifyOwnChanges bool        `json:"notify_own_changes"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func DefaultNotifyPolicy(userID, projectID int64) NotifyPolicy {
	return NotifyPolicy{
		UserID:    userID,
		ProjectID: projectID,
		Level:     NotifyInvolved,
		LiveLevel: NotifyInvolved,
	}
}
