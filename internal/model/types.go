package model

import "time"

type Kind string

const (
	KindEpic             Kind = "epic"
	KindUserStory        Kind = "userstory"
	KindTask             Kind = "task"
	KindIssue            Kind = "issue"
	KindWikiPage         Kind = "wikipage"
	KindMilestone        Kind = "milestone"
	KindRelatedUserStory Kind = "relateduserstory"
)

var kinds = []Kind{
	KindEpic,
	KindUserStory,
	KindTask,
	KindIssue,
	KindWikiPage,
	KindMilestone,
	KindRelatedUserStory,
}

func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

type EntityRef struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

type Tag struct {
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

type Attachment struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Description  string `json:"description"`
	IsDeprecated bool   `json:"is_deprecated"`
	Order        int    `json:"order"`
	URL          string `json:"url"`
}

type CustomAttributeValue struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Entity is the stored state of a versioned domain object. Scalar
// attributes that differ between kinds live in Fields.
type Entity struct {
	Kind             Kind                            `json:"kind"`
	ID               int64                           `json:"id"`
	ProjectID        int64                           `json:"project_id"`
	Ref              int64                           `json:"ref"`
	Version          int                             `json:"version"`
	OwnerID          *int64                          `json:"owner,omitempty"`
	AssignedTo       []int64                         `json:"assigned_users,omitempty"`
	Watchers         []int64                         `json:"watchers,omitempty"`
	Tags             []Tag                           `json:"tags,omitempty"`
	Attachments      []Attachment                    `json:"attachments,omitempty"`
	CustomAttributes map[string]CustomAttributeValue `json:"custom_attributes,omitempty"`
	Points           map[string]int64                `json:"points,omitempty"`
	Fields           map[string]any                  `json:"fields,omitempty"`
	Deleted          bool                            `json:"deleted"`
	CreatedAt        time.Time                       `json:"created_at"`
	UpdatedAt        time.Time                       `json:"updated_at"`
}

func (e Entity) Key() EntityRef {
	return EntityRef{Kind: e.Kind, ID: e.ID}
}

func (e Entity) IsWatcher(userID int64) bool {
	for _, id := range e.Watchers {
		if id == userID {
			return true
		}
	}
	return false
}

type Project struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
	IsSystem bool   `json:"is_system"`
}

type Membership struct {
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id"`
	RoleID    *int64 `json:"role_id,omitempty"`
}

type Role struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
}

type Points struct {
	ID        int64    `json:"id"`
	ProjectID int64    `json:"project_id"`
	Name      string   `json:"name"`
	Value     *float64 `json:"value,omitempty"`
}
