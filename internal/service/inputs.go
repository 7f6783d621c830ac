package service

import "github.com/simonjohansson/tracker/internal/model"

type ProjectInput struct {
	Slug string `json:"slug" validate:"required,max=64,excludesall=/"`
	Name string `json:"name" validate:"required,max=200"`
}

type UserInput struct {
	Username string `json:"username" validate:"required,max=64,excludesall=@"`
	FullName string `json:"full_name" validate:"max=200"`
	Email    string `json:"email" validate:"omitempty,email"`
	Inactive bool   `json:"inactive"`
	IsSystem bool   `json:"is_system"`
}

// EntityPatch is a partial update. Nil members are left untouched; a
// nil value in Fields removes the field. CustomAttributes and Points
// are merged, with a nil custom attribute value removing the entry.
type EntityPatch struct {
	OwnerID          *int64                                `json:"owner,omitempty"`
	Fields           map[string]any                        `json:"fields,omitempty"`
	AssignedTo       *[]int64                              `json:"assigned_users,omitempty"`
	Watchers         *[]int64                              `json:"watchers,omitempty"`
	Tags             *[]model.Tag                          `json:"tags,omitempty"`
	Attachments      *[]model.Attachment                   `json:"attachments,omitempty"`
	CustomAttributes map[string]model.CustomAttributeValue `json:"custom_attributes,omitempty"`
	Points           map[string]int64                      `json:"points,omitempty"`
}

type CreateEntityInput struct {
	Kind     model.Kind
	AuthorID *int64
	Patch    EntityPatch
	Comment  string
}

type UpdateEntityInput struct {
	Version  int
	AuthorID *int64
	Patch    EntityPatch
	Comment  string
}

type PolicyInput struct {
	Level            *model.NotifyLevel `json:"level,omitempty"`
	LiveLevel        *model.NotifyLevel `json:"live_level,omitempty"`
	NotifyOwnChanges *bool              `json:"notify_own_changes,omitempty"`
}

type WebhookInput struct {
	Name string `json:"name" validate:"required,max=200"`
	URL  string `json:"url" validate:"required,url,startswith=http"`
	Key  string `json:"key" validate:"required,max=400"`
}

type WebhookPatch struct {
	Name *string `json:"name,omitempty" validate:"omitempty,max=200"`
	URL  *string `json:"url,omitempty" validate:"omitempty,url,startswith=http"`
	Key  *string `json:"key,omitempty" validate:"omitempty,max=400"`
}
