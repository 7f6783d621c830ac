package history

import (
	"testing"

	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/render"
	"github.com/stretchr/testify/require"
)

func TestBuildCanonicalizesCollections(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DefaultRegistry(), render.New())
	entity := userStory()
	entity.Tags = []model.Tag{{Name: "zeta"}, {Name: "alpha", Color: ptr("#fff")}}
	entity.Watchers = []int64{9, 3, 9}
	entity.AssignedTo = []int64{5, 2}
	entity.Points = map[string]int64{"10": 100}

	snap, err := b.Build(entity)
	require.NoError(t, err)

	require.Equal(t, []any{[]any{"alpha", "#fff"}, []any{"zeta", nil}}, snap["tags"])
	require.Equal(t, []any{float64(3), float64(9)}, snap["watchers"])
	require.Equal(t, []any{float64(2), float64(5)}, snap["assigned_users"])
	require.Equal(t, float64(5), snap["assigned_to"])
	require.Equal(t, map[string]any{"10": float64(100)}, snap["points"])
	require.Equal(t, float64(12), snap["ref"])
	require.NotContains(t, snap, "version")
}

func TestBuildRendersMarkupFields(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DefaultRegistry(), render.New())
	entity := userStory()
	entity.Fields["description"] = "some *text*"

	snap, err := b.Build(entity)
	require.NoError(t, err)
	require.Equal(t, "some *text*", snap["description"])
	require.Contains(t, snap["description_html"], "<em>text</em>")
	require.Equal(t, "", snap["blocked_note_html"])
}

func TestBuildIsStable(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DefaultRegistry(), render.New())
	entity := userStory()
	entity.Attachments = []model.Attachment{{ID: 2, Name: "b.png"}, {ID: 1, Name: "a.png"}}
	entity.CustomAttributes = map[string]model.CustomAttributeValue{"4": {Name: "Env", Value: "prod"}}

	first, err := b.Build(entity)
	require.NoError(t, err)
	second, err := b.Build(entity)
	require.NoError(t, err)
	require.Equal(t, first, second)

	roundTrip, err := Canonicalize(first)
	require.NoError(t, err)
	require.Equal(t, first, roundTrip)

	attachments := first["attachments"].([]any)
	require.Len(t, attachments, 2)
	require.Equal(t, float64(1), attachments[0].(map[string]any)["id"])
	require.Equal(t, map[string]any{"id": float64(4), "name": "Env", "value": "prod"},
		first["custom_attributes"].(map[string]any)["4"])
}

func TestBuildIgnoresVersion(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DefaultRegistry(), render.New())
	entity := userStory()
	before, err := b.Build(entity)
	require.NoError(t, err)

	entity.Version += 3
	after, err := b.Build(entity)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestBuildUnknownKind(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DefaultRegistry(), render.New())
	_, err := b.Build(model.Entity{Kind: "bogus"})
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestBuildWikiPageHasNoRef(t *testing.T) {
	t.Parallel()

	b := NewBuilder(DefaultRegistry(), render.New())
	snap, err := b.Build(model.Entity{
		Kind:   model.KindWikiPage,
		ID:     3,
		Fields: map[string]any{"slug": "home", "content": "# Home"},
	})
	require.NoError(t, err)
	require.NotContains(t, snap, "ref")
	require.Contains(t, snap["content_html"], "<h1>Home</h1>")
	require.NotContains(t, snap, "tags")
}

func TestAssigneesOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, []int64{2, 5}, AssigneesOf(model.Snapshot{"assigned_users": []any{float64(2), float64(5)}}))
	require.Equal(t, []int64{4}, AssigneesOf(model.Snapshot{"assigned_to": float64(4)}))
	require.Nil(t, AssigneesOf(model.Snapshot{"assigned_to": nil}))
	require.Nil(t, AssigneesOf(nil))
}
