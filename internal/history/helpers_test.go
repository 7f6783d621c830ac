package history

import (
	"context"
	"fmt"
	"time"

	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/render"
)

type memLog struct {
	entries []model.HistoryEntry
}

func (l *memLog) LastEntry(_ context.Context, kind model.Kind, id int64) (*model.HistoryEntry, error) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Kind == kind && l.entries[i].EntityID == id {
			e := l.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (l *memLog) AppendEntry(_ context.Context, entry *model.HistoryEntry) error {
	entry.Seq = int64(len(l.entries) + 1)
	l.entries = append(l.entries, *entry)
	return nil
}

type stubCatalog struct {
	users  map[int64]string
	roles  map[int64]string
	points map[int64]string
}

func (c stubCatalog) Username(id int64) (string, bool) {
	name, ok := c.users[id]
	return name, ok
}

func (c stubCatalog) RoleName(id int64) (string, bool) {
	name, ok := c.roles[id]
	return name, ok
}

func (c stubCatalog) PointsName(id int64) (string, bool) {
	name, ok := c.points[id]
	return name, ok
}

func newTestRecorder() (*Recorder, *memLog) {
	registry := DefaultRegistry()
	renderer := render.New()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	ids := 0
	rec := NewRecorder(
		NewBuilder(registry, renderer),
		NewDiffer(registry, renderer),
		WithClock(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		}),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("entry-%d", ids)
		}),
	)
	return rec, &memLog{}
}

func ptr[T any](v T) *T {
	return &v
}

func change(comment string, diff model.ValuesDiff) model.HistoryEntry {
	return model.HistoryEntry{
		Kind:       model.KindUserStory,
		EntityID:   1,
		Type:       model.HistoryChange,
		Comment:    comment,
		ValuesDiff: diff,
	}
}

func pair(from, to any) []any {
	return []any{from, to}
}

func userStory() model.Entity {
	return model.Entity{
		Kind:      model.KindUserStory,
		ID:        7,
		ProjectID: 1,
		Ref:       12,
		Version:   1,
		OwnerID:   ptr(int64(1)),
		Fields: map[string]any{
			"subject":     "Login page",
			"status":      "new",
			"description": "first draft",
		},
	}
}
