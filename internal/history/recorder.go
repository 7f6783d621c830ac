package history

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/simonjohansson/tracker/internal/model"
)

const MaxCommentLength = 10000

// Log is the append-only entry storage seen from inside the caller's
// transaction.
type Log interface {
	LastEntry(ctx context.Context, kind model.Kind, id int64) (*model.HistoryEntry, error)
	AppendEntry(ctx context.Context, entry *model.HistoryEntry) error
}

type Recorder struct {
	builder *Builder
	differ  *Differ
	now     func() time.Time
	newID   func() string
}

type RecorderOption func(*Recorder)

func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func WithIDGenerator(newID func() string) RecorderOption {
	return func(r *Recorder) { r.newID = newID }
}

func NewRecorder(builder *Builder, differ *Differ, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		builder: builder,
		differ:  differ,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record is the outcome of one TakeSnapshot call. Previous is the
// snapshot the diff was computed against, nil for a create.
type Record struct {
	Entry    model.HistoryEntry
	Previous model.Snapshot
}

// TakeSnapshot freezes entity, diffs it against the latest stored
// snapshot and appends the resulting entry through log. It must run in
// the same transaction as the mutation it records.
func (r *Recorder) TakeSnapshot(ctx context.Context, log Log, names Catalog, entity model.Entity, authorID *int64, comment string, deleted bool) (Record, error) {
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return Record{}, fmt.Errorf("%w: %d characters max", ErrCommentTooLong, MaxCommentLength)
	}

	current, err := r.builder.Build(entity)
	if err != nil {
		return Record{}, err
	}
	last, err := log.LastEntry(ctx, entity.Kind, entity.ID)
	if err != nil {
		return Record{}, fmt.Errorf("load last entry: %w", err)
	}
	if last != nil && last.Type == model.HistoryDelete {
		return Record{}, fmt.Errorf("%w: %s %d", ErrEntityDeleted, entity.Kind, entity.ID)
	}

	entryType := model.HistoryChange
	var previous model.Snapshot
	switch {
	case deleted:
		entryType = model.HistoryDelete
	case last == nil:
		entryType = model.HistoryCreate
	}
	if last != nil {
		previous = last.Snapshot
	}

	diff, err := r.differ.Diff(entity.Kind, previous, current, names)
	if err != nil {
		return Record{}, err
	}

	createdAt := r.now().UTC()
	if last != nil && createdAt.Before(last.CreatedAt) {
		createdAt = last.CreatedAt
	}

	entry := model.HistoryEntry{
		ID:         r.newID(),
		Kind:       entity.Kind,
		EntityID:   entity.ID,
		ProjectID:  entity.ProjectID,
		AuthorID:   authorID,
		CreatedAt:  createdAt,
		Type:       entryType,
		Comment:    comment,
		ValuesDiff: diff,
		Snapshot:   current,
		Version:    entity.Version,
	}
	entry.IsHidden = IsHidden(entry)

	if err := log.AppendEntry(ctx, &entry); err != nil {
		return Record{}, fmt.Errorf("append entry: %w", err)
	}
	return Record{Entry: entry, Previous: previous}, nil
}

// IsHidden reports whether a change entry carries neither a diff nor a
// comment. Create and delete entries are always visible.
func IsHidden(entry model.HistoryEntry) bool {
	if entry.Type != model.HistoryChange {
		return false
	}
	return len(entry.ValuesDiff) == 0 && entry.Comment == ""
}
