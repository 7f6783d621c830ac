package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/simonjohansson/tracker/internal/model"
)

// entityData is the JSON document stored next to the indexed columns.
type entityData struct {
	AssignedTo       []int64                               `json:"assigned_users,omitempty"`
	Watchers         []int64                               `json:"watchers,omitempty"`
	Tags             []model.Tag                           `json:"tags,omitempty"`
	Attachments      []model.Attachment                    `json:"attachments,omitempty"`
	CustomAttributes map[string]model.CustomAttributeValue `json:"custom_attributes,omitempty"`
	Points           map[string]int64                      `json:"points,omitempty"`
	Fields           map[string]any                        `json:"fields,omitempty"`
}

func encodeEntity(e model.Entity) (string, error) {
	data, err := json.Marshal(entityData{
		AssignedTo:       e.AssignedTo,
		Watchers:         e.Watchers,
		Tags:             e.Tags,
		Attachments:      e.Attachments,
		CustomAttributes: e.CustomAttributes,
		Points:           e.Points,
		Fields:           e.Fields,
	})
	if err != nil {
		return "", fmt.Errorf("encode entity: %w", err)
	}
	return string(data), nil
}

// InsertEntity assigns the next id for the kind and the next project
// reference, and stores e at version 1.
func (q queries) InsertEntity(ctx context.Context, e *model.Entity) error {
	if err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM entity WHERE kind = ?`, e.Kind).Scan(&e.ID); err != nil {
		return err
	}
	if err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ref), 0) + 1 FROM entity WHERE project_id = ?`, e.ProjectID).Scan(&e.Ref); err != nil {
		return err
	}
	now := time.Now().UTC()
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now

	data, err := encodeEntity(*e)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
INSERT INTO entity (kind, id, project_id, ref, version, owner_id, deleted, data, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		e.Kind, e.ID, e.ProjectID, e.Ref, e.Version, nullInt64(e.OwnerID), data,
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

func (q queries) GetEntity(ctx context.Context, kind model.Kind, id int64) (model.Entity, error) {
	var (
		e       model.Entity
		owner   sql.NullInt64
		deleted int
		data    string
		created string
		updated string
		rawKind string
	)
	err := q.db.QueryRowContext(ctx, `
SELECT kind, id, project_id, ref, version, owner_id, deleted, data, created_at, updated_at
FROM entity WHERE kind = ? AND id = ?`, kind, id).Scan(
		&rawKind, &e.ID, &e.ProjectID, &e.Ref, &e.Version, &owner, &deleted, &data, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Entity{}, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
		}
		return model.Entity{}, err
	}
	e.Kind = model.Kind(rawKind)
	e.OwnerID = int64Ptr(owner)
	e.Deleted = deleted == 1

	var doc entityData
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return model.Entity{}, fmt.Errorf("decode entity: %w", err)
	}
	e.AssignedTo = doc.AssignedTo
	e.Watchers = doc.Watchers
	e.Tags = doc.Tags
	e.Attachments = doc.Attachments
	e.CustomAttributes = doc.CustomAttributes
	e.Points = doc.Points
	e.Fields = doc.Fields
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return model.Entity{}, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Entity{}, err
	}
	return e, nil
}

// SaveEntity writes the mutable state of e. The version column is only
// ever changed by BumpVersion.
func (q queries) SaveEntity(ctx context.Context, e *model.Entity) error {
	data, err := encodeEntity(*e)
	if err != nil {
		return err
	}
	e.UpdatedAt = time.Now().UTC()
	res, err := q.db.ExecContext(ctx, `
UPDATE entity SET owner_id = ?, deleted = ?, data = ?, updated_at = ?
WHERE kind = ? AND id = ?`,
		nullInt64(e.OwnerID), boolToInt(e.Deleted), data, formatTime(e.UpdatedAt), e.Kind, e.ID)
	if err != nil {
		return fmt.Errorf("save entity: %w", err)
	}
	return expectOneRow(res, fmt.Sprintf("%s %d", e.Kind, e.ID))
}

// BumpVersion is the optimistic concurrency check: it increments the
// stored version only when it still equals expected.
func (q queries) BumpVersion(ctx context.Context, kind model.Kind, id int64, expected int) (int, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE entity SET version = version + 1
WHERE kind = ? AND id = ? AND version = ? AND deleted = 0`, kind, id, expected)
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		return expected + 1, nil
	}

	var (
		stored  int
		deleted int
	)
	err = q.db.QueryRowContext(ctx,
		`SELECT version, deleted FROM entity WHERE kind = ? AND id = ?`, kind, id).Scan(&stored, &deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted == 1) {
		return 0, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return stored, fmt.Errorf("%s %d at version %d, got %d: %w", kind, id, stored, expected, ErrVersionConflict)
}

func (q queries) ListEntities(ctx context.Context, projectID int64, kind model.Kind) ([]model.EntityRef, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT kind, id FROM entity WHERE project_id = ? AND kind = ? AND deleted = 0 ORDER BY id`, projectID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.EntityRef, 0)
	for rows.Next() {
		var (
			ref     model.EntityRef
			rawKind string
		)
		if err := rows.Scan(&rawKind, &ref.ID); err != nil {
			return nil, err
		}
		ref.Kind = model.Kind(rawKind)
		out = append(out, ref)
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
