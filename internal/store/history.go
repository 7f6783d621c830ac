package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/simonjohansson/tracker/internal/model"
)

const entryColumns = `seq, id, kind, entity_id, project_id, author_id, created_at, type, comment,
  values_diff_json, snapshot_json, is_hidden, version`

func scanEntry(scan func(dest ...any) error) (model.HistoryEntry, error) {
	var (
		e        model.HistoryEntry
		kind     string
		author   sql.NullInt64
		created  string
		typ      string
		diff     string
		snapshot sql.NullString
		hidden   int
	)
	if err := scan(&e.Seq, &e.ID, &kind, &e.EntityID, &e.ProjectID, &author, &created, &typ,
		&e.Comment, &diff, &snapshot, &hidden, &e.Version); err != nil {
		return model.HistoryEntry{}, err
	}
	e.Kind = model.Kind(kind)
	e.AuthorID = int64Ptr(author)
	e.Type = model.HistoryType(typ)
	e.IsHidden = hidden == 1

	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return model.HistoryEntry{}, err
	}
	if err := json.Unmarshal([]byte(diff), &e.ValuesDiff); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("decode values diff: %w", err)
	}
	if e.ValuesDiff == nil {
		e.ValuesDiff = model.ValuesDiff{}
	}
	if snapshot.Valid {
		if err := json.Unmarshal([]byte(snapshot.String), &e.Snapshot); err != nil {
			return model.HistoryEntry{}, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	return e, nil
}

func (q queries) AppendEntry(ctx context.Context, e *model.HistoryEntry) error {
	diff, err := json.Marshal(e.ValuesDiff)
	if err != nil {
		return fmt.Errorf("encode values diff: %w", err)
	}
	var snapshot sql.NullString
	if e.Snapshot != nil {
		raw, err := json.Marshal(e.Snapshot)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(raw), Valid: true}
	}
	res, err := q.db.ExecContext(ctx, `
INSERT INTO history_entry (id, kind, entity_id, project_id, author_id, created_at, type, comment,
  values_diff_json, snapshot_json, is_hidden, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.EntityID, e.ProjectID, nullInt64(e.AuthorID), formatTime(e.CreatedAt),
		e.Type, e.Comment, string(diff), snapshot, boolToInt(e.IsHidden), e.Version)
	if err != nil {
		return err
	}
	e.Seq, err = res.LastInsertId()
	return err
}

// LastEntry returns the newest entry of an entity, or nil when it has
// none.
func (q queries) LastEntry(ctx context.Context, kind model.Kind, id int64) (*model.HistoryEntry, error) {
	e, err := scanEntry(q.db.QueryRowContext(ctx, `
SELECT `+entryColumns+` FROM history_entry
WHERE kind = ? AND entity_id = ?
ORDER BY created_at DESC, seq DESC LIMIT 1`, kind, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (q queries) GetEntry(ctx context.Context, id string) (model.HistoryEntry, error) {
	e, err := scanEntry(q.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM history_entry WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryEntry{}, fmt.Errorf("history entry %s: %w", id, ErrNotFound)
	}
	return e, err
}

// ListEntries returns the entries of one entity in append order.
func (q queries) ListEntries(ctx context.Context, kind model.Kind, id int64, includeHidden bool) ([]model.HistoryEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM history_entry WHERE kind = ? AND entity_id = ?`
	if !includeHidden {
		query += ` AND is_hidden = 0`
	}
	query += ` ORDER BY created_at ASC, seq ASC`
	rows, err := q.db.QueryContext(ctx, query, kind, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.HistoryEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CommentAuthors lists the distinct authors of commented entries
// appended before seq.
func (q queries) CommentAuthors(ctx context.Context, kind model.Kind, id int64, beforeSeq int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT DISTINCT author_id FROM history_entry
WHERE kind = ? AND entity_id = ? AND seq < ? AND comment <> '' AND author_id IS NOT NULL
ORDER BY author_id`, kind, id, beforeSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]int64, 0)
	for rows.Next() {
		var author int64
		if err := rows.Scan(&author); err != nil {
			return nil, err
		}
		out = append(out, author)
	}
	return out, rows.Err()
}
