package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/simonjohansson/tracker/internal/model"
)

const policyColumns = `user_id, project_id, level, live_level, notify_own_changes, created_at, updated_at`

func scanPolicy(scan func(dest ...any) error) (model.NotifyPolicy, error) {
	var (
		p                model.NotifyPolicy
		level, live      string
		own              int
		created, updated string
	)
	if err := scan(&p.UserID, &p.ProjectID, &level, &live, &own, &created, &updated); err != nil {
		return model.NotifyPolicy{}, err
	}
	p.Level = model.NotifyLevel(level)
	p.LiveLevel = model.NotifyLevel(live)
	p.NotifyOwnChanges = own == 1
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return model.NotifyPolicy{}, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return model.NotifyPolicy{}, err
	}
	return p, nil
}

func (q queries) GetPolicy(ctx context.Context, userID, projectID int64) (model.NotifyPolicy, error) {
	p, err := scanPolicy(q.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM notify_policy WHERE user_id = ? AND project_id = ?`,
		userID, projectID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NotifyPolicy{}, fmt.Errorf("policy for user %d in project %d: %w", userID, projectID, ErrNotFound)
	}
	return p, err
}

// EnsurePolicy returns the stored policy, creating the default one on
// first access. Concurrent callers observe the same row.
func (q queries) EnsurePolicy(ctx context.Context, userID, projectID int64) (model.NotifyPolicy, error) {
	def := model.DefaultNotifyPolicy(userID, projectID)
	now := formatTime(time.Now())
	if _, err := q.db.ExecContext(ctx, `
INSERT INTO notify_policy (user_id, project_id, level, live_level, notify_own_changes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, project_id) DO NOTHING`,
		userID, projectID, def.Level, def.LiveLevel, boolToInt(def.NotifyOwnChanges), now, now); err != nil {
		return model.NotifyPolicy{}, err
	}
	return q.GetPolicy(ctx, userID, projectID)
}

func (q queries) UpsertPolicy(ctx context.Context, p model.NotifyPolicy) (model.NotifyPolicy, error) {
	now := formatTime(time.Now())
	if _, err := q.db.ExecContext(ctx, `
INSERT INTO notify_policy (user_id, project_id, level, live_level, notify_own_changes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, project_id) DO UPDATE SET
  level = excluded.level,
  live_level = excluded.live_level,
  notify_own_changes = excluded.notify_own_changes,
  updated_at = excluded.updated_at`,
		p.UserID, p.ProjectID, p.Level, p.LiveLevel, boolToInt(p.NotifyOwnChanges), now, now); err != nil {
		return model.NotifyPolicy{}, err
	}
	return q.GetPolicy(ctx, p.UserID, p.ProjectID)
}

// ListPolicies returns the stored policies of a project keyed by user.
// Users without a row are absent.
func (q queries) ListPolicies(ctx context.Context, projectID int64) (map[int64]model.NotifyPolicy, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM notify_policy WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]model.NotifyPolicy{}
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, err
		}
		out[p.UserID] = p
	}
	return out, rows.Err()
}
