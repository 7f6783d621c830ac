package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/simonjohansson/tracker/internal/model"
)

func (q queries) CreateProject(ctx context.Context, slug, name string) (model.Project, error) {
	project := model.Project{
		Slug:      strings.TrimSpace(slug),
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO project (slug, name, created_at) VALUES (?, ?, ?)`,
		project.Slug, project.Name, formatTime(project.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Project{}, fmt.Errorf("project %s: %w", project.Slug, ErrAlreadyExists)
		}
		return model.Project{}, err
	}
	if project.ID, err = res.LastInsertId(); err != nil {
		return model.Project{}, err
	}
	return project, nil
}

func (q queries) GetProject(ctx context.Context, id int64) (model.Project, error) {
	return q.scanProject(q.db.QueryRowContext(ctx,
		`SELECT id, slug, name, created_at FROM project WHERE id = ?`, id))
}

func (q queries) GetProjectBySlug(ctx context.Context, slug string) (model.Project, error) {
	return q.scanProject(q.db.QueryRowContext(ctx,
		`SELECT id, slug, name, created_at FROM project WHERE slug = ?`, slug))
}

func (q queries) scanProject(row *sql.Row) (model.Project, error) {
	var (
		p       model.Project
		created string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Project{}, fmt.Errorf("project: %w", ErrNotFound)
		}
		return model.Project{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return model.Project{}, err
	}
	return p, nil
}

func (q queries) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	res, err := q.db.ExecContext(ctx, `
INSERT INTO app_user (username, full_name, email, is_active, is_system)
VALUES (?, ?, ?, ?, ?)`,
		user.Username, user.FullName, user.Email, boolToInt(user.IsActive), boolToInt(user.IsSystem))
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("user %s: %w", user.Username, ErrAlreadyExists)
		}
		return model.User{}, err
	}
	if user.ID, err = res.LastInsertId(); err != nil {
		return model.User{}, err
	}
	return user, nil
}

const userColumns = `id, username, full_name, email, is_active, is_system`

func scanUser(scan func(dest ...any) error) (model.User, error) {
	var (
		u              model.User
		active, system int
	)
	if err := scan(&u.ID, &u.Username, &u.FullName, &u.Email, &active, &system); err != nil {
		return model.User{}, err
	}
	u.IsActive = active == 1
	u.IsSystem = system == 1
	return u, nil
}

func (q queries) GetUser(ctx context.Context, id int64) (model.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM app_user WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return u, err
}

func (q queries) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM app_user WHERE username = ?`, username).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return u, err
}

// Users returns the users with the given ids; unknown ids are skipped.
func (q queries) Users(ctx context.Context, ids []int64) (map[int64]model.User, error) {
	out := make(map[int64]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM app_user WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (q queries) AddMembership(ctx context.Context, m model.Membership) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO membership (project_id, user_id, role_id) VALUES (?, ?, ?)
ON CONFLICT(project_id, user_id) DO UPDATE SET role_id = excluded.role_id`,
		m.ProjectID, m.UserID, nullInt64(m.RoleID))
	return err
}

func (q queries) MemberIDs(ctx context.Context, projectID int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT user_id FROM membership WHERE project_id = ? ORDER BY user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MemberByUsername finds a project member by username.
func (q queries) MemberByUsername(ctx context.Context, projectID int64, username string) (model.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, `
SELECT u.id, u.username, u.full_name, u.email, u.is_active, u.is_system
FROM app_user u JOIN membership m ON m.user_id = u.id
WHERE m.project_id = ? AND u.username = ?`, projectID, username).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("member %s: %w", username, ErrNotFound)
	}
	return u, err
}

func (q queries) CreateRole(ctx context.Context, role model.Role) (model.Role, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO role (project_id, name) VALUES (?, ?)`, role.ProjectID, role.Name)
	if err != nil {
		return model.Role{}, err
	}
	if role.ID, err = res.LastInsertId(); err != nil {
		return model.Role{}, err
	}
	return role, nil
}

func (q queries) CreatePoints(ctx context.Context, points model.Points) (model.Points, error) {
	var value sql.NullFloat64
	if points.Value != nil {
		value = sql.NullFloat64{Float64: *points.Value, Valid: true}
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO points (project_id, name, value) VALUES (?, ?, ?)`, points.ProjectID, points.Name, value)
	if err != nil {
		return model.Points{}, err
	}
	if points.ID, err = res.LastInsertId(); err != nil {
		return model.Points{}, err
	}
	return points, nil
}

func (q queries) IsMember(ctx context.Context, projectID, userID int64) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM membership WHERE project_id = ? AND user_id = ?`, projectID, userID).Scan(&n)
	return n > 0, err
}
