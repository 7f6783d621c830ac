package store

import (
	"context"
)

// Catalog resolves user, role and points ids of one project into
// names. It is loaded once per mutation.
type Catalog struct {
	users  map[int64]string
	roles  map[int64]string
	points map[int64]string
}

func (c *Catalog) Username(id int64) (string, bool) {
	name, ok := c.users[id]
	return name, ok
}

func (c *Catalog) RoleName(id int64) (string, bool) {
	name, ok := c.roles[id]
	return name, ok
}

func (c *Catalog) PointsName(id int64) (string, bool) {
	name, ok := c.points[id]
	return name, ok
}

func (q queries) LoadCatalog(ctx context.Context, projectID int64) (*Catalog, error) {
	c := &Catalog{}
	var err error
	if c.users, err = q.names(ctx, `SELECT id, username FROM app_user`); err != nil {
		return nil, err
	}
	if c.roles, err = q.names(ctx, `SELECT id, name FROM role WHERE project_id = ?`, projectID); err != nil {
		return nil, err
	}
	if c.points, err = q.names(ctx, `SELECT id, name FROM points WHERE project_id = ?`, projectID); err != nil {
		return nil, err
	}
	return c, nil
}

func (q queries) names(ctx context.Context, query string, args ...any) (map[int64]string, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]string{}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}
