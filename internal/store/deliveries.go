package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/simonjohansson/tracker/internal/model"
)

const deliveryColumns = `id, entry_id, channel, target_id, lane, state, attempts, next_attempt_at,
  payload, last_error, created_at, updated_at`

func scanDelivery(scan func(dest ...any) error) (model.Delivery, error) {
	var (
		d                      model.Delivery
		channel, state         string
		next, created, updated string
	)
	if err := scan(&d.ID, &d.EntryID, &channel, &d.TargetID, &d.Lane, &state, &d.Attempts, &next,
		&d.Payload, &d.LastError, &created, &updated); err != nil {
		return model.Delivery{}, err
	}
	d.Channel = model.Channel(channel)
	d.State = model.DeliveryState(state)
	var err error
	if d.NextAttemptAt, err = parseTime(next); err != nil {
		return model.Delivery{}, err
	}
	if d.CreatedAt, err = parseTime(created); err != nil {
		return model.Delivery{}, err
	}
	if d.UpdatedAt, err = parseTime(updated); err != nil {
		return model.Delivery{}, err
	}
	return d, nil
}

// Lane orders deliveries of one target about one entity.
func Lane(channel model.Channel, targetID int64, kind model.Kind, entityID int64) string {
	return fmt.Sprintf("%s:%d:%s:%d", channel, targetID, kind, entityID)
}

// EnqueueDelivery inserts a pending outbox row. It reports false when a
// row for the same (entry, channel, target) already exists.
func (q queries) EnqueueDelivery(ctx context.Context, d *model.Delivery) (bool, error) {
	now := time.Now().UTC()
	if d.NextAttemptAt.IsZero() {
		d.NextAttemptAt = now
	}
	d.State = model.DeliveryPending
	d.CreatedAt = now
	d.UpdatedAt = now
	res, err := q.db.ExecContext(ctx, `
INSERT INTO delivery (entry_id, channel, target_id, lane, state, attempts, next_attempt_at,
  payload, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?, '', ?, ?)
ON CONFLICT (entry_id, channel, target_id) DO NOTHING`,
		d.EntryID, d.Channel, d.TargetID, d.Lane, d.State, formatTime(d.NextAttemptAt),
		d.Payload, formatTime(now), formatTime(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	d.ID, err = res.LastInsertId()
	return err == nil, err
}

func (q queries) GetDelivery(ctx context.Context, id int64) (model.Delivery, error) {
	d, err := scanDelivery(q.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM delivery WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Delivery{}, fmt.Errorf("delivery %d: %w", id, ErrNotFound)
	}
	return d, err
}

type DeliveryFilter struct {
	EntryID string
	State   model.DeliveryState
	Limit   int
}

func (q queries) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM delivery WHERE 1 = 1`
	args := []any{}
	if filter.EntryID != "" {
		query += ` AND entry_id = ?`
		args = append(args, filter.EntryID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State)
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDeliveries returns the number of outbox rows per state.
func (q queries) CountDeliveries(ctx context.Context) (map[model.DeliveryState]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM delivery GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[model.DeliveryState]int{}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[model.DeliveryState(state)] = n
	}
	return out, rows.Err()
}

// ClaimDue moves up to limit due deliveries to inflight and returns
// them. A delivery is only due when no earlier delivery of its lane is
// still unfinished, so each lane drains in insertion order.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.Delivery, error) {
	var claimed []model.Delivery
	err := s.WithTx(ctx, func(tx *Tx) error {
		rows, err := tx.db.QueryContext(ctx, `
SELECT `+deliveryColumns+` FROM delivery d
WHERE d.state IN ('pending', 'retry_scheduled')
  AND d.next_attempt_at <= ?
  AND NOT EXISTS (
    SELECT 1 FROM delivery p
    WHERE p.lane = d.lane AND p.id < d.id AND p.state NOT IN ('success', 'dead')
  )
ORDER BY d.next_attempt_at, d.id
LIMIT ?`, formatTime(now), limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			d, err := scanDelivery(rows.Scan)
			if err != nil {
				_ = rows.Close()
				return err
			}
			claimed = append(claimed, d)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		stamp := formatTime(now)
		for i := range claimed {
			if _, err := tx.db.ExecContext(ctx,
				`UPDATE delivery SET state = 'inflight', updated_at = ? WHERE id = ?`,
				stamp, claimed[i].ID); err != nil {
				return err
			}
			claimed[i].State = model.DeliveryInflight
			claimed[i].UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	State         model.DeliveryState
	NextAttemptAt time.Time
	LastError     string
	// CountAttempt is false for attempts interrupted by shutdown.
	CountAttempt bool
}

// CompleteDelivery records the outcome of an inflight delivery.
func (q queries) CompleteDelivery(ctx context.Context, id int64, out Outcome) error {
	now := time.Now().UTC()
	next := out.NextAttemptAt
	if next.IsZero() {
		next = now
	}
	increment := 0
	if out.CountAttempt {
		increment = 1
	}
	res, err := q.db.ExecContext(ctx, `
UPDATE delivery
SET state = ?, attempts = attempts + ?, next_attempt_at = ?, last_error = ?, updated_at = ?
WHERE id = ? AND state = 'inflight'`,
		out.State, increment, formatTime(next), out.LastError, formatTime(now), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Sprintf("inflight delivery %d", id))
}

// RequeueInflight returns every inflight delivery to retry_scheduled.
// It runs when the worker starts and stops.
func (q queries) RequeueInflight(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := q.db.ExecContext(ctx, `
UPDATE delivery SET state = 'retry_scheduled', next_attempt_at = ?, updated_at = ?
WHERE state = 'inflight'`, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReviveDelivery puts a dead delivery back in its lane with a fresh
// attempt budget.
func (q queries) ReviveDelivery(ctx context.Context, id int64) error {
	now := formatTime(time.Now())
	res, err := q.db.ExecContext(ctx, `
UPDATE delivery SET state = 'retry_scheduled', attempts = 0, next_attempt_at = ?, updated_at = ?
WHERE id = ? AND state = 'dead'`, now, now, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Sprintf("dead delivery %d", id))
}
