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

// LogsPerWebhook is how many delivery logs are retained per webhook.
const LogsPerWebhook = 10

const webhookColumns = `id, project_id, name, url, key, delivered_count, failed_count, created_at`

func scanWebhook(scan func(dest ...any) error) (model.Webhook, error) {
	var (
		w       model.Webhook
		created string
	)
	if err := scan(&w.ID, &w.ProjectID, &w.Name, &w.URL, &w.Key, &w.DeliveredCount, &w.FailedCount, &created); err != nil {
		return model.Webhook{}, err
	}
	var err error
	w.CreatedAt, err = parseTime(created)
	return w, err
}

func (q queries) CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	w.CreatedAt = time.Now().UTC()
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO webhook (project_id, name, url, key, created_at) VALUES (?, ?, ?, ?, ?)`,
		w.ProjectID, w.Name, w.URL, w.Key, formatTime(w.CreatedAt))
	if err != nil {
		return model.Webhook{}, err
	}
	if w.ID, err = res.LastInsertId(); err != nil {
		return model.Webhook{}, err
	}
	return w, nil
}

func (q queries) UpdateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE webhook SET name = ?, url = ?, key = ? WHERE id = ?`, w.Name, w.URL, w.Key, w.ID)
	if err != nil {
		return model.Webhook{}, err
	}
	if err := expectOneRow(res, fmt.Sprintf("webhook %d", w.ID)); err != nil {
		return model.Webhook{}, err
	}
	return q.GetWebhook(ctx, w.ID)
}

func (q queries) DeleteWebhook(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM webhook WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Sprintf("webhook %d", id))
}

func (q queries) GetWebhook(ctx context.Context, id int64) (model.Webhook, error) {
	w, err := scanWebhook(q.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhook WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Webhook{}, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	return w, err
}

func (q queries) ListWebhooks(ctx context.Context, projectID int64) ([]model.Webhook, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhook WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// IncrementWebhookCounters bumps the delivered or failed counter.
func (q queries) IncrementWebhookCounters(ctx context.Context, id int64, delivered bool) error {
	column := "failed_count"
	if delivered {
		column = "delivered_count"
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE webhook SET `+column+` = `+column+` + 1 WHERE id = ?`, id)
	return err
}

const webhookLogColumns = `id, webhook_id, entry_id, delivery_id, created_at, url, status, request_json,
  request_headers, response_status, response_headers, response_body, duration_ms`

func scanWebhookLog(scan func(dest ...any) error) (model.WebhookLog, error) {
	var (
		l                   model.WebhookLog
		created, status     string
		reqHeaders, headers string
		durationMS          int64
	)
	if err := scan(&l.ID, &l.WebhookID, &l.EntryID, &l.DeliveryID, &created, &l.URL, &status,
		&l.RequestPayload, &reqHeaders, &l.ResponseStatus, &headers, &l.ResponseBody, &durationMS); err != nil {
		return model.WebhookLog{}, err
	}
	l.Status = model.DeliveryState(status)
	l.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal([]byte(reqHeaders), &l.RequestHeaders); err != nil {
		return model.WebhookLog{}, fmt.Errorf("decode request headers: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &l.ResponseHeaders); err != nil {
		return model.WebhookLog{}, fmt.Errorf("decode response headers: %w", err)
	}
	var err error
	l.CreatedAt, err = parseTime(created)
	return l, err
}

// InsertWebhookLog stores one attempt and prunes the webhook's log down
// to the newest LogsPerWebhook rows.
func (q queries) InsertWebhookLog(ctx context.Context, l *model.WebhookLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	reqHeaders, err := json.Marshal(nonNilHeaders(l.RequestHeaders))
	if err != nil {
		return err
	}
	headers, err := json.Marshal(nonNilHeaders(l.ResponseHeaders))
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
INSERT INTO webhook_log (webhook_id, entry_id, delivery_id, created_at, url, status, request_json,
  request_headers, response_status, response_headers, response_body, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.WebhookID, l.EntryID, l.DeliveryID, formatTime(l.CreatedAt), l.URL, l.Status, l.RequestPayload,
		string(reqHeaders), l.ResponseStatus, string(headers), l.ResponseBody, l.Duration.Milliseconds())
	if err != nil {
		return err
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
DELETE FROM webhook_log
WHERE webhook_id = ? AND id NOT IN (
  SELECT id FROM webhook_log WHERE webhook_id = ? ORDER BY id DESC LIMIT ?
)`, l.WebhookID, l.WebhookID, LogsPerWebhook)
	return err
}

// ListWebhookLogs returns the retained logs, newest first.
func (q queries) ListWebhookLogs(ctx context.Context, webhookID int64) ([]model.WebhookLog, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+webhookLogColumns+` FROM webhook_log WHERE webhook_id = ? ORDER BY id DESC`, webhookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.WebhookLog, 0)
	for rows.Next() {
		l, err := scanWebhookLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q queries) GetWebhookLog(ctx context.Context, id int64) (model.WebhookLog, error) {
	l, err := scanWebhookLog(q.db.QueryRowContext(ctx,
		`SELECT `+webhookLogColumns+` FROM webhook_log WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WebhookLog{}, fmt.Errorf("webhook log %d: %w", id, ErrNotFound)
	}
	return l, err
}

func nonNilHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}
