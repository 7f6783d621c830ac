package model

import "time"

type Webhook struct {
	ID             int64     `json:"id"`
	ProjectID      int64     `json:"project_id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	Key            string    `json:"key"`
	DeliveredCount int       `json:"delivered_count"`
	FailedCount    int       `json:"failed_count"`
	CreatedAt      time.Time `json:"created_at"`
}

type WebhookLog struct {
	ID              int64             `json:"id"`
	WebhookID       int64             `json:"webhook_id"`
	EntryID         string            `json:"entry_id"`
	DeliveryID      int64             `json:"delivery_id"`
	CreatedAt       time.Time         `json:"created_at"`
	URL             string            `json:"url"`
	Status          DeliveryState     `json:"status"`
	RequestPayload  string            `json:"request_payload"`
	RequestHeaders  map[string]string `json:"request_headers"`
	ResponseStatus  int               `json:"response_status"`
	ResponseHeaders map[string]string `json:"response_headers"`
	ResponseBody    string            `json:"response_body"`
	Duration        time.Duration     `json:"duration"`
}

type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
)

type DeliveryState string

const (
	DeliveryPending        DeliveryState = "pending"
	DeliveryInflight       DeliveryState = "inflight"
	DeliverySuccess        DeliveryState = "success"
	DeliveryFailed         DeliveryState = "failed"
	DeliveryRetryScheduled DeliveryState = "retry_scheduled"
	DeliveryDead           DeliveryState = "dead"
)

func (s DeliveryState) Terminal() bool {
	return s == DeliverySuccess || s == DeliveryDead
}

// Delivery is one outbox row: a single message for a single target,
// frozen at enqueue time.
type Delivery struct {
	ID            int64         `json:"id"`
	EntryID       string        `json:"entry_id"`
	Channel       Channel       `json:"channel"`
	TargetID      int64         `json:"target_id"`
	Lane          string        `json:"lane"`
	State         DeliveryState `json:"state"`
	Attempts      int           `json:"attempts"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	Payload       []byte        `json:"payload"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
