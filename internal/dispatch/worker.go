package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/notify"
	"github.com/simonjohansson/tracker/internal/store"
	"github.com/simonjohansson/tracker/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("tracker.dispatch")

// Store is the outbox side of the store.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.Delivery, error)
	CompleteDelivery(ctx context.Context, id int64, out store.Outcome) error
	RequeueInflight(ctx context.Context) (int64, error)
	GetWebhook(ctx context.Context, id int64) (model.Webhook, error)
	InsertWebhookLog(ctx context.Context, l *model.WebhookLog) error
	IncrementWebhookCounters(ctx context.Context, id int64, delivered bool) error
}

type Publisher interface {
	Publish(event model.Event)
}

type Config struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	Backoff      Backoff
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	c.Backoff = c.Backoff.withDefaults()
	return c
}

type Worker struct {
	store     Store
	mailer    notify.Mailer
	sender    *webhook.Sender
	publisher Publisher
	metrics   *Metrics
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	wake      chan struct{}
}

type Option func(*Worker)

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func WithPublisher(p Publisher) Option {
	return func(w *Worker) { w.publisher = p }
}

func New(st Store, mailer notify.Mailer, sender *webhook.Sender, metrics *Metrics, cfg Config, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if mailer == nil {
		mailer = notify.NewLogMailer(logger)
	}
	if sender == nil {
		sender = webhook.NewSender(webhook.Options{Logger: logger})
	}
	w := &Worker{
		store:   st,
		mailer:  mailer,
		sender:  sender,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wake asks the worker to look at the outbox now. It never blocks.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run processes the outbox until ctx is cancelled. Stale inflight rows
// are requeued on start and on the way out.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.requeue(ctx, "start"); err != nil {
		return err
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("dispatch cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return w.requeue(context.WithoutCancel(ctx), "shutdown")
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

func (w *Worker) requeue(ctx context.Context, phase string) error {
	n, err := w.store.RequeueInflight(ctx)
	if err != nil {
		return fmt.Errorf("requeue inflight deliveries: %w", err)
	}
	if n > 0 {
		w.metrics.requeued.Add(float64(n))
		w.logger.Info("inflight deliveries requeued", "phase", phase, "count", n)
	}
	return nil
}

// Drain runs batches until nothing is due and returns how many
// deliveries were attempted.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	total := 0
	for ctx.Err() == nil {
		n, err := w.RunOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
	return total, nil
}

// RunOnce claims one batch of due deliveries and attempts them, at most
// Concurrency at a time. Claimed deliveries belong to distinct lanes.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	claimed, err := w.store.ClaimDue(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim deliveries: %w", err)
	}
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for _, d := range claimed {
		g.Go(func() error {
			w.deliver(ctx, d)
			return nil
		})
	}
	return len(claimed), g.Wait()
}

// attempt carries what one try learned beyond its error.
type attempt struct {
	projectID int64
	log       *model.WebhookLog
}

func (w *Worker) deliver(ctx context.Context, d model.Delivery) {
	ctx, span := tracer.Start(ctx, "dispatch.deliver", trace.WithAttributes(
		attribute.Int64("delivery.id", d.ID),
		attribute.String("delivery.channel", string(d.Channel)),
		attribute.String("delivery.entry_id", d.EntryID),
		attribute.Int("delivery.attempts", d.Attempts),
	))
	defer span.End()

	w.metrics.inflight.Inc()
	defer w.metrics.inflight.Dec()

	start := time.Now()
	var (
		att attempt
		err error
	)
	switch d.Channel {
	case model.ChannelEmail:
		att, err = w.sendMail(ctx, d)
	case model.ChannelWebhook:
		att, err = w.sendWebhook(ctx, d)
	default:
		err = fmt.Errorf("unknown channel %q", d.Channel)
	}
	w.metrics.duration.WithLabelValues(string(d.Channel)).Observe(time.Since(start).Seconds())

	outcome := w.outcome(ctx, d, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	persist := context.WithoutCancel(ctx)
	if att.log != nil && outcome.CountAttempt {
		att.log.Status = logStatus(outcome.State)
		if err := w.store.InsertWebhookLog(persist, att.log); err != nil {
			w.logger.Error("webhook log not stored", "delivery_id", d.ID, "error", err)
		}
		if outcome.State.Terminal() {
			if err := w.store.IncrementWebhookCounters(persist, d.TargetID, outcome.State == model.DeliverySuccess); err != nil {
				w.logger.Error("webhook counters not updated", "webhook_id", d.TargetID, "error", err)
			}
		}
	}
	if err := w.store.CompleteDelivery(persist, d.ID, outcome); err != nil {
		w.logger.Error("delivery outcome not stored", "delivery_id", d.ID, "state", outcome.State, "error", err)
		return
	}
	if outcome.CountAttempt {
		w.metrics.attempts.WithLabelValues(string(d.Channel), string(outcome.State)).Inc()
	}

	switch outcome.State {
	case model.DeliverySuccess:
		w.logger.Debug("delivery sent", "delivery_id", d.ID, "channel", d.Channel, "entry_id", d.EntryID)
	case model.DeliveryRetryScheduled:
		w.logger.Warn("delivery failed, retry scheduled",
			"delivery_id", d.ID,
			"channel", d.Channel,
			"attempts", d.Attempts+1,
			"next_attempt_at", outcome.NextAttemptAt,
			"error", outcome.LastError,
		)
	case model.DeliveryDead:
		w.metrics.dead.WithLabelValues(string(d.Channel)).Inc()
		w.logger.Error("delivery exhausted",
			"delivery_id", d.ID,
			"channel", d.Channel,
			"target_id", d.TargetID,
			"entry_id", d.EntryID,
			"error", outcome.LastError,
		)
		if w.publisher != nil && att.projectID != 0 {
			w.publisher.Publish(model.Event{
				Type:      model.EventTypeDeliveryDead,
				ProjectID: att.projectID,
				EntryID:   d.EntryID,
				Timestamp: w.now().UTC(),
			})
		}
	}
}

func (w *Worker) outcome(ctx context.Context, d model.Delivery, err error) store.Outcome {
	now := w.now().UTC()
	if err == nil {
		return store.Outcome{State: model.DeliverySuccess, CountAttempt: true}
	}
	if ctx.Err() != nil {
		return store.Outcome{
			State:         model.DeliveryRetryScheduled,
			NextAttemptAt: now,
			LastError:     "interrupted: " + err.Error(),
		}
	}
	attempts := d.Attempts + 1
	if retryable(err) && !w.cfg.Backoff.Exhausted(attempts) {
		return store.Outcome{
			State:         model.DeliveryRetryScheduled,
			NextAttemptAt: now.Add(w.cfg.Backoff.Delay(attempts)),
			LastError:     err.Error(),
			CountAttempt:  true,
		}
	}
	return store.Outcome{State: model.DeliveryDead, NextAttemptAt: now, LastError: err.Error(), CountAttempt: true}
}

func retryable(err error) bool {
	var hookErr *webhook.DeliveryError
	if errors.As(err, &hookErr) {
		return hookErr.Retryable
	}
	var mailErr *notify.MailDeliveryError
	if errors.As(err, &mailErr) {
		return mailErr.Retryable
	}
	return false
}

func logStatus(state model.DeliveryState) model.DeliveryState {
	if state == model.DeliveryRetryScheduled {
		return model.DeliveryFailed
	}
	return state
}

func (w *Worker) sendMail(ctx context.Context, d model.Delivery) (attempt, error) {
	var msg notify.Message
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		return attempt{}, fmt.Errorf("decode mail payload: %w", err)
	}
	return attempt{projectID: msg.ProjectID}, w.mailer.Send(ctx, msg)
}

func (w *Worker) sendWebhook(ctx context.Context, d model.Delivery) (attempt, error) {
	hook, err := w.store.GetWebhook(ctx, d.TargetID)
	if err != nil {
		return attempt{}, fmt.Errorf("load webhook %d: %w", d.TargetID, err)
	}
	res, sendErr := w.sender.Send(ctx, webhook.Request{URL: hook.URL, Key: hook.Key, Body: d.Payload})
	return attempt{
		projectID: hook.ProjectID,
		log: &model.WebhookLog{
			WebhookID:       hook.ID,
			EntryID:         d.EntryID,
			DeliveryID:      d.ID,
			CreatedAt:       w.now().UTC(),
			URL:             hook.URL,
			RequestPayload:  string(d.Payload),
			RequestHeaders:  res.RequestHeaders,
			ResponseStatus:  res.StatusCode,
			ResponseHeaders: res.ResponseHeaders,
			ResponseBody:    res.ResponseBody,
			Duration:        res.Duration,
		},
	}, sendErr
}
