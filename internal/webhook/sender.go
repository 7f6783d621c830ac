package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 5 * time.Second
	// MaxResponseBody caps how much of a response body is kept.
	MaxResponseBody = 64 << 10
)

var tracer = otel.Tracer("tracker.webhook")

// DeliveryError is a failed attempt. StatusCode is zero when no
// response was received.
type DeliveryError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook responded %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook request failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type Request struct {
	URL  string
	Key  string
	Body []byte
}

// Result describes one attempt, successful or not.
type Result struct {
	RequestHeaders  map[string]string
	StatusCode      int
	ResponseHeaders map[string]string
	ResponseBody    string
	Duration        time.Duration
}

type Options struct {
	Timeout time.Duration
	// RatePerHost limits requests per second to a single host. Zero
	// disables limiting.
	RatePerHost float64
	Burst       int
	Client      *http.Client
	Logger      *slog.Logger
}

type Sender struct {
	client   *http.Client
	logger   *slog.Logger
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewSender(opts Options) *Sender {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RatePerHost > 0 {
		limit = rate.Limit(opts.RatePerHost)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Sender{
		client:   client,
		logger:   logger,
		limit:    limit,
		burst:    burst,
		limiters: map[string]*rate.Limiter{},
	}
}

func (s *Sender) limiter(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[host]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[host] = l
	}
	return l
}

// Send signs and posts req.Body. A non-2xx response or a transport
// failure yields a retryable *DeliveryError; only a request that cannot
// be built is permanent. The Result is filled either way.
func (s *Sender) Send(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "webhook.send", trace.WithAttributes(
		attribute.String("webhook.url", req.URL),
		attribute.Int("webhook.body_bytes", len(req.Body)),
	))
	defer span.End()

	result := Result{RequestHeaders: Headers(req.Key, req.Body)}

	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" {
		err = &DeliveryError{Err: fmt.Errorf("invalid webhook url %q", req.URL)}
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	if err := s.limiter(target.Host).Wait(ctx); err != nil {
		return result, &DeliveryError{Err: err, Retryable: true}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return result, &DeliveryError{Err: err}
	}
	for key, value := range result.RequestHeaders {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	result.Duration = time.Since(start)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return result, &DeliveryError{Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		s.logger.Warn("webhook response body unreadable", "url", req.URL, "error", readErr)
	}
	result.StatusCode = resp.StatusCode
	result.ResponseBody = string(body)
	result.ResponseHeaders = make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		result.ResponseHeaders[key] = resp.Header.Get(key)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return result, &DeliveryError{StatusCode: resp.StatusCode, Retryable: true}
	}
	return result, nil
}
