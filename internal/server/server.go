package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/simonjohansson/tracker/internal/dispatch"
	"github.com/simonjohansson/tracker/internal/history"
	"github.com/simonjohansson/tracker/internal/notify"
	"github.com/simonjohansson/tracker/internal/service"
	"github.com/simonjohansson/tracker/internal/store"
	"github.com/simonjohansson/tracker/internal/webhook"
)

type Options struct {
	SQLitePath string
	Logger     *slog.Logger
	// Mailer sends notification mail. Nil logs messages instead.
	Mailer     notify.Mailer
	MailDomain string
	Webhook    webhook.Options
	Worker     dispatch.Config
	// DisableWorker leaves queued deliveries in the outbox.
	DisableWorker bool
	Registry      *history.Registry
	StrictSquash  bool
}

type Server struct {
	store    *store.Store
	service  *service.Service
	worker   *dispatch.Worker
	hub      *hub
	registry *prometheus.Registry
	logger   *slog.Logger
	router   *chi.Mux
	api      huma.API

	stop      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(opts.SQLitePath, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := dispatch.NewMetrics(registry)

	webhookOpts := opts.Webhook
	if webhookOpts.Logger == nil {
		webhookOpts.Logger = logger
	}
	sender := webhook.NewSender(webhookOpts)
	h := newHub(logger)
	worker := dispatch.New(st, opts.Mailer, sender, metrics, opts.Worker, logger, dispatch.WithPublisher(h))

	var waker service.Waker
	if !opts.DisableWorker {
		waker = worker
	}
	svc := service.New(st, service.Options{
		Registry:     opts.Registry,
		MailDomain:   opts.MailDomain,
		Sender:       sender,
		Publisher:    h,
		Waker:        waker,
		Observer:     metrics,
		StrictSquash: opts.StrictSquash,
	}, logger)

	router := chi.NewRouter()
	s := &Server{
		store:    st,
		service:  svc,
		worker:   worker,
		hub:      h,
		registry: registry,
		logger:   logger,
		router:   router,
		done:     make(chan struct{}),
	}
	s.routes()

	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	if opts.DisableWorker {
		close(s.done)
	} else {
		go func() {
			defer close(s.done)
			if err := worker.Run(ctx); err != nil {
				logger.Error("dispatch worker stopped", "error", err)
			}
		}()
	}
	s.logger.Info("server initialized", "sqlite_path", opts.SQLitePath, "worker", !opts.DisableWorker)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.api.OpenAPI()
}

func (s *Server) Service() *service.Service {
	return s.service
}

// Worker is exposed so tests can drain the outbox synchronously.
func (s *Server) Worker() *dispatch.Worker {
	return s.worker
}

// Close stops the worker, which requeues anything inflight, and then
// closes the hub and the store.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stop()
		<-s.done
		s.hub.Close()
		err = s.store.Close()
	})
	return err
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLoggingMiddleware)

	config := huma.DefaultConfig("Tracker API", "1.0.0")
	config.OpenAPIPath = "/openapi"
	config.DocsPath = ""

	s.api = humachi.New(s.router, config)
	s.registerOperations()
	s.registerWebSocketOperationDocs()

	s.router.Get("/ws", s.serveWS)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
}

func (s *Server) registerOperations() {
	huma.Get(s.api, "/health", s.health)
	s.registerDirectoryOperations()
	s.registerEntityOperations()
	s.registerPolicyOperations()
	s.registerWebhookOperations()
	s.registerDeliveryOperations()
}

func (s *Server) registerWebSocketOperationDocs() {
	oapi := s.api.OpenAPI()
	if oapi.Paths == nil {
		oapi.Paths = map[string]*huma.PathItem{}
	}
	oapi.Paths["/ws"] = &huma.PathItem{
		Get: &huma.Operation{
			OperationID: "websocketEvents",
			Summary:     "Live notification stream",
			Description: "Subscribe to history events. The project query param filters by project slug, user narrows addressed events to that user.",
			Responses: map[string]*huma.Response{
				"101": {Description: "Switching protocols to websocket"},
			},
		},
	}
}

type healthOutput struct {
	Body struct {
		Ok bool `json:"ok"`
	}
}

func (s *Server) health(_ context.Context, _ *struct{}) (*healthOutput, error) {
	out := &healthOutput{}
	out.Body.Ok = true
	return out, nil
}

// authorOf maps the optional X-User-Id header to an author id.
func authorOf(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
