package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/simonjohansson/tracker/internal/history"
	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/notify"
	"github.com/simonjohansson/tracker/internal/render"
	"github.com/simonjohansson/tracker/internal/store"
	"github.com/simonjohansson/tracker/internal/webhook"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("tracker.service")

type Publisher interface {
	Publish(event model.Event)
}

// Waker is told when new deliveries were committed to the outbox.
type Waker interface {
	Wake()
}

// EntryObserver counts appended history entries.
type EntryObserver interface {
	ObserveEntry(entryType string, hidden bool)
}

type Options struct {
	Registry *history.Registry
	Renderer history.MarkupRenderer
	// MailDomain is used in Message-ID and List-ID headers.
	MailDomain string
	Sender     *webhook.Sender
	Publisher  Publisher
	Waker      Waker
	Observer   EntryObserver
	// StrictSquash panics on malformed stored diffs instead of
	// returning them unsquashed.
	StrictSquash bool
	Clock        func() time.Time
	NewID        func() string
}

type Service struct {
	store     *store.Store
	registry  *history.Registry
	recorder  *history.Recorder
	composer  *notify.Composer
	sender    *webhook.Sender
	publisher Publisher
	waker     Waker
	observer  EntryObserver
	validate  *validator.Validate
	strict    bool
	now       func() time.Time
	logger    *slog.Logger
}

func New(st *store.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = history.DefaultRegistry()
	}
	if opts.Renderer == nil {
		opts.Renderer = render.New()
	}
	if opts.Sender == nil {
		opts.Sender = webhook.NewSender(webhook.Options{Logger: logger})
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	recorderOpts := []history.RecorderOption{history.WithClock(opts.Clock)}
	if opts.NewID != nil {
		recorderOpts = append(recorderOpts, history.WithIDGenerator(opts.NewID))
	}
	builder := history.NewBuilder(opts.Registry, opts.Renderer)
	differ := history.NewDiffer(opts.Registry, opts.Renderer)
	return &Service{
		store:     st,
		registry:  opts.Registry,
		recorder:  history.NewRecorder(builder, differ, recorderOpts...),
		composer:  notify.NewComposer(opts.MailDomain),
		sender:    opts.Sender,
		publisher: opts.Publisher,
		waker:     opts.Waker,
		observer:  opts.Observer,
		validate:  validator.New(),
		strict:    opts.StrictSquash,
		now:       opts.Clock,
		logger:    logger,
	}
}

func (s *Service) Registry() *history.Registry {
	return s.registry
}

func (s *Service) CreateProject(ctx context.Context, in ProjectInput) (model.Project, error) {
	in.Slug = strings.TrimSpace(in.Slug)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return model.Project{}, validationError(err)
	}
	project, err := s.store.CreateProject(ctx, in.Slug, in.Name)
	if err != nil {
		return model.Project{}, classify(err, "create project")
	}
	s.logger.Info("project created", "project", project.Slug, "project_id", project.ID)
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, slug string) (model.Project, error) {
	project, err := s.store.GetProjectBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return model.Project{}, classify(err, "get project")
	}
	return project, nil
}

func (s *Service) CreateUser(ctx context.Context, in UserInput) (model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := s.validate.Struct(in); err != nil {
		return model.User{}, validationError(err)
	}
	user, err := s.store.CreateUser(ctx, model.User{
		Username: in.Username,
		FullName: strings.TrimSpace(in.FullName),
		Email:    strings.TrimSpace(in.Email),
		IsActive: !in.Inactive,
		IsSystem: in.IsSystem,
	})
	if err != nil {
		return model.User{}, classify(err, "create user")
	}
	s.logger.Info("user created", "user", user.Username, "user_id", user.ID)
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (model.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return model.User{}, classify(err, "get user")
	}
	return user, nil
}

func (s *Service) AddMember(ctx context.Context, projectSlug string, userID int64, roleID *int64) error {
	project, err := s.GetProject(ctx, projectSlug)
	if err != nil {
		return err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return classify(err, "get user")
	}
	if err := s.store.AddMembership(ctx, model.Membership{ProjectID: project.ID, UserID: userID, RoleID: roleID}); err != nil {
		return classify(err, "add member")
	}
	s.logger.Info("member added", "project", project.Slug, "user_id", userID)
	return nil
}

func (s *Service) CreateRole(ctx context.Context, projectSlug, name string) (model.Role, error) {
	project, err := s.GetProject(ctx, projectSlug)
	if err != nil {
		return model.Role{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Role{}, newError(CodeValidation, "role name is required", nil)
	}
	role, err := s.store.CreateRole(ctx, model.Role{ProjectID: project.ID, Name: name})
	if err != nil {
		return model.Role{}, classify(err, "create role")
	}
	return role, nil
}

func (s *Service) CreatePoints(ctx context.Context, projectSlug, name string, value *float64) (model.Points, error) {
	project, err := s.GetProject(ctx, projectSlug)
	if err != nil {
		return model.Points{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Points{}, newError(CodeValidation, "points name is required", nil)
	}
	points, err := s.store.CreatePoints(ctx, model.Points{ProjectID: project.ID, Name: name, Value: value})
	if err != nil {
		return model.Points{}, classify(err, "create points")
	}
	return points, nil
}

func (s *Service) publish(event model.Event) {
	if s.publisher == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	s.publisher.Publish(event)
}
