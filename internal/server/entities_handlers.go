package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/service"
)

func (s *Server) registerEntityOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "createEntity",
		Method:        http.MethodPost,
		Path:          "/projects/{project}/{kind}",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create entity",
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.createEntity)

	huma.Register(s.api, huma.Operation{
		OperationID: "getEntity",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/{kind}/{id}",
		Summary:     "Get entity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.getEntity)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateEntity",
		Method:      http.MethodPatch,
		Path:        "/projects/{project}/{kind}/{id}",
		Summary:     "Update entity",
		Description: "Applies the patch when version matches the stored version and records one history entry.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, s.updateEntity)

	huma.Register(s.api, huma.Operation{
		OperationID: "deleteEntity",
		Method:      http.MethodDelete,
		Path:        "/projects/{project}/{kind}/{id}",
		Summary:     "Delete entity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, s.deleteEntity)

	huma.Register(s.api, huma.Operation{
		OperationID: "getHistory",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/{kind}/{id}/history",
		Summary:     "List history entries",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.getHistory)

	huma.Register(s.api, huma.Operation{
		OperationID: "addWatcher",
		Method:      http.MethodPost,
		Path:        "/projects/{project}/{kind}/{id}/watchers/{user}",
		Summary:     "Watch entity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.addWatcher)

	huma.Register(s.api, huma.Operation{
		OperationID: "removeWatcher",
		Method:      http.MethodDelete,
		Path:        "/projects/{project}/{kind}/{id}/watchers/{user}",
		Summary:     "Stop watching entity",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.removeWatcher)
}

type createEntityRequest struct {
	service.EntityPatch
	Comment string `json:"comment,omitempty"`
}

type createEntityInput struct {
	Project string `path:"project"`
	Kind    string `path:"kind"`
	Author  int64  `header:"X-User-Id"`
	Body    createEntityRequest
}

type entityChangeOutput struct {
	Body struct {
		Entity model.Entity       `json:"entity"`
		Entry  model.HistoryEntry `json:"entry"`
	}
}

func (s *Server) createEntity(ctx context.Context, input *createEntityInput) (*entityChangeOutput, error) {
	entity, entry, err := s.service.CreateEntity(ctx, input.Project, service.CreateEntityInput{
		Kind:     model.Kind(input.Kind),
		AuthorID: authorOf(input.Author),
		Patch:    input.Body.EntityPatch,
		Comment:  input.Body.Comment,
	})
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &entityChangeOutput{}
	out.Body.Entity = entity
	out.Body.Entry = entry
	return out, nil
}

type entityPathInput struct {
	Project string `path:"project"`
	Kind    string `path:"kind"`
	ID      int64  `path:"id"`
}

type entityOutput struct {
	Body model.Entity
}

func (s *Server) getEntity(ctx context.Context, input *entityPathInput) (*entityOutput, error) {
	entity, err := s.entityInProject(ctx, input.Project, input.Kind, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &entityOutput{Body: entity}, nil
}

type updateEntityRequest struct {
	service.EntityPatch
	Version int    `json:"version"`
	Comment string `json:"comment,omitempty"`
}

type updateEntityInput struct {
	Project string `path:"project"`
	Kind    string `path:"kind"`
	ID      int64  `path:"id"`
	Author  int64  `header:"X-User-Id"`
	Body    updateEntityRequest
}

func (s *Server) updateEntity(ctx context.Context, input *updateEntityInput) (*entityChangeOutput, error) {
	if _, err := s.entityInProject(ctx, input.Project, input.Kind, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	entity, entry, err := s.service.UpdateEntity(ctx, model.Kind(input.Kind), input.ID, service.UpdateEntityInput{
		Version:  input.Body.Version,
		AuthorID: authorOf(input.Author),
		Patch:    input.Body.EntityPatch,
		Comment:  input.Body.Comment,
	})
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &entityChangeOutput{}
	out.Body.Entity = entity
	out.Body.Entry = entry
	return out, nil
}

type deleteEntityInput struct {
	Project string `path:"project"`
	Kind    string `path:"kind"`
	ID      int64  `path:"id"`
	Version int    `query:"version" required:"true"`
	Comment string `query:"comment"`
	Author  int64  `header:"X-User-Id"`
}

type entryOutput struct {
	Body model.HistoryEntry
}

func (s *Server) deleteEntity(ctx context.Context, input *deleteEntityInput) (*entryOutput, error) {
	if _, err := s.entityInProject(ctx, input.Project, input.Kind, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	entry, err := s.service.DeleteEntity(ctx, model.Kind(input.Kind), input.ID, input.Version, authorOf(input.Author), input.Comment)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &entryOutput{Body: entry}, nil
}

type historyInput struct {
	Project  string `path:"project"`
	Kind     string `path:"kind"`
	ID       int64  `path:"id"`
	Squashed bool   `query:"squashed"`
}

type historyOutput struct {
	Body struct {
		Entries []model.HistoryEntry `json:"entries"`
	}
}

func (s *Server) getHistory(ctx context.Context, input *historyInput) (*historyOutput, error) {
	if _, err := s.entityInProject(ctx, input.Project, input.Kind, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	entries, err := s.service.GetHistory(ctx, model.Kind(input.Kind), input.ID, input.Squashed)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &historyOutput{}
	out.Body.Entries = entries
	return out, nil
}

type watcherInput struct {
	Project string `path:"project"`
	Kind    string `path:"kind"`
	ID      int64  `path:"id"`
	User    int64  `path:"user"`
	Author  int64  `header:"X-User-Id"`
}

func (s *Server) addWatcher(ctx context.Context, input *watcherInput) (*entryOutput, error) {
	if _, err := s.entityInProject(ctx, input.Project, input.Kind, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	entry, err := s.service.AddWatcher(ctx, model.Kind(input.Kind), input.ID, input.User, s.watcherAuthor(input))
	if err != nil {
		return nil, toHumaError(err)
	}
	return &entryOutput{Body: entry}, nil
}

func (s *Server) removeWatcher(ctx context.Context, input *watcherInput) (*entryOutput, error) {
	if _, err := s.entityInProject(ctx, input.Project, input.Kind, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	entry, err := s.service.RemoveWatcher(ctx, model.Kind(input.Kind), input.ID, input.User, s.watcherAuthor(input))
	if err != nil {
		return nil, toHumaError(err)
	}
	return &entryOutput{Body: entry}, nil
}

// watcherAuthor defaults the author to the watching user.
func (s *Server) watcherAuthor(input *watcherInput) *int64 {
	if author := authorOf(input.Author); author != nil {
		return author
	}
	return authorOf(input.User)
}

func (s *Server) entityInProject(ctx context.Context, projectSlug, kind string, id int64) (model.Entity, error) {
	project, err := s.service.GetProject(ctx, projectSlug)
	if err != nil {
		return model.Entity{}, err
	}
	entity, err := s.service.GetEntity(ctx, model.Kind(kind), id)
	if err != nil {
		return model.Entity{}, err
	}
	if entity.ProjectID != project.ID {
		return model.Entity{}, service.NotFound(fmt.Sprintf("%s %d not found in project %s", kind, id, project.Slug))
	}
	return entity, nil
}
