package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/service"
)

func (s *Server) registerDirectoryOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "createProject",
		Method:        http.MethodPost,
		Path:          "/projects",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create project",
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, s.createProject)

	huma.Register(s.api, huma.Operation{
		OperationID: "getProject",
		Method:      http.MethodGet,
		Path:        "/projects/{project}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.getProject)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createUser",
		Method:        http.MethodPost,
		Path:          "/users",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create user",
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, s.createUser)

	huma.Register(s.api, huma.Operation{
		OperationID: "getUser",
		Method:      http.MethodGet,
		Path:        "/users/{user}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.getUser)

	huma.Register(s.api, huma.Operation{
		OperationID:   "addMember",
		Method:        http.MethodPut,
		Path:          "/projects/{project}/members/{user}",
		DefaultStatus: http.StatusNoContent,
		Summary:       "Add project member",
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, s.addMember)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createRole",
		Method:        http.MethodPost,
		Path:          "/projects/{project}/roles",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create role",
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, s.createRole)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createPoints",
		Method:        http.MethodPost,
		Path:          "/projects/{project}/points",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create points value",
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, s.createPoints)
}

type createProjectInput struct {
	Body service.ProjectInput
}

type projectOutput struct {
	Body model.Project
}

func (s *Server) createProject(ctx context.Context, input *createProjectInput) (*projectOutput, error) {
	project, err := s.service.CreateProject(ctx, input.Body)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &projectOutput{Body: project}, nil
}

type projectPathInput struct {
	Project string `path:"project"`
}

func (s *Server) getProject(ctx context.Context, input *projectPathInput) (*projectOutput, error) {
	project, err := s.service.GetProject(ctx, input.Project)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &projectOutput{Body: project}, nil
}

type createUserRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Inactive bool   `json:"inactive,omitempty"`
	IsSystem bool   `json:"is_system,omitempty"`
}

type createUserInput struct {
	Body createUserRequest
}

type userOutput struct {
	Body model.User
}

func (s *Server) createUser(ctx context.Context, input *createUserInput) (*userOutput, error) {
	user, err := s.service.CreateUser(ctx, service.UserInput(input.Body))
	if err != nil {
		return nil, toHumaError(err)
	}
	return &userOutput{Body: user}, nil
}

type userPathInput struct {
	User int64 `path:"user"`
}

func (s *Server) getUser(ctx context.Context, input *userPathInput) (*userOutput, error) {
	user, err := s.service.GetUser(ctx, input.User)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &userOutput{Body: user}, nil
}

type addMemberRequest struct {
	RoleID *int64 `json:"role_id,omitempty"`
}

type addMemberInput struct {
	Project string `path:"project"`
	User    int64  `path:"user"`
	Body    *addMemberRequest
}

func (s *Server) addMember(ctx context.Context, input *addMemberInput) (*struct{}, error) {
	var roleID *int64
	if input.Body != nil {
		roleID = input.Body.RoleID
	}
	if err := s.service.AddMember(ctx, input.Project, input.User, roleID); err != nil {
		return nil, toHumaError(err)
	}
	return nil, nil
}

type createRoleInput struct {
	Project string `path:"project"`
	Body    struct {
		Name string `json:"name"`
	}
}

type roleOutput struct {
	Body model.Role
}

func (s *Server) createRole(ctx context.Context, input *createRoleInput) (*roleOutput, error) {
	role, err := s.service.CreateRole(ctx, input.Project, input.Body.Name)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &roleOutput{Body: role}, nil
}

type createPointsInput struct {
	Project string `path:"project"`
	Body    struct {
		Name  string   `json:"name"`
		Value *float64 `json:"value,omitempty"`
	}
}

type pointsOutput struct {
	Body model.Points
}

func (s *Server) createPoints(ctx context.Context, input *createPointsInput) (*pointsOutput, error) {
	points, err := s.service.CreatePoints(ctx, input.Project, input.Body.Name, input.Body.Value)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &pointsOutput{Body: points}, nil
}
