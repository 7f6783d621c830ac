package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/service"
)

func (s *Server) registerPolicyOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getNotifyPolicy",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/notify-policies/{user}",
		Summary:     "Get notify policy",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.getNotifyPolicy)

	huma.Register(s.api, huma.Operation{
		OperationID: "setNotifyPolicy",
		Method:      http.MethodPut,
		Path:        "/projects/{project}/notify-policies/{user}",
		Summary:     "Update notify policy",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.setNotifyPolicy)
}

type policyPathInput struct {
	Project string `path:"project"`
	User    int64  `path:"user"`
}

type policyOutput struct {
	Body model.NotifyPolicy
}

func (s *Server) getNotifyPolicy(ctx context.Context, input *policyPathInput) (*policyOutput, error) {
	policy, err := s.service.GetPolicy(ctx, input.User, input.Project)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &policyOutput{Body: policy}, nil
}

type setPolicyInput struct {
	Project string `path:"project"`
	User    int64  `path:"user"`
	Body    service.PolicyInput
}

func (s *Server) setNotifyPolicy(ctx context.Context, input *setPolicyInput) (*policyOutput, error) {
	policy, err := s.service.SetPolicy(ctx, input.User, input.Project, input.Body)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &policyOutput{Body: policy}, nil
}
