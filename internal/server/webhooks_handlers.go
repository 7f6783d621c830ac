package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/service"
)

func (s *Server) registerWebhookOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "createWebhook",
		Method:        http.MethodPost,
		Path:          "/projects/{project}/webhooks",
		DefaultStatus: http.StatusCreated,
		Summary:       "Create webhook",
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.createWebhook)

	huma.Register(s.api, huma.Operation{
		OperationID: "listWebhooks",
		Method:      http.MethodGet,
		Path:        "/projects/{project}/webhooks",
		Summary:     "List webhooks",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.listWebhooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getWebhook",
		Method:      http.MethodGet,
		Path:        "/webhooks/{id}",
		Summary:     "Get webhook",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.getWebhook)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateWebhook",
		Method:      http.MethodPatch,
		Path:        "/webhooks/{id}",
		Summary:     "Update webhook",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, s.updateWebhook)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteWebhook",
		Method:        http.MethodDelete,
		Path:          "/webhooks/{id}",
		DefaultStatus: http.StatusNoContent,
		Summary:       "Delete webhook",
		Errors:        []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.deleteWebhook)

	huma.Register(s.api, huma.Operation{
		OperationID: "listWebhookLogs",
		Method:      http.MethodGet,
		Path:        "/webhooks/{id}/logs",
		Summary:     "List the latest webhook attempts",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.listWebhookLogs)

	huma.Register(s.api, huma.Operation{
		OperationID: "testWebhook",
		Method:      http.MethodPost,
		Path:        "/webhooks/{id}/test",
		Summary:     "Send a test payload",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.testWebhook)

	huma.Register(s.api, huma.Operation{
		OperationID: "resendWebhookLog",
		Method:      http.MethodPost,
		Path:        "/webhook-logs/{id}/resend",
		Summary:     "Send a logged payload again",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.resendWebhookLog)
}

type createWebhookInput struct {
	Project string `path:"project"`
	Body    service.WebhookInput
}

type webhookOutput struct {
	Body model.Webhook
}

func (s *Server) createWebhook(ctx context.Context, input *createWebhookInput) (*webhookOutput, error) {
	hook, err := s.service.CreateWebhook(ctx, input.Project, input.Body)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &webhookOutput{Body: hook}, nil
}

type listWebhooksOutput struct {
	Body struct {
		Webhooks []model.Webhook `json:"webhooks"`
	}
}

func (s *Server) listWebhooks(ctx context.Context, input *projectPathInput) (*listWebhooksOutput, error) {
	hooks, err := s.service.ListWebhooks(ctx, input.Project)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &listWebhooksOutput{}
	out.Body.Webhooks = hooks
	return out, nil
}

type webhookPathInput struct {
	ID     int64 `path:"id"`
	Author int64 `header:"X-User-Id"`
}

func (s *Server) getWebhook(ctx context.Context, input *webhookPathInput) (*webhookOutput, error) {
	hook, err := s.service.GetWebhook(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &webhookOutput{Body: hook}, nil
}

type updateWebhookInput struct {
	ID   int64 `path:"id"`
	Body service.WebhookPatch
}

func (s *Server) updateWebhook(ctx context.Context, input *updateWebhookInput) (*webhookOutput, error) {
	hook, err := s.service.UpdateWebhook(ctx, input.ID, input.Body)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &webhookOutput{Body: hook}, nil
}

func (s *Server) deleteWebhook(ctx context.Context, input *webhookPathInput) (*struct{}, error) {
	if err := s.service.DeleteWebhook(ctx, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	return nil, nil
}

type webhookLogsOutput struct {
	Body struct {
		Logs []model.WebhookLog `json:"logs"`
	}
}

func (s *Server) listWebhookLogs(ctx context.Context, input *webhookPathInput) (*webhookLogsOutput, error) {
	logs, err := s.service.ListWebhookLogs(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &webhookLogsOutput{}
	out.Body.Logs = logs
	return out, nil
}

type webhookLogOutput struct {
	Body model.WebhookLog
}

func (s *Server) testWebhook(ctx context.Context, input *webhookPathInput) (*webhookLogOutput, error) {
	log, err := s.service.TestWebhook(ctx, input.ID, authorOf(input.Author))
	if err != nil {
		return nil, toHumaError(err)
	}
	return &webhookLogOutput{Body: log}, nil
}

type webhookLogPathInput struct {
	ID int64 `path:"id"`
}

func (s *Server) resendWebhookLog(ctx context.Context, input *webhookLogPathInput) (*webhookLogOutput, error) {
	log, err := s.service.ResendWebhookLog(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &webhookLogOutput{Body: log}, nil
}
