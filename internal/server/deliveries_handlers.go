package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/simonjohansson/tracker/internal/model"
)

func (s *Server) registerDeliveryOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listDeliveries",
		Method:      http.MethodGet,
		Path:        "/deliveries",
		Summary:     "List outbox deliveries",
		Errors:      []int{http.StatusInternalServerError},
	}, s.listDeliveries)

	huma.Register(s.api, huma.Operation{
		OperationID: "retryDelivery",
		Method:      http.MethodPost,
		Path:        "/deliveries/{id}/retry",
		Summary:     "Retry a dead delivery",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, s.retryDelivery)
}

type listDeliveriesInput struct {
	Entry string `query:"entry"`
	State string `query:"state" enum:"pending,inflight,retry_scheduled,success,dead"`
}

type listDeliveriesOutput struct {
	Body struct {
		Deliveries []model.Delivery `json:"deliveries"`
	}
}

func (s *Server) listDeliveries(ctx context.Context, input *listDeliveriesInput) (*listDeliveriesOutput, error) {
	deliveries, err := s.service.ListDeliveries(ctx, input.Entry, model.DeliveryState(input.State))
	if err != nil {
		return nil, toHumaError(err)
	}
	out := &listDeliveriesOutput{}
	out.Body.Deliveries = deliveries
	return out, nil
}

type deliveryPathInput struct {
	ID int64 `path:"id"`
}

type deliveryOutput struct {
	Body model.Delivery
}

func (s *Server) retryDelivery(ctx context.Context, input *deliveryPathInput) (*deliveryOutput, error) {
	d, err := s.service.RetryDelivery(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &deliveryOutput{Body: d}, nil
}
