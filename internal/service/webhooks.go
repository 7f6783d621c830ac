package service

import (
	"context"
	"strings"

	"github.com/simonjohansson/tracker/internal/model"
	"github.com/simonjohansson/tracker/internal/store"
	"github.com/simonjohansson/tracker/internal/webhook"
)

func (s *Service) CreateWebhook(ctx context.Context, projectSlug string, in WebhookInput) (model.Webhook, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	if err := s.validate.Struct(in); err != nil {
		return model.Webhook{}, validationError(err)
	}
	project, err := s.GetProject(ctx, projectSlug)
	if err != nil {
		return model.Webhook{}, err
	}
	hook, err := s.store.CreateWebhook(ctx, model.Webhook{ProjectID: project.ID, Name: in.Name, URL: in.URL, Key: in.Key})
	if err != nil {
		return model.Webhook{}, classify(err, "create webhook")
	}
	s.logger.Info("webhook created", "project", project.Slug, "webhook_id", hook.ID, "url", hook.URL)
	return hook, nil
}

func (s *Service) UpdateWebhook(ctx context.Context, id int64, in WebhookPatch) (model.Webhook, error) {
	if err := s.validate.Struct(in); err != nil {
		return model.Webhook{}, validationError(err)
	}
	hook, err := s.GetWebhook(ctx, id)
	if err != nil {
		return model.Webhook{}, err
	}
	if in.Name != nil {
		hook.Name = strings.TrimSpace(*in.Name)
	}
	if in.URL != nil {
		hook.URL = strings.TrimSpace(*in.URL)
	}
	if in.Key != nil {
		hook.Key = *in.Key
	}
	if hook.Name == "" || hook.Key == "" {
		return model.Webhook{}, newError(CodeValidation, "name and key must not be empty", nil)
	}
	updated, err := s.store.UpdateWebhook(ctx, hook)
	if err != nil {
		return model.Webhook{}, classify(err, "update webhook")
	}
	s.logger.Info("webhook updated", "webhook_id", id)
	return updated, nil
}

func (s *Service) DeleteWebhook(ctx context.Context, id int64) error {
	if err := s.store.DeleteWebhook(ctx, id); err != nil {
		return classify(err, "delete webhook")
	}
	s.logger.Info("webhook deleted", "webhook_id", id)
	return nil
}

func (s *Service) GetWebhook(ctx context.Context, id int64) (model.Webhook, error) {
	hook, err := s.store.GetWebhook(ctx, id)
	if err != nil {
		return model.Webhook{}, classify(err, "get webhook")
	}
	return hook, nil
}

func (s *Service) ListWebhooks(ctx context.Context, projectSlug string) ([]model.Webhook, error) {
	project, err := s.GetProject(ctx, projectSlug)
	if err != nil {
		return nil, err
	}
	hooks, err := s.store.ListWebhooks(ctx, project.ID)
	if err != nil {
		return nil, classify(err, "list webhooks")
	}
	return hooks, nil
}

func (s *Service) ListWebhookLogs(ctx context.Context, webhookID int64) ([]model.WebhookLog, error) {
	if _, err := s.GetWebhook(ctx, webhookID); err != nil {
		return nil, err
	}
	logs, err := s.store.ListWebhookLogs(ctx, webhookID)
	if err != nil {
		return nil, classify(err, "list webhook logs")
	}
	return logs, nil
}

// TestWebhook sends a test payload right away and logs the attempt.
func (s *Service) TestWebhook(ctx context.Context, webhookID int64, authorID *int64) (model.WebhookLog, error) {
	hook, err := s.GetWebhook(ctx, webhookID)
	if err != nil {
		return model.WebhookLog{}, err
	}
	var author *model.User
	if authorID != nil {
		user, err := s.GetUser(ctx, *authorID)
		if err != nil {
			return model.WebhookLog{}, err
		}
		author = &user
	}
	body, err := webhook.Encode(webhook.TestPayload(s.now(), author))
	if err != nil {
		return model.WebhookLog{}, classify(err, "encode test payload")
	}
	return s.sendNow(ctx, hook, "", body)
}

// ResendWebhookLog posts the payload of a logged attempt again, signed
// with the webhook's current key.
func (s *Service) ResendWebhookLog(ctx context.Context, logID int64) (model.WebhookLog, error) {
	prev, err := s.store.GetWebhookLog(ctx, logID)
	if err != nil {
		return model.WebhookLog{}, classify(err, "get webhook log")
	}
	hook, err := s.GetWebhook(ctx, prev.WebhookID)
	if err != nil {
		return model.WebhookLog{}, err
	}
	return s.sendNow(ctx, hook, prev.EntryID, []byte(prev.RequestPayload))
}

func (s *Service) sendNow(ctx context.Context, hook model.Webhook, entryID string, body []byte) (model.WebhookLog, error) {
	res, sendErr := s.sender.Send(ctx, webhook.Request{URL: hook.URL, Key: hook.Key, Body: body})
	entry := model.WebhookLog{
		WebhookID:       hook.ID,
		EntryID:         entryID,
		CreatedAt:       s.now().UTC(),
		URL:             hook.URL,
		Status:          model.DeliverySuccess,
		RequestPayload:  string(body),
		RequestHeaders:  res.RequestHeaders,
		ResponseStatus:  res.StatusCode,
		ResponseHeaders: res.ResponseHeaders,
		ResponseBody:    res.ResponseBody,
		Duration:        res.Duration,
	}
	if sendErr != nil {
		entry.Status = model.DeliveryFailed
		if entry.ResponseBody == "" {
			entry.ResponseBody = sendErr.Error()
		}
	}
	if err := s.store.InsertWebhookLog(ctx, &entry); err != nil {
		return model.WebhookLog{}, classify(err, "store webhook log")
	}
	s.logger.Info("webhook sent", "webhook_id", hook.ID, "status", entry.Status, "response_status", entry.ResponseStatus)
	return entry, nil
}

func (s *Service) ListDeliveries(ctx context.Context, entryID string, state model.DeliveryState) ([]model.Delivery, error) {
	deliveries, err := s.store.ListDeliveries(ctx, store.DeliveryFilter{EntryID: entryID, State: state, Limit: 500})
	if err != nil {
		return nil, classify(err, "list deliveries")
	}
	return deliveries, nil
}

// RetryDelivery gives a dead delivery a fresh attempt budget.
func (s *Service) RetryDelivery(ctx context.Context, id int64) (model.Delivery, error) {
	if err := s.store.ReviveDelivery(ctx, id); err != nil {
		return model.Delivery{}, classify(err, "retry delivery")
	}
	if s.waker != nil {
		s.waker.Wake()
	}
	d, err := s.store.GetDelivery(ctx, id)
	if err != nil {
		return model.Delivery{}, classify(err, "get delivery")
	}
	s.logger.Info("delivery revived", "delivery_id", id, "channel", d.Channel)
	return d, nil
}
