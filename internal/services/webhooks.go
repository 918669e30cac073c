package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/shared"
)

// WebhookService manages outbound notification targets.
type WebhookService struct {
	api Requester
}

func NewWebhookService(api Requester) *WebhookService {
	return &WebhookService{api: api}
}

// WebhookTestResult is the backend's report of a test delivery.
type WebhookTestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (s *WebhookService) List(ctx context.Context, productionID string) ([]models.Webhook, error) {
	var hooks []models.Webhook
	if err := s.api.Get(ctx, productionPath(productionID, "webhooks"), &hooks); err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return hooks, nil
}

func (s *WebhookService) Create(ctx context.Context, productionID string, hook models.Webhook) (*models.Webhook, error) {
	u, err := url.Parse(hook.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: webhook URL must be absolute http(s)", shared.ErrInvalidInput)
	}

	var created models.Webhook
	if err := s.api.Post(ctx, productionPath(productionID, "webhooks"), hook, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *WebhookService) Delete(ctx context.Context, productionID, webhookID string) error {
	if err := requireID("webhook", webhookID); err != nil {
		return err
	}
	return s.api.Delete(ctx, productionPath(productionID, "webhooks", escape(webhookID)), nil)
}

// Test asks the backend to deliver a sample event to the webhook.
func (s *WebhookService) Test(ctx context.Context, productionID, webhookID string) (*WebhookTestResult, error) {
	if err := requireID("webhook", webhookID); err != nil {
		return nil, err
	}

	var result WebhookTestResult
	if err := s.api.Post(ctx, productionPath(productionID, "webhooks", escape(webhookID), "test"), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
