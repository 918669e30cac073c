package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/desertthunder/cuedeck/internal/models"
)

// SocialService moderates audience messages pulled from streaming platforms.
type SocialService struct {
	api Requester
}

func NewSocialService(api Requester) *SocialService {
	return &SocialService{api: api}
}

// List returns the production's social messages, narrowed to status when set.
func (s *SocialService) List(ctx context.Context, productionID, status string) ([]models.SocialMessage, error) {
	path := productionPath(productionID, "social", "messages")
	if status != "" {
		path += "?" + url.Values{"status": {status}}.Encode()
	}

	var msgs []models.SocialMessage
	if err := s.api.Get(ctx, path, &msgs); err != nil {
		return nil, fmt.Errorf("failed to list social messages: %w", err)
	}
	return msgs, nil
}

func (s *SocialService) Approve(ctx context.Context, productionID, messageID string) (*models.SocialMessage, error) {
	return s.moderate(ctx, productionID, messageID, "approve")
}

// Show puts an approved message on air.
func (s *SocialService) Show(ctx context.Context, productionID, messageID string) (*models.SocialMessage, error) {
	return s.moderate(ctx, productionID, messageID, "show")
}

func (s *SocialService) Hide(ctx context.Context, productionID, messageID string) (*models.SocialMessage, error) {
	return s.moderate(ctx, productionID, messageID, "hide")
}

func (s *SocialService) moderate(ctx context.Context, productionID, messageID, action string) (*models.SocialMessage, error) {
	if err := requireID("message", messageID); err != nil {
		return nil, err
	}

	var msg models.SocialMessage
	if err := s.api.Post(ctx, productionPath(productionID, "social", "messages", escape(messageID), action), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
