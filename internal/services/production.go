package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/desertthunder/cuedeck/internal/models"
)

// ProductionService reads production snapshots and issues engine commands.
type ProductionService struct {
	api Requester
}

func NewProductionService(api Requester) *ProductionService {
	return &ProductionService{api: api}
}

// State fetches the point-in-time snapshot of a production.
func (s *ProductionService) State(ctx context.Context, productionID string) (*models.ProductionState, error) {
	if err := requireID("production", productionID); err != nil {
		return nil, err
	}

	var state models.ProductionState
	if err := s.api.Get(ctx, productionPath(productionID, "state"), &state); err != nil {
		return nil, fmt.Errorf("failed to fetch production state: %w", err)
	}
	state.ProductionID = productionID
	return &state, nil
}

// SendCommand posts an engine command. The response body is discarded; its effect arrives as a delta.
func (s *ProductionService) SendCommand(ctx context.Context, productionID string, cmd models.EngineCommand) error {
	if err := requireID("production", productionID); err != nil {
		return err
	}
	return s.api.Post(ctx, productionPath(productionID, "engine", "commands"), cmd, nil)
}

// ChatService reads chat history.
type ChatService struct {
	api Requester
}

func NewChatService(api Requester) *ChatService {
	return &ChatService{api: api}
}

// ChatHistory returns up to limit recent messages, oldest first.
func (s *ChatService) ChatHistory(ctx context.Context, productionID string, limit int) ([]models.ChatMessage, error) {
	if err := requireID("production", productionID); err != nil {
		return nil, err
	}

	path := productionPath(productionID, "chat", "messages")
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	var msgs []models.ChatMessage
	if err := s.api.Get(ctx, path, &msgs); err != nil {
		return nil, fmt.Errorf("failed to fetch chat history: %w", err)
	}
	return msgs, nil
}
