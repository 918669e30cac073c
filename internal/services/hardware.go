package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/shared"
)

// HardwareService manages peripheral input mappings.
type HardwareService struct {
	api Requester
}

func NewHardwareService(api Requester) *HardwareService {
	return &HardwareService{api: api}
}

func (s *HardwareService) ListMappings(ctx context.Context, productionID string) ([]models.HardwareMapping, error) {
	var mappings []models.HardwareMapping
	if err := s.api.Get(ctx, productionPath(productionID, "hardware", "mappings"), &mappings); err != nil {
		return nil, fmt.Errorf("failed to list hardware mappings: %w", err)
	}
	return mappings, nil
}

func (s *HardwareService) CreateMapping(ctx context.Context, productionID string, m models.HardwareMapping) (*models.HardwareMapping, error) {
	if m.DeviceType == "" || m.Input == "" {
		return nil, fmt.Errorf("%w: device type and input are required", shared.ErrMissingArgument)
	}
	if !m.Command.Engine.Valid() {
		return nil, fmt.Errorf("%w: unknown engine %q", shared.ErrInvalidInput, m.Command.Engine)
	}

	var created models.HardwareMapping
	if err := s.api.Post(ctx, productionPath(productionID, "hardware", "mappings"), m, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *HardwareService) DeleteMapping(ctx context.Context, productionID, mappingID string) error {
	if err := requireID("mapping", mappingID); err != nil {
		return err
	}
	return s.api.Delete(ctx, productionPath(productionID, "hardware", "mappings", escape(mappingID)), nil)
}
