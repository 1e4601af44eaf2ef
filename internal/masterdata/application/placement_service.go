package application

import (
	"context"
	"errors"

	masterdata "moldwatch-cloud/internal/masterdata/domain"
)

// PlacementService provides minimal placement commands.
type PlacementService struct {
	repo masterdata.PlacementRepository
}

// NewPlacementService constructs a placement service.
func NewPlacementService(repo masterdata.PlacementRepository) (*PlacementService, error) {
	if repo == nil {
		return nil, errors.New("placement service: nil repository")
	}
	return &PlacementService{repo: repo}, nil
}

// RecordPlacement validates and saves a placement, retiring any earlier
// active placement for the device.
func (s *PlacementService) RecordPlacement(ctx context.Context, placement *masterdata.Placement) error {
	if placement == nil {
		return errors.New("placement service: nil placement")
	}
	if err := placement.Validate(); err != nil {
		return err
	}
	return s.repo.Save(ctx, placement)
}
