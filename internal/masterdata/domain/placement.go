package masterdata

import (
	"context"
	"errors"
	"time"
)

// Placement records where a device sits on the site floorplan. A device
// keeps its first recorded placement; installers re-placing a device
// create a new row and retire the old one.
type Placement struct {
	ID        string
	SiteID    string
	DeviceID  string
	X         float64
	Y         float64
	Zone      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks placement invariants.
func (p Placement) Validate() error {
	if p.ID == "" {
		return errors.New("placement: empty id")
	}
	if p.SiteID == "" {
		return errors.New("placement: empty site id")
	}
	if p.DeviceID == "" {
		return errors.New("placement: empty device id")
	}
	if p.X < 0 || p.Y < 0 {
		return errors.New("placement: negative coordinates")
	}
	return nil
}

// PlacementRepository manages placement persistence.
type PlacementRepository interface {
	ListBySite(ctx context.Context, siteID string) ([]Placement, error)
	Save(ctx context.Context, placement *Placement) error
}
