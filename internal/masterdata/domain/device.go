package masterdata

import (
	"context"
	"errors"
	"time"
)

// Device represents a sensor node bound to a site.
type Device struct {
	ID         string
	SiteID     string
	MAC        string
	DeviceCode string
	SensorKind string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.SiteID == "" {
		return errors.New("device: empty site id")
	}
	return nil
}

// DeviceRepository manages device persistence.
type DeviceRepository interface {
	Get(ctx context.Context, id string) (*Device, error)
	GetByMAC(ctx context.Context, mac string) (*Device, error)
	ListBySite(ctx context.Context, siteID string) ([]Device, error)
	Save(ctx context.Context, device *Device) error
}
