package masterdata

import (
	"context"
	"errors"
	"time"
)

// Site represents a monitored crawlspace or structure in masterdata.
type Site struct {
	ID              string
	TenantID        string
	Name            string
	Timezone        string
	SiteType        string
	Region          string
	FloorplanWidth  float64
	FloorplanHeight float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks site invariants.
func (s Site) Validate() error {
	if s.ID == "" {
		return errors.New("site: empty id")
	}
	if s.TenantID == "" {
		return errors.New("site: empty tenant id")
	}
	if s.Name == "" {
		return errors.New("site: empty name")
	}
	if s.Timezone == "" {
		return errors.New("site: empty timezone")
	}
	if s.FloorplanWidth < 0 || s.FloorplanHeight < 0 {
		return errors.New("site: negative floorplan dimensions")
	}
	return nil
}

// SiteRepository manages site persistence.
type SiteRepository interface {
	Get(ctx context.Context, id string) (*Site, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Site, error)
	Save(ctx context.Context, site *Site) error
}
