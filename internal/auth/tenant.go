package auth

import (
	"context"
	"database/sql"
	"errors"

	masterdatarepo "moldwatch-cloud/internal/masterdata/infrastructure/postgres"
)

var (
	// ErrTenantMismatch indicates resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// SiteTenantChecker validates site tenant ownership.
type SiteTenantChecker interface {
	EnsureSiteTenant(ctx context.Context, tenantID, siteID string) error
}

// SiteChecker checks site ownership using masterdata.
type SiteChecker struct {
	repo *masterdatarepo.SiteRepository
}

// NewSiteChecker constructs a SiteChecker.
func NewSiteChecker(db *sql.DB) *SiteChecker {
	if db == nil {
		return nil
	}
	return &SiteChecker{repo: masterdatarepo.NewSiteRepository(db)}
}

// EnsureSiteTenant verifies site belongs to tenant.
func (c *SiteChecker) EnsureSiteTenant(ctx context.Context, tenantID, siteID string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if tenantID == "" || siteID == "" {
		return nil
	}
	site, err := c.repo.Get(ctx, siteID)
	if err != nil {
		return err
	}
	if site == nil {
		return ErrNotFound
	}
	if site.TenantID != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
