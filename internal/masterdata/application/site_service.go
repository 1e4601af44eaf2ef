package application

import (
	"context"
	"errors"

	masterdata "moldwatch-cloud/internal/masterdata/domain"
)

// SiteService provides minimal site commands.
type SiteService struct {
	repo masterdata.SiteRepository
}

// NewSiteService constructs a site service.
func NewSiteService(repo masterdata.SiteRepository) (*SiteService, error) {
	if repo == nil {
		return nil, errors.New("site service: nil repository")
	}
	return &SiteService{repo: repo}, nil
}

// UpsertSite validates and saves a site.
func (s *SiteService) UpsertSite(ctx context.Context, site *masterdata.Site) error {
	if site == nil {
		return errors.New("site service: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}
	return s.repo.Save(ctx, site)
}
