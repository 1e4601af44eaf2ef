package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "moldwatch-cloud/internal/masterdata/domain"
)

const defaultSitesTable = "sites"

// SiteRepository is a Postgres implementation for sites.
type SiteRepository struct {
	db    DBTX
	table string
}

// NewSiteRepository constructs a repository.
func NewSiteRepository(db DBTX, opts ...SiteOption) *SiteRepository {
	repo := &SiteRepository{db: db, table: defaultSitesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// SiteOption configures the repository.
type SiteOption func(*SiteRepository)

// WithSiteTable overrides the default table name.
func WithSiteTable(table string) SiteOption {
	return func(repo *SiteRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a site by id.
func (r *SiteRepository) Get(ctx context.Context, id string) (*masterdata.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}
	if id == "" {
		return nil, errors.New("site repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, tenant_id, name, timezone, site_type, region, floorplan_width, floorplan_height, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var site masterdata.Site
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&site.ID,
		&site.TenantID,
		&site.Name,
		&site.Timezone,
		&site.SiteType,
		&site.Region,
		&site.FloorplanWidth,
		&site.FloorplanHeight,
		&site.CreatedAt,
		&site.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	site.CreatedAt = site.CreatedAt.UTC()
	site.UpdatedAt = site.UpdatedAt.UTC()
	return &site, nil
}

// ListByTenant loads all sites for a tenant.
func (r *SiteRepository) ListByTenant(ctx context.Context, tenantID string) ([]masterdata.Site, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}
	if tenantID == "" {
		return nil, errors.New("site repo: empty tenant id")
	}

	query := fmt.Sprintf(`
SELECT id, tenant_id, name, timezone, site_type, region, floorplan_width, floorplan_height, created_at, updated_at
FROM %s
WHERE tenant_id = $1
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Site
	for rows.Next() {
		var site masterdata.Site
		if err := rows.Scan(
			&site.ID,
			&site.TenantID,
			&site.Name,
			&site.Timezone,
			&site.SiteType,
			&site.Region,
			&site.FloorplanWidth,
			&site.FloorplanHeight,
			&site.CreatedAt,
			&site.UpdatedAt,
		); err != nil {
			return nil, err
		}
		site.CreatedAt = site.CreatedAt.UTC()
		site.UpdatedAt = site.UpdatedAt.UTC()
		result = append(result, site)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a site.
func (r *SiteRepository) Save(ctx context.Context, site *masterdata.Site) error {
	if r == nil || r.db == nil {
		return errors.New("site repo: nil db")
	}
	if site == nil {
		return errors.New("site repo: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	tenant_id,
	name,
	timezone,
	site_type,
	region,
	floorplan_width,
	floorplan_height
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (id)
DO UPDATE SET
	tenant_id = EXCLUDED.tenant_id,
	name = EXCLUDED.name,
	timezone = EXCLUDED.timezone,
	site_type = EXCLUDED.site_type,
	region = EXCLUDED.region,
	floorplan_width = EXCLUDED.floorplan_width,
	floorplan_height = EXCLUDED.floorplan_height,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		site.ID,
		site.TenantID,
		site.Name,
		site.Timezone,
		site.SiteType,
		site.Region,
		site.FloorplanWidth,
		site.FloorplanHeight,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if site.CreatedAt.IsZero() {
		site.CreatedAt = now
	}
	site.UpdatedAt = now
	return nil
}
