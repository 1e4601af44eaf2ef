package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	masterdata "moldwatch-cloud/internal/masterdata/domain"
)

const defaultPlacementsTable = "device_placements"

// PlacementRepository is a Postgres implementation for placements.
type PlacementRepository struct {
	db    DBTX
	table string
}

// NewPlacementRepository constructs a repository.
func NewPlacementRepository(db DBTX, opts ...PlacementOption) *PlacementRepository {
	repo := &PlacementRepository{db: db, table: defaultPlacementsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// PlacementOption configures the repository.
type PlacementOption func(*PlacementRepository)

// WithPlacementTable overrides the table name.
func WithPlacementTable(table string) PlacementOption {
	return func(repo *PlacementRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// ListBySite loads active placements for a site.
func (r *PlacementRepository) ListBySite(ctx context.Context, siteID string) ([]masterdata.Placement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("placement repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("placement repo: empty site id")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, device_id, x, y, zone, active, created_at, updated_at
FROM %s
WHERE site_id = $1 AND active = TRUE
ORDER BY device_id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Placement
	for rows.Next() {
		var placement masterdata.Placement
		if err := rows.Scan(
			&placement.ID,
			&placement.SiteID,
			&placement.DeviceID,
			&placement.X,
			&placement.Y,
			&placement.Zone,
			&placement.Active,
			&placement.CreatedAt,
			&placement.UpdatedAt,
		); err != nil {
			return nil, err
		}
		placement.CreatedAt = placement.CreatedAt.UTC()
		placement.UpdatedAt = placement.UpdatedAt.UTC()
		result = append(result, placement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save inserts a placement and retires any previous active placement for
// the same device.
func (r *PlacementRepository) Save(ctx context.Context, placement *masterdata.Placement) error {
	if r == nil || r.db == nil {
		return errors.New("placement repo: nil db")
	}
	if placement == nil {
		return errors.New("placement repo: nil placement")
	}
	if err := placement.Validate(); err != nil {
		return err
	}

	retire := fmt.Sprintf(`
UPDATE %s
SET active = FALSE, updated_at = NOW()
WHERE device_id = $1 AND active = TRUE AND id <> $2`, r.table)

	if _, err := r.db.ExecContext(ctx, retire, placement.DeviceID, placement.ID); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	site_id,
	device_id,
	x,
	y,
	zone,
	active
) VALUES (
	$1, $2, $3, $4, $5, $6, TRUE
)
ON CONFLICT (id)
DO UPDATE SET
	site_id = EXCLUDED.site_id,
	device_id = EXCLUDED.device_id,
	x = EXCLUDED.x,
	y = EXCLUDED.y,
	zone = EXCLUDED.zone,
	active = TRUE,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		placement.ID,
		placement.SiteID,
		placement.DeviceID,
		placement.X,
		placement.Y,
		placement.Zone,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if placement.CreatedAt.IsZero() {
		placement.CreatedAt = now
	}
	placement.Active = true
	placement.UpdatedAt = now
	return nil
}
