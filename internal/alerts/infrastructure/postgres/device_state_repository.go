package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "moldwatch-cloud/internal/alerts/domain"
)

// DeviceStateRepository stores the last observation per device so deltas
// can be computed across process restarts.
type DeviceStateRepository struct {
	db *sql.DB
}

// NewDeviceStateRepository constructs a repository.
func NewDeviceStateRepository(db *sql.DB) *DeviceStateRepository {
	return &DeviceStateRepository{db: db}
}

// Get fetches the stored state for a device.
func (r *DeviceStateRepository) Get(ctx context.Context, tenantID, siteID, deviceID string) (*alerts.DeviceState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device state repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT tenant_id, site_id, device_id, wake_number, observation, updated_at
FROM alert_device_states
WHERE tenant_id = $1 AND site_id = $2 AND device_id = $3`, tenantID, siteID, deviceID)

	var state alerts.DeviceState
	if err := row.Scan(
		&state.TenantID,
		&state.SiteID,
		&state.DeviceID,
		&state.WakeNumber,
		&state.Observation,
		&state.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	state.UpdatedAt = state.UpdatedAt.UTC()
	return &state, nil
}

// Upsert inserts or updates the stored state for a device.
func (r *DeviceStateRepository) Upsert(ctx context.Context, state *alerts.DeviceState) error {
	if r == nil || r.db == nil {
		return errors.New("device state repo: nil db")
	}
	if state == nil {
		return errors.New("device state repo: nil state")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_device_states (
	tenant_id, site_id, device_id, wake_number, observation, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (tenant_id, site_id, device_id)
DO UPDATE SET
	wake_number = EXCLUDED.wake_number,
	observation = EXCLUDED.observation,
	updated_at = EXCLUDED.updated_at`,
		state.TenantID,
		state.SiteID,
		state.DeviceID,
		state.WakeNumber,
		state.Observation,
		state.UpdatedAt,
	)
	return err
}

// Clear deletes the stored state for a device.
func (r *DeviceStateRepository) Clear(ctx context.Context, tenantID, siteID, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("device state repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM alert_device_states
WHERE tenant_id = $1 AND site_id = $2 AND device_id = $3`, tenantID, siteID, deviceID)
	return err
}
