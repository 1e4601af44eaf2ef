package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	masterdata "moldwatch-cloud/internal/masterdata/domain"
)

const defaultDevicesTable = "devices"

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, mac, device_code, sensor_kind, name, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByMAC loads a device by its hardware address.
func (r *DeviceRepository) GetByMAC(ctx context.Context, mac string) (*masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	mac = strings.ToLower(strings.TrimSpace(mac))
	if mac == "" {
		return nil, errors.New("device repo: empty mac")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, mac, device_code, sensor_kind, name, created_at, updated_at
FROM %s
WHERE LOWER(mac) = $1
LIMIT 1`, r.table)

	return r.scanOne(r.db.QueryRowContext(ctx, query, mac))
}

func (r *DeviceRepository) scanOne(row *sql.Row) (*masterdata.Device, error) {
	var device masterdata.Device
	if err := row.Scan(
		&device.ID,
		&device.SiteID,
		&device.MAC,
		&device.DeviceCode,
		&device.SensorKind,
		&device.Name,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}

// ListBySite loads devices for a site.
func (r *DeviceRepository) ListBySite(ctx context.Context, siteID string) ([]masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("device repo: empty site id")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, mac, device_code, sensor_kind, name, created_at, updated_at
FROM %s
WHERE site_id = $1
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Device
	for rows.Next() {
		var device masterdata.Device
		if err := rows.Scan(
			&device.ID,
			&device.SiteID,
			&device.MAC,
			&device.DeviceCode,
			&device.SensorKind,
			&device.Name,
			&device.CreatedAt,
			&device.UpdatedAt,
		); err != nil {
			return nil, err
		}
		device.CreatedAt = device.CreatedAt.UTC()
		device.UpdatedAt = device.UpdatedAt.UTC()
		result = append(result, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a device.
func (r *DeviceRepository) Save(ctx context.Context, device *masterdata.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	site_id,
	mac,
	device_code,
	sensor_kind,
	name
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (id)
DO UPDATE SET
	site_id = EXCLUDED.site_id,
	mac = EXCLUDED.mac,
	device_code = EXCLUDED.device_code,
	sensor_kind = EXCLUDED.sensor_kind,
	name = EXCLUDED.name,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		device.ID,
		device.SiteID,
		strings.ToLower(strings.TrimSpace(device.MAC)),
		device.DeviceCode,
		device.SensorKind,
		device.Name,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	return nil
}
