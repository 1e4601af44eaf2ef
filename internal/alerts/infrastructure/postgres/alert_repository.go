package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "moldwatch-cloud/internal/alerts/domain"
)

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a new alert.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.TenantID == "" || alert.SiteID == "" || alert.DeviceID == "" || alert.EventType == "" {
		return errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, tenant_id, site_id, device_id, event_type, metric, severity, status,
	delta, last_value, from_wake, to_wake, start_at, end_at, acked_at, cleared_at,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13, $14, $15, $16,
	$17, $18
)`,
		alert.ID,
		alert.TenantID,
		alert.SiteID,
		alert.DeviceID,
		alert.EventType,
		alert.Metric,
		alert.Severity,
		alert.Status,
		alert.Delta,
		alert.LastValue,
		alert.FromWake,
		alert.ToWake,
		alert.StartAt,
		nullableTime(alert.EndAt),
		nullableTime(alert.AckedAt),
		nullableTime(alert.ClearedAt),
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	return err
}

// GetByID fetches an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, site_id, device_id, event_type, metric, severity, status,
	delta, last_value, from_wake, to_wake, start_at, end_at, acked_at, cleared_at,
	created_at, updated_at
FROM alerts
WHERE id = $1`, id)
	return scanAlert(row)
}

// FindOpenByDeviceEvent returns an active or acknowledged alert for a
// device and event type.
func (r *AlertRepository) FindOpenByDeviceEvent(ctx context.Context, tenantID, deviceID, eventType string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if tenantID == "" || deviceID == "" || eventType == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, site_id, device_id, event_type, metric, severity, status,
	delta, last_value, from_wake, to_wake, start_at, end_at, acked_at, cleared_at,
	created_at, updated_at
FROM alerts
WHERE tenant_id = $1 AND device_id = $2 AND event_type = $3
	AND status IN ('active', 'acknowledged')
ORDER BY created_at DESC
LIMIT 1`, tenantID, deviceID, eventType)
	return scanAlert(row)
}

// UpdateObserved refreshes the latest delta and value on an open alert.
func (r *AlertRepository) UpdateObserved(ctx context.Context, id string, delta, value float64, toWake int, updatedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET delta = $1, last_value = $2, to_wake = $3, updated_at = $4
WHERE id = $5`, delta, value, toWake, updatedAt, id)
	return err
}

// MarkAcknowledged marks an alert as acknowledged.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, id string, ackedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, acked_at = $2, updated_at = $3
WHERE id = $4`, alerts.StatusAcknowledged, ackedAt, ackedAt, id)
	return err
}

// MarkCleared marks an alert as cleared.
func (r *AlertRepository) MarkCleared(ctx context.Context, id string, value float64, clearedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET status = $1, last_value = $2, end_at = $3, cleared_at = $4, updated_at = $5
WHERE id = $6`, alerts.StatusCleared, value, clearedAt, clearedAt, clearedAt, id)
	return err
}

// ListBySiteStatusAndTime lists alerts for a site within a time window.
func (r *AlertRepository) ListBySiteStatusAndTime(ctx context.Context, tenantID, siteID, status string, from, to time.Time) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if tenantID == "" || siteID == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	query := `
SELECT id, tenant_id, site_id, device_id, event_type, metric, severity, status,
	delta, last_value, from_wake, to_wake, start_at, end_at, acked_at, cleared_at,
	created_at, updated_at
FROM alerts
WHERE tenant_id = $1 AND site_id = $2 AND start_at >= $3 AND start_at < $4`
	args := []any{tenantID, siteID, from, to}
	if status != "" {
		query += " AND status = $5"
		args = append(args, status)
	}
	query += " ORDER BY start_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var metric sql.NullString
	var endAt sql.NullTime
	var ackedAt sql.NullTime
	var clearedAt sql.NullTime
	var delta sql.NullFloat64
	var lastValue sql.NullFloat64
	if err := row.Scan(
		&alert.ID,
		&alert.TenantID,
		&alert.SiteID,
		&alert.DeviceID,
		&alert.EventType,
		&metric,
		&alert.Severity,
		&alert.Status,
		&delta,
		&lastValue,
		&alert.FromWake,
		&alert.ToWake,
		&alert.StartAt,
		&endAt,
		&ackedAt,
		&clearedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.StartAt = alert.StartAt.UTC()
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if metric.Valid {
		alert.Metric = metric.String
	}
	if endAt.Valid {
		alert.EndAt = endAt.Time.UTC()
	}
	if ackedAt.Valid {
		alert.AckedAt = ackedAt.Time.UTC()
	}
	if clearedAt.Valid {
		alert.ClearedAt = clearedAt.Time.UTC()
	}
	if delta.Valid {
		alert.Delta = delta.Float64
	}
	if lastValue.Valid {
		alert.LastValue = lastValue.Float64
	}
	return &alert, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
