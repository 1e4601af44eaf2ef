package wake

import (
	"context"
	"errors"
	"time"

	timeline "moldwatch-cloud/internal/timeline/domain"
)

// Report is one device's contribution to a wake round, written to storage.
type Report struct {
	TenantID       string
	SiteID         string
	DeviceID       string
	WakeNumber     int
	WakeRoundStart time.Time
	Observation    timeline.DeviceObservation
}

// Validate checks report invariants.
func (r Report) Validate() error {
	if r.TenantID == "" {
		return errors.New("wake report: empty tenant id")
	}
	if r.SiteID == "" {
		return errors.New("wake report: empty site id")
	}
	if r.DeviceID == "" {
		return errors.New("wake report: empty device id")
	}
	if r.WakeNumber <= 0 {
		return errors.New("wake report: invalid wake number")
	}
	if r.WakeRoundStart.IsZero() {
		return errors.New("wake report: zero wake round start")
	}
	return nil
}

// ReportRepository persists wake reports.
type ReportRepository interface {
	InsertReports(ctx context.Context, reports []Report) error
}

// SnapshotQuery assembles site-wide wake snapshots for timeline queries.
type SnapshotQuery interface {
	QuerySnapshots(ctx context.Context, tenantID, siteID string, from, to time.Time) ([]timeline.WakeSnapshot, error)
}
