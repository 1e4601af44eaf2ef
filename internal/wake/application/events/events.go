package events

import (
	"time"

	timeline "moldwatch-cloud/internal/timeline/domain"
)

// WakeReceived is published after a device wake report is stored.
type WakeReceived struct {
	TenantID    string                     `json:"tenant_id"`
	SiteID      string                     `json:"site_id"`
	DeviceID    string                     `json:"device_id"`
	WakeNumber  int                        `json:"wake_number"`
	OccurredAt  time.Time                  `json:"occurred_at"`
	Observation timeline.DeviceObservation `json:"observation"`
}

// SnapshotReconciled is published after a timeline query rebuilds a site
// timeline, carrying the wake range that was reconciled.
type SnapshotReconciled struct {
	TenantID   string    `json:"tenant_id"`
	SiteID     string    `json:"site_id"`
	FirstWake  int       `json:"first_wake"`
	LastWake   int       `json:"last_wake"`
	Snapshots  int       `json:"snapshots"`
	Degraded   int       `json:"degraded"`
	OccurredAt time.Time `json:"occurred_at"`
}
