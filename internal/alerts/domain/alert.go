package alerts

import "time"

const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusCleared      = "cleared"
)

// Alert represents an alert raised from a wake-over-wake change.
type Alert struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	SiteID     string    `json:"site_id"`
	DeviceID   string    `json:"device_id"`
	EventType  string    `json:"event_type"`
	Metric     string    `json:"metric,omitempty"`
	Severity   string    `json:"severity"`
	Status     string    `json:"status"`
	Delta      float64   `json:"delta"`
	LastValue  float64   `json:"last_value"`
	FromWake   int       `json:"from_wake"`
	ToWake     int       `json:"to_wake"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at,omitempty"`
	AckedAt    time.Time `json:"acked_at,omitempty"`
	ClearedAt  time.Time `json:"cleared_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DeviceState is the last stored observation for a device, kept so
// wake-over-wake deltas survive restarts.
type DeviceState struct {
	TenantID    string
	SiteID      string
	DeviceID    string
	WakeNumber  int
	Observation []byte
	UpdatedAt   time.Time
}
