package events

import (
	"encoding/json"
	"time"
)

// CommandIssued is emitted when a command is created.
type CommandIssued struct {
	EventID        string          `json:"event_id"`
	CommandID      string          `json:"command_id"`
	TenantID       string          `json:"tenant_id"`
	SiteID         string          `json:"site_id"`
	DeviceID       string          `json:"device_id"`
	CommandType    string          `json:"command_type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// CommandAcked is emitted when the device confirms execution.
type CommandAcked struct {
	EventID    string    `json:"event_id"`
	CommandID  string    `json:"command_id"`
	TenantID   string    `json:"tenant_id"`
	SiteID     string    `json:"site_id"`
	DeviceID   string    `json:"device_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CommandFailed is emitted when delivery or execution fails.
type CommandFailed struct {
	EventID    string    `json:"event_id"`
	CommandID  string    `json:"command_id"`
	TenantID   string    `json:"tenant_id"`
	SiteID     string    `json:"site_id"`
	DeviceID   string    `json:"device_id"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}
