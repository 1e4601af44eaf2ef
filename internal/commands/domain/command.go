package commands

import (
	"errors"
	"time"
)

const (
	StatusCreated = "created"
	StatusSent    = "sent"
	StatusAcked   = "acked"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// Command types understood by the device firmware. A queued command is
// delivered on the device's next wake; wake_now is forwarded to the LAN
// gateway which can pulse the device awake out of cycle.
const (
	TypeWakeNow         = "wake_now"
	TypeCaptureImage    = "capture_image"
	TypeSetWakeInterval = "set_wake_interval"
	TypeRebootDevice    = "reboot_device"
)

// Command represents a queued device command.
type Command struct {
	CommandID      string
	TenantID       string
	SiteID         string
	DeviceID       string
	CommandType    string
	Payload        []byte
	IdempotencyKey string
	Status         string
	CreatedAt      time.Time
	SentAt         time.Time
	AckedAt        time.Time
	Error          string
}

// KnownType reports whether the command type is one the firmware accepts.
func KnownType(commandType string) bool {
	switch commandType {
	case TypeWakeNow, TypeCaptureImage, TypeSetWakeInterval, TypeRebootDevice:
		return true
	default:
		return false
	}
}

// Validate checks required command fields.
func (c *Command) Validate() error {
	if c == nil {
		return errors.New("command: nil")
	}
	if c.CommandID == "" {
		return errors.New("command: command id required")
	}
	if c.TenantID == "" {
		return errors.New("command: tenant id required")
	}
	if c.SiteID == "" {
		return errors.New("command: site id required")
	}
	if c.DeviceID == "" {
		return errors.New("command: device id required")
	}
	if c.CommandType == "" {
		return errors.New("command: command type required")
	}
	return nil
}
