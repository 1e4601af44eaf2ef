package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultStatus is assigned when neither a new nor a cached status exists.
const DefaultStatus = "active"

// Position is a device location on the site floorplan. Coordinates may be
// null in raw payloads; a position is valid only when both are set.
type Position struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// Valid reports whether both coordinates are present.
func (p *Position) Valid() bool {
	return p != nil && p.X != nil && p.Y != nil
}

// Telemetry carries BME680 environmental readings from a wake report.
type Telemetry struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
}

// Empty reports whether every sub-field is null.
func (t *Telemetry) Empty() bool {
	return t == nil || (t.Temperature == nil && t.Humidity == nil && t.Pressure == nil)
}

// MGIVelocity is the rate of change of the mold growth index.
type MGIVelocity struct {
	PerHour *float64 `json:"per_hour"`
}

// MGIState is the mold growth index score and its velocity as reported by
// the external analysis process.
type MGIState struct {
	CurrentMGI  *float64     `json:"current_mgi"`
	MGIVelocity *MGIVelocity `json:"mgi_velocity"`
}

// Empty reports whether neither the score nor the velocity is present.
func (m *MGIState) Empty() bool {
	if m == nil {
		return true
	}
	if m.CurrentMGI != nil {
		return false
	}
	return m.MGIVelocity == nil || m.MGIVelocity.PerHour == nil
}

// DeviceObservation is one device's state within a wake snapshot.
type DeviceObservation struct {
	DeviceID             string     `json:"device_id"`
	DeviceCode           string     `json:"device_code,omitempty"`
	DeviceName           string     `json:"device_name,omitempty"`
	Position             *Position  `json:"position,omitempty"`
	Status               string     `json:"status,omitempty"`
	LastSeenAt           string     `json:"last_seen_at,omitempty"`
	BatteryHealthPercent *float64   `json:"battery_health_percent,omitempty"`
	Telemetry            *Telemetry `json:"telemetry,omitempty"`
	MGIState             *MGIState  `json:"mgi_state,omitempty"`
}

// Clone returns a deep copy so cached state never aliases emitted snapshots.
func (d DeviceObservation) Clone() DeviceObservation {
	out := d
	if d.Position != nil {
		pos := Position{X: cloneFloat(d.Position.X), Y: cloneFloat(d.Position.Y)}
		out.Position = &pos
	}
	if d.Telemetry != nil {
		tel := Telemetry{
			Temperature: cloneFloat(d.Telemetry.Temperature),
			Humidity:    cloneFloat(d.Telemetry.Humidity),
			Pressure:    cloneFloat(d.Telemetry.Pressure),
		}
		out.Telemetry = &tel
	}
	if d.MGIState != nil {
		mgi := MGIState{CurrentMGI: cloneFloat(d.MGIState.CurrentMGI)}
		if d.MGIState.MGIVelocity != nil {
			mgi.MGIVelocity = &MGIVelocity{PerHour: cloneFloat(d.MGIState.MGIVelocity.PerHour)}
		}
		out.MGIState = &mgi
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// WakeSnapshot is a point-in-time site capture produced by one wake round.
// SiteState is kept raw because upstream encodes it three ways: a JSON
// string, an object wrapping a devices array, or a bare array.
type WakeSnapshot struct {
	WakeNumber     int             `json:"wake_number"`
	WakeRoundStart time.Time       `json:"wake_round_start"`
	SiteState      json.RawMessage `json:"site_state"`
}

// ReconciledSnapshot is a WakeSnapshot with its device list rebuilt by the
// reconciler. When SiteState could not be parsed the original payload is
// passed through unchanged and Degraded is set.
type ReconciledSnapshot struct {
	WakeNumber     int                 `json:"wake_number"`
	WakeRoundStart time.Time           `json:"wake_round_start"`
	Devices        []DeviceObservation `json:"devices"`
	Degraded       bool                `json:"degraded,omitempty"`
	SiteState      json.RawMessage     `json:"site_state,omitempty"`
}

// ErrEmptySiteState is returned when a snapshot carries no site state at all.
var ErrEmptySiteState = errors.New("timeline: empty site_state")

type siteStateWrapper struct {
	Devices []DeviceObservation `json:"devices"`
}

// ParseSiteState normalizes the site_state union into a device observation
// list. It is the single place the loose payload shape is dealt with; all
// downstream logic operates on the typed form.
func ParseSiteState(raw json.RawMessage) ([]DeviceObservation, error) {
	data := trimSpace(raw)
	if len(data) == 0 || string(data) == "null" {
		return nil, ErrEmptySiteState
	}

	// A leading quote means the payload is a JSON-encoded string holding
	// the real document.
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("timeline: unquote site_state: %w", err)
		}
		data = trimSpace([]byte(inner))
		if len(data) == 0 || string(data) == "null" {
			return nil, ErrEmptySiteState
		}
	}

	switch data[0] {
	case '[':
		var devices []DeviceObservation
		if err := json.Unmarshal(data, &devices); err != nil {
			return nil, fmt.Errorf("timeline: decode site_state array: %w", err)
		}
		return devices, nil
	case '{':
		var wrapper siteStateWrapper
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("timeline: decode site_state object: %w", err)
		}
		return wrapper.Devices, nil
	default:
		return nil, fmt.Errorf("timeline: unsupported site_state shape starting with %q", data[0])
	}
}

func trimSpace(data []byte) []byte {
	start := 0
	for start < len(data) && isSpace(data[start]) {
		start++
	}
	end := len(data)
	for end > start && isSpace(data[end-1]) {
		end--
	}
	return data[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
