package timeline

// CompositeScore maps the 0.0-1.0 mold growth index onto the 0-100 scale the
// dashboard displays. Nil when no MGI has been observed.
func (d DeviceObservation) CompositeScore() *float64 {
	if d.MGIState == nil || d.MGIState.CurrentMGI == nil {
		return nil
	}
	score := *d.MGIState.CurrentMGI * 100
	return &score
}

// TemperatureValue returns the reading or nil.
func (d DeviceObservation) TemperatureValue() *float64 {
	if d.Telemetry == nil {
		return nil
	}
	return d.Telemetry.Temperature
}

// HumidityValue returns the reading or nil.
func (d DeviceObservation) HumidityValue() *float64 {
	if d.Telemetry == nil {
		return nil
	}
	return d.Telemetry.Humidity
}

// DeviceDisplay is the interpolated per-device view of one playback frame.
// Position comes from the current snapshot verbatim; devices never move.
type DeviceDisplay struct {
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name,omitempty"`
	Position    *Position `json:"position,omitempty"`
	Status      string    `json:"status,omitempty"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	Battery     *float64  `json:"battery"`
	GrowthScore *float64  `json:"growth_score"`
}

// EaseInOutCubic shapes transition progress: 4t^3 below the midpoint,
// 1-(-2t+2)^3/2 above.
func EaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	u := -2*t + 2
	return 1 - u*u*u/2
}

// lerpEased interpolates from start toward end with eased progress. A nil
// start yields end as-is; a nil end passes through as nil.
func lerpEased(start, end *float64, progress float64) *float64 {
	if end == nil {
		return nil
	}
	if start == nil {
		return cloneFloat(end)
	}
	eased := EaseInOutCubic(progress)
	value := *start + (*end-*start)*eased
	return &value
}

// InterpolateFrame computes display values for the snapshot at index while a
// transition from the previous snapshot is in flight. Progress runs 0 to 1;
// at 1 (or whenever the device has no counterpart in the previous snapshot)
// the current snapshot's values are used verbatim. With fewer than two
// snapshots, or at index zero, raw current values are returned.
func InterpolateFrame(timeline []ReconciledSnapshot, index int, progress float64) []DeviceDisplay {
	if len(timeline) == 0 {
		return nil
	}
	if index < 0 {
		index = 0
	}
	if index >= len(timeline) {
		index = len(timeline) - 1
	}

	current := timeline[index]
	if len(timeline) < 2 || index == 0 || progress >= 1 {
		return rawFrame(current)
	}

	previous := byDeviceID(timeline[index-1].Devices)
	frames := make([]DeviceDisplay, 0, len(current.Devices))
	for _, device := range current.Devices {
		prev, ok := previous[device.DeviceID]
		if !ok {
			frames = append(frames, displayOf(device))
			continue
		}
		frames = append(frames, DeviceDisplay{
			DeviceID:    device.DeviceID,
			DeviceName:  device.DeviceName,
			Position:    device.Position,
			Status:      device.Status,
			Temperature: lerpEased(prev.TemperatureValue(), device.TemperatureValue(), progress),
			Humidity:    lerpEased(prev.HumidityValue(), device.HumidityValue(), progress),
			Battery:     lerpEased(prev.BatteryHealthPercent, device.BatteryHealthPercent, progress),
			GrowthScore: lerpEased(prev.CompositeScore(), device.CompositeScore(), progress),
		})
	}
	return frames
}

func rawFrame(snapshot ReconciledSnapshot) []DeviceDisplay {
	frames := make([]DeviceDisplay, 0, len(snapshot.Devices))
	for _, device := range snapshot.Devices {
		frames = append(frames, displayOf(device))
	}
	return frames
}

func displayOf(device DeviceObservation) DeviceDisplay {
	return DeviceDisplay{
		DeviceID:    device.DeviceID,
		DeviceName:  device.DeviceName,
		Position:    device.Position,
		Status:      device.Status,
		Temperature: device.TemperatureValue(),
		Humidity:    device.HumidityValue(),
		Battery:     device.BatteryHealthPercent,
		GrowthScore: device.CompositeScore(),
	}
}

func byDeviceID(devices []DeviceObservation) map[string]DeviceObservation {
	out := make(map[string]DeviceObservation, len(devices))
	for _, device := range devices {
		out[device.DeviceID] = device
	}
	return out
}
