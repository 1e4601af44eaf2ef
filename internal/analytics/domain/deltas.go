package analytics

import (
	"errors"
	"math"
	"time"

	timeline "moldwatch-cloud/internal/timeline/domain"
)

const (
	DeltaWentOffline     = "went_offline"
	DeltaCameOnline      = "came_online"
	DeltaTemperatureJump = "temperature_jump"
	DeltaHumidityJump    = "humidity_jump"
	DeltaScoreChange     = "score_change"
	DeltaBatteryDrop     = "battery_drop"
)

const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// DeltaEvent is a discrete change between two consecutive snapshots.
type DeltaEvent struct {
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	DeviceID   string    `json:"device_id"`
	Metric     Metric    `json:"metric,omitempty"`
	Delta      *float64  `json:"delta,omitempty"`
	FromWake   int       `json:"from_wake"`
	ToWake     int       `json:"to_wake"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DeltaThresholds sets the absolute-change bands. Base crossings emit info
// events; the larger warn band promotes severity to warning. Battery is
// evaluated in the losing direction only.
type DeltaThresholds struct {
	Temperature     float64 `yaml:"temperature"`
	TemperatureWarn float64 `yaml:"temperature_warn"`
	Humidity        float64 `yaml:"humidity"`
	HumidityWarn    float64 `yaml:"humidity_warn"`
	Score           float64 `yaml:"score"`
	ScoreWarn       float64 `yaml:"score_warn"`
	BatteryDrop     float64 `yaml:"battery_drop"`
	BatteryDropWarn float64 `yaml:"battery_drop_warn"`
}

// DefaultDeltaThresholds returns the product defaults.
func DefaultDeltaThresholds() DeltaThresholds {
	return DeltaThresholds{
		Temperature:     5,
		TemperatureWarn: 10,
		Humidity:        10,
		HumidityWarn:    20,
		Score:           10,
		ScoreWarn:       20,
		BatteryDrop:     5,
		BatteryDropWarn: 10,
	}
}

// Validate checks that warn bands sit above their base thresholds.
func (t DeltaThresholds) Validate() error {
	if t.Temperature <= 0 || t.Humidity <= 0 || t.Score <= 0 || t.BatteryDrop <= 0 {
		return errors.New("delta thresholds: base thresholds must be positive")
	}
	if t.TemperatureWarn < t.Temperature || t.HumidityWarn < t.Humidity ||
		t.ScoreWarn < t.Score || t.BatteryDropWarn < t.BatteryDrop {
		return errors.New("delta thresholds: warn band below base threshold")
	}
	return nil
}

// Deltas emits presence and threshold-crossing events between each pair of
// consecutive usable snapshots.
func Deltas(snapshots []timeline.ReconciledSnapshot, thresholds DeltaThresholds) []DeltaEvent {
	usable := usableSnapshots(snapshots)
	var events []DeltaEvent
	for i := 0; i+1 < len(usable); i++ {
		current := usable[i]
		next := usable[i+1]
		currentByID := deviceIndex(current.Devices)
		nextByID := deviceIndex(next.Devices)

		for _, device := range current.Devices {
			if _, ok := nextByID[device.DeviceID]; !ok {
				events = append(events, DeltaEvent{
					Type:       DeltaWentOffline,
					Severity:   SeverityWarning,
					DeviceID:   device.DeviceID,
					FromWake:   current.WakeNumber,
					ToWake:     next.WakeNumber,
					OccurredAt: next.WakeRoundStart,
				})
			}
		}

		for _, device := range next.Devices {
			prev, ok := currentByID[device.DeviceID]
			if !ok {
				events = append(events, DeltaEvent{
					Type:       DeltaCameOnline,
					Severity:   SeverityInfo,
					DeviceID:   device.DeviceID,
					FromWake:   current.WakeNumber,
					ToWake:     next.WakeNumber,
					OccurredAt: next.WakeRoundStart,
				})
				continue
			}
			events = append(events, metricDeltas(prev, device, current.WakeNumber, next.WakeNumber, next.WakeRoundStart, thresholds)...)
		}
	}
	return events
}

func metricDeltas(prev, curr timeline.DeviceObservation, fromWake, toWake int, at time.Time, thresholds DeltaThresholds) []DeltaEvent {
	var events []DeltaEvent

	appendJump := func(eventType string, metric Metric, base, warn float64) {
		startValue := metricValue(prev, metric)
		endValue := metricValue(curr, metric)
		if startValue == nil || endValue == nil {
			return
		}
		delta := *endValue - *startValue
		if math.Abs(delta) <= base {
			return
		}
		severity := SeverityInfo
		if math.Abs(delta) > warn {
			severity = SeverityWarning
		}
		d := delta
		events = append(events, DeltaEvent{
			Type:       eventType,
			Severity:   severity,
			DeviceID:   curr.DeviceID,
			Metric:     metric,
			Delta:      &d,
			FromWake:   fromWake,
			ToWake:     toWake,
			OccurredAt: at,
		})
	}

	appendJump(DeltaTemperatureJump, MetricTemperature, thresholds.Temperature, thresholds.TemperatureWarn)
	appendJump(DeltaHumidityJump, MetricHumidity, thresholds.Humidity, thresholds.HumidityWarn)
	appendJump(DeltaScoreChange, MetricGrowthScore, thresholds.Score, thresholds.ScoreWarn)

	// Battery only alerts on loss.
	if start, end := metricValue(prev, MetricBattery), metricValue(curr, MetricBattery); start != nil && end != nil {
		drop := *start - *end
		if drop > thresholds.BatteryDrop {
			severity := SeverityInfo
			if drop > thresholds.BatteryDropWarn {
				severity = SeverityWarning
			}
			delta := *end - *start
			events = append(events, DeltaEvent{
				Type:       DeltaBatteryDrop,
				Severity:   severity,
				DeviceID:   curr.DeviceID,
				Metric:     MetricBattery,
				Delta:      &delta,
				FromWake:   fromWake,
				ToWake:     toWake,
				OccurredAt: at,
			})
		}
	}

	return events
}
