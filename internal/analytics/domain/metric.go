package analytics

import (
	timeline "moldwatch-cloud/internal/timeline/domain"
)

// Metric identifies a per-device display metric derived from wake reports.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricBattery     Metric = "battery"
	MetricGrowthScore Metric = "growth_score"
)

// AllMetrics lists the metrics every reducer runs over, in display order.
var AllMetrics = []Metric{MetricTemperature, MetricHumidity, MetricBattery, MetricGrowthScore}

// Valid returns true when the metric is supported.
func (m Metric) Valid() bool {
	switch m {
	case MetricTemperature, MetricHumidity, MetricBattery, MetricGrowthScore:
		return true
	default:
		return false
	}
}

// metricValue extracts a metric reading from a reconciled device entry.
func metricValue(device timeline.DeviceObservation, metric Metric) *float64 {
	switch metric {
	case MetricTemperature:
		return device.TemperatureValue()
	case MetricHumidity:
		return device.HumidityValue()
	case MetricBattery:
		return device.BatteryHealthPercent
	case MetricGrowthScore:
		return device.CompositeScore()
	default:
		return nil
	}
}

// usableSnapshots filters out degraded pass-through snapshots; reducers skip
// malformed frames and continue, mirroring the reconciler's failure policy.
func usableSnapshots(snapshots []timeline.ReconciledSnapshot) []timeline.ReconciledSnapshot {
	out := make([]timeline.ReconciledSnapshot, 0, len(snapshots))
	for _, snapshot := range snapshots {
		if snapshot.Degraded {
			continue
		}
		out = append(out, snapshot)
	}
	return out
}
