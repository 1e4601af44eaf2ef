package analytics

import (
	"time"

	timeline "moldwatch-cloud/internal/timeline/domain"
)

// VelocityEntry is a per-device rate of change between two consecutive
// snapshots, in metric units per hour.
type VelocityEntry struct {
	DeviceID string    `json:"device_id"`
	Metric   Metric    `json:"metric"`
	PerHour  float64   `json:"per_hour"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// VelocitySummary rolls velocity entries up per metric.
type VelocitySummary struct {
	Avg     *float64 `json:"avg"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Samples int      `json:"samples"`
}

// Velocities emits one entry per consecutive snapshot pair, device, and
// metric where the device is present in both frames with a reading in each.
// Pairs with zero elapsed time are skipped.
func Velocities(snapshots []timeline.ReconciledSnapshot) []VelocityEntry {
	usable := usableSnapshots(snapshots)
	var entries []VelocityEntry
	for i := 0; i+1 < len(usable); i++ {
		current := usable[i]
		next := usable[i+1]
		hours := next.WakeRoundStart.Sub(current.WakeRoundStart).Hours()
		if hours == 0 {
			continue
		}
		currentByID := deviceIndex(current.Devices)
		for _, device := range next.Devices {
			prev, ok := currentByID[device.DeviceID]
			if !ok {
				continue
			}
			for _, metric := range AllMetrics {
				startValue := metricValue(prev, metric)
				endValue := metricValue(device, metric)
				if startValue == nil || endValue == nil {
					continue
				}
				entries = append(entries, VelocityEntry{
					DeviceID: device.DeviceID,
					Metric:   metric,
					PerHour:  (*endValue - *startValue) / hours,
					From:     current.WakeRoundStart,
					To:       next.WakeRoundStart,
				})
			}
		}
	}
	return entries
}

// VelocitySummaries aggregates entries into avg/min/max per metric.
func VelocitySummaries(entries []VelocityEntry) map[Metric]VelocitySummary {
	out := make(map[Metric]VelocitySummary, len(AllMetrics))
	for _, metric := range AllMetrics {
		out[metric] = summarizeVelocity(entries, metric)
	}
	return out
}

func summarizeVelocity(entries []VelocityEntry, metric Metric) VelocitySummary {
	var sum float64
	var count int
	var minimum, maximum float64
	for _, entry := range entries {
		if entry.Metric != metric {
			continue
		}
		if count == 0 {
			minimum = entry.PerHour
			maximum = entry.PerHour
		}
		if entry.PerHour < minimum {
			minimum = entry.PerHour
		}
		if entry.PerHour > maximum {
			maximum = entry.PerHour
		}
		sum += entry.PerHour
		count++
	}
	if count == 0 {
		return VelocitySummary{}
	}
	avg := sum / float64(count)
	return VelocitySummary{Avg: &avg, Min: &minimum, Max: &maximum, Samples: count}
}

func deviceIndex(devices []timeline.DeviceObservation) map[string]timeline.DeviceObservation {
	out := make(map[string]timeline.DeviceObservation, len(devices))
	for _, device := range devices {
		out[device.DeviceID] = device
	}
	return out
}
