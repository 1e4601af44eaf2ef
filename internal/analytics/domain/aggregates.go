package analytics

import (
	"math"

	timeline "moldwatch-cloud/internal/timeline/domain"
)

// Aggregate summarizes one metric across every device reading in every
// reconciled snapshot. Statistics are nil when no samples exist; the standard
// deviation is additionally nil below two samples.
type Aggregate struct {
	Mean    *float64 `json:"mean"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	StdDev  *float64 `json:"std_dev"`
	Samples int      `json:"samples"`
}

// Aggregates computes per-metric summaries over the flattened timeline.
// The standard deviation uses the full-population formula (divide by N).
func Aggregates(snapshots []timeline.ReconciledSnapshot) map[Metric]Aggregate {
	usable := usableSnapshots(snapshots)
	out := make(map[Metric]Aggregate, len(AllMetrics))
	for _, metric := range AllMetrics {
		out[metric] = aggregateMetric(usable, metric)
	}
	return out
}

func aggregateMetric(snapshots []timeline.ReconciledSnapshot, metric Metric) Aggregate {
	var samples []float64
	for _, snapshot := range snapshots {
		for _, device := range snapshot.Devices {
			if value := metricValue(device, metric); value != nil {
				samples = append(samples, *value)
			}
		}
	}
	if len(samples) == 0 {
		return Aggregate{}
	}

	sum := 0.0
	minimum := samples[0]
	maximum := samples[0]
	for _, sample := range samples {
		sum += sample
		if sample < minimum {
			minimum = sample
		}
		if sample > maximum {
			maximum = sample
		}
	}
	mean := sum / float64(len(samples))

	agg := Aggregate{
		Mean:    &mean,
		Min:     &minimum,
		Max:     &maximum,
		Samples: len(samples),
	}
	if len(samples) >= 2 {
		variance := 0.0
		for _, sample := range samples {
			diff := sample - mean
			variance += diff * diff
		}
		variance /= float64(len(samples))
		stdDev := math.Sqrt(variance)
		agg.StdDev = &stdDev
	}
	return agg
}
