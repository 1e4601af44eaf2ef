package analytics

import (
	"math"
	"sort"

	timeline "moldwatch-cloud/internal/timeline/domain"
)

const (
	OutlierLevelModerate = "moderate"
	OutlierLevelExtreme  = "extreme"
)

// Outlier flags a single device reading whose z-score against the global
// aggregate exceeds the moderate (|z| > 2) or extreme (|z| > 3) band.
type Outlier struct {
	DeviceID   string  `json:"device_id"`
	Metric     Metric  `json:"metric"`
	WakeNumber int     `json:"wake_number"`
	Value      float64 `json:"value"`
	ZScore     float64 `json:"z_score"`
	Level      string  `json:"level"`
}

// Outliers scans every reading in every snapshot against the global per-metric
// mean and standard deviation. Metrics without a standard deviation (fewer
// than two samples, or a degenerate zero spread) are skipped. Results are
// sorted by descending absolute z-score.
func Outliers(snapshots []timeline.ReconciledSnapshot, aggregates map[Metric]Aggregate) []Outlier {
	usable := usableSnapshots(snapshots)
	var outliers []Outlier
	for _, metric := range AllMetrics {
		agg, ok := aggregates[metric]
		if !ok || agg.Mean == nil || agg.StdDev == nil || *agg.StdDev == 0 {
			continue
		}
		for _, snapshot := range usable {
			for _, device := range snapshot.Devices {
				value := metricValue(device, metric)
				if value == nil {
					continue
				}
				z := (*value - *agg.Mean) / *agg.StdDev
				level := ""
				switch {
				case math.Abs(z) > 3:
					level = OutlierLevelExtreme
				case math.Abs(z) > 2:
					level = OutlierLevelModerate
				default:
					continue
				}
				outliers = append(outliers, Outlier{
					DeviceID:   device.DeviceID,
					Metric:     metric,
					WakeNumber: snapshot.WakeNumber,
					Value:      *value,
					ZScore:     z,
					Level:      level,
				})
			}
		}
	}
	sort.SliceStable(outliers, func(i, j int) bool {
		return math.Abs(outliers[i].ZScore) > math.Abs(outliers[j].ZScore)
	})
	return outliers
}
