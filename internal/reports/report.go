package reports

import (
	"time"

	"github.com/google/uuid"

	analytics "moldwatch-cloud/internal/analytics/domain"
	masterdata "moldwatch-cloud/internal/masterdata/domain"
	timeline "moldwatch-cloud/internal/timeline/domain"
)

// SiteReport bundles a reconciled timeline with its derived analytics for a
// single export.
type SiteReport struct {
	ReportID    string
	SiteID      string
	SiteName    string
	From        time.Time
	To          time.Time
	GeneratedAt time.Time
	Snapshots   []timeline.ReconciledSnapshot
	Aggregates  map[analytics.Metric]analytics.Aggregate
	Velocities  map[analytics.Metric]analytics.VelocitySummary
	Outliers    []analytics.Outlier
	Deltas      []analytics.DeltaEvent
}

// BuildSiteReport runs the analytics reducers over a reconciled timeline.
func BuildSiteReport(site *masterdata.Site, siteID string, snapshots []timeline.ReconciledSnapshot, thresholds analytics.DeltaThresholds, from, to time.Time) *SiteReport {
	name := siteID
	if site != nil && site.Name != "" {
		name = site.Name
	}
	aggregates := analytics.Aggregates(snapshots)
	velocities := analytics.VelocitySummaries(analytics.Velocities(snapshots))
	return &SiteReport{
		ReportID:    "report-" + uuid.NewString(),
		SiteID:      siteID,
		SiteName:    name,
		From:        from.UTC(),
		To:          to.UTC(),
		GeneratedAt: time.Now().UTC(),
		Snapshots:   snapshots,
		Aggregates:  aggregates,
		Velocities:  velocities,
		Outliers:    analytics.Outliers(snapshots, aggregates),
		Deltas:      analytics.Deltas(snapshots, thresholds),
	}
}

// metricLabel maps metrics to report column labels.
func metricLabel(metric analytics.Metric) string {
	switch metric {
	case analytics.MetricTemperature:
		return "Temperature (C)"
	case analytics.MetricHumidity:
		return "Humidity (%)"
	case analytics.MetricBattery:
		return "Battery (%)"
	case analytics.MetricGrowthScore:
		return "Growth Score"
	default:
		return string(metric)
	}
}
