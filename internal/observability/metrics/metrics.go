package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "moldwatch_"

	resultSuccess = "success"
	resultError   = "error"

	commandResultAcked   = "acked"
	commandResultFailed  = "failed"
	commandResultTimeout = "timeout"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	commandRequests prometheus.Counter
	commandResults  *prometheus.CounterVec

	reconcileRuns     *prometheus.CounterVec
	reconcileLatency  *prometheus.HistogramVec
	reconcileDegraded prometheus.Counter
	snapshotDevices   *prometheus.GaugeVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec

	alertEventsTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total wake report ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total wake report ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Wake report ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		commandRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Total issued device commands",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total device command results by status",
			},
			[]string{"status"},
		)

		reconcileRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "timeline_reconcile_total",
				Help: "Total timeline reconcile runs by result",
			},
			[]string{"result"},
		)
		reconcileLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "timeline_reconcile_latency_seconds",
				Help:    "Timeline reconcile latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		reconcileDegraded = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "timeline_degraded_snapshots_total",
				Help: "Total wake snapshots passed through with unparsable site state",
			},
		)
		snapshotDevices = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "timeline_snapshot_devices",
				Help: "Devices present in the most recent reconciled snapshot per site",
			},
			[]string{"site"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total site report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Site report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			commandRequests,
			commandResults,
			reconcileRuns,
			reconcileLatency,
			reconcileDegraded,
			snapshotDevices,
			reportExportTotal,
			reportExportLatency,
			alertEventsTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// IncCommandIssued increments issued command counter.
func IncCommandIssued() {
	if commandRequests != nil {
		commandRequests.Inc()
	}
}

// IncCommandResult increments command result counter.
func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// AddCommandTimeouts increments timeout counter by count.
func AddCommandTimeouts(count int) {
	if count <= 0 {
		return
	}
	if commandResults != nil {
		commandResults.WithLabelValues(commandResultTimeout).Add(float64(count))
	}
}

// ObserveReconcile records reconcile latency and result.
func ObserveReconcile(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if reconcileRuns != nil {
		reconcileRuns.WithLabelValues(result).Inc()
	}
	if reconcileLatency != nil {
		reconcileLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddDegradedSnapshots counts snapshots kept with unparsable site state.
func AddDegradedSnapshots(count int) {
	if count <= 0 {
		return
	}
	if reconcileDegraded != nil {
		reconcileDegraded.Add(float64(count))
	}
}

// SetSnapshotDevices sets the device count of the latest snapshot for a site.
func SetSnapshotDevices(siteID string, count int) {
	if siteID == "" || count < 0 {
		return
	}
	if snapshotDevices != nil {
		snapshotDevices.WithLabelValues(siteID).Set(float64(count))
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError

	ResultSuccess = resultSuccess
	ResultError   = resultError

	CommandResultAcked   = commandResultAcked
	CommandResultFailed  = commandResultFailed
	CommandResultTimeout = commandResultTimeout
)
