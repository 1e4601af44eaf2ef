package device

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"moldwatch-cloud/internal/eventing"
	"moldwatch-cloud/internal/observability/metrics"
	timeline "moldwatch-cloud/internal/timeline/domain"
	wakeevents "moldwatch-cloud/internal/wake/application/events"
	wake "moldwatch-cloud/internal/wake/domain"
)

// IngestHandler accepts wake reports posted by devices after they wake
// from deep sleep.
type IngestHandler struct {
	repo      wake.ReportRepository
	publisher *eventing.Publisher
	logger    *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(repo wake.ReportRepository, publisher *eventing.Publisher, logger *log.Logger) (*IngestHandler, error) {
	if repo == nil {
		return nil, errors.New("wake ingest: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{repo: repo, publisher: publisher, logger: logger}, nil
}

// ServeHTTP ingests one wake round worth of device reports.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.IngestResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.IngestResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("wake ingest: read body error: %v", err)
		result = metrics.IngestResultError
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("wake ingest: decode error: %v", err)
		result = metrics.IngestResultError
		metrics.IncIngestError("invalid_json")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	reports, err := req.toReports()
	if err != nil {
		h.logger.Printf("wake ingest: invalid payload: %v", err)
		result = metrics.IngestResultError
		metrics.IncIngestError("invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.repo.InsertReports(r.Context(), reports); err != nil {
		h.logger.Printf("wake ingest: insert error: %v", err)
		result = metrics.IngestResultError
		metrics.IncIngestError("insert_error")
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}

	if h.publisher != nil {
		for _, report := range reports {
			event := wakeevents.WakeReceived{
				TenantID:    report.TenantID,
				SiteID:      report.SiteID,
				DeviceID:    report.DeviceID,
				WakeNumber:  report.WakeNumber,
				OccurredAt:  report.WakeRoundStart,
				Observation: report.Observation,
			}
			ctx := eventing.WithTenantID(r.Context(), report.TenantID)
			if err := h.publisher.Publish(ctx, event); err != nil {
				h.logger.Printf("wake ingest: publish error: %v", err)
			}
		}
	}

	resp := map[string]any{"inserted": len(reports)}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type ingestRequest struct {
	TenantID       string                       `json:"tenant_id"`
	SiteID         string                       `json:"site_id"`
	WakeNumber     int                          `json:"wake_number"`
	WakeRoundStart int64                        `json:"wake_round_start"`
	Observation    *timeline.DeviceObservation  `json:"observation"`
	Devices        []timeline.DeviceObservation `json:"devices"`
}

func (r ingestRequest) toReports() ([]wake.Report, error) {
	if r.TenantID == "" || r.SiteID == "" {
		return nil, errors.New("missing tenant_id/site_id")
	}
	if r.WakeNumber <= 0 {
		return nil, errors.New("invalid wake_number")
	}
	roundStart, err := parseTimestamp(r.WakeRoundStart)
	if err != nil {
		return nil, err
	}

	observations := r.Devices
	if len(observations) == 0 && r.Observation != nil {
		observations = []timeline.DeviceObservation{*r.Observation}
	}
	if len(observations) == 0 {
		return nil, errors.New("no device observations")
	}

	reports := make([]wake.Report, 0, len(observations))
	for _, obs := range observations {
		if obs.DeviceID == "" {
			return nil, errors.New("observation missing device_id")
		}
		reports = append(reports, wake.Report{
			TenantID:       r.TenantID,
			SiteID:         r.SiteID,
			DeviceID:       obs.DeviceID,
			WakeNumber:     r.WakeNumber,
			WakeRoundStart: roundStart,
			Observation:    obs,
		})
	}
	return reports, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid wake_round_start")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
