package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	alerts "moldwatch-cloud/internal/alerts/domain"
	alertrepo "moldwatch-cloud/internal/alerts/infrastructure/postgres"
	analytics "moldwatch-cloud/internal/analytics/domain"
	"moldwatch-cloud/internal/auth"
	"moldwatch-cloud/internal/observability/metrics"
	timeline "moldwatch-cloud/internal/timeline/domain"
	wakeevents "moldwatch-cloud/internal/wake/application/events"
)

// AlertNotifier publishes alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent represents a lifecycle update.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// deltaEventTypes are the wake-over-wake change kinds that can open alerts.
var deltaEventTypes = []string{
	analytics.DeltaTemperatureJump,
	analytics.DeltaHumidityJump,
	analytics.DeltaScoreChange,
	analytics.DeltaBatteryDrop,
}

// Service evaluates wake reports against delta thresholds and manages
// alert state transitions.
type Service struct {
	alerts   *alertrepo.AlertRepository
	states   *alertrepo.DeviceStateRepository
	config   Config
	notifier AlertNotifier
	clock    Clock
	tenantID string
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlertNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs an alert service.
func NewService(alertsRepo *alertrepo.AlertRepository, states *alertrepo.DeviceStateRepository, config Config, tenantID string, opts ...ServiceOption) (*Service, error) {
	if alertsRepo == nil || states == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("alerts: empty tenant id")
	}
	service := &Service{
		alerts:   alertsRepo,
		states:   states,
		config:   config,
		tenantID: tenantID,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandleWakeReceived compares the incoming observation against the
// device's previous wake and opens, refreshes, or clears alerts.
func (s *Service) HandleWakeReceived(ctx context.Context, evt wakeevents.WakeReceived) error {
	if s == nil {
		return errors.New("alerts: nil service")
	}
	if evt.SiteID == "" || evt.TenantID == "" || evt.DeviceID == "" {
		return errors.New("alerts: wake event missing site/tenant/device")
	}

	state, err := s.states.Get(ctx, evt.TenantID, evt.SiteID, evt.DeviceID)
	if err != nil {
		return err
	}

	if state != nil && evt.WakeNumber > state.WakeNumber {
		var prev timeline.DeviceObservation
		if err := json.Unmarshal(state.Observation, &prev); err == nil {
			if err := s.evaluate(ctx, evt, prev, state); err != nil {
				return err
			}
		}
	}

	observation, err := json.Marshal(evt.Observation)
	if err != nil {
		return err
	}
	return s.states.Upsert(ctx, &alerts.DeviceState{
		TenantID:    evt.TenantID,
		SiteID:      evt.SiteID,
		DeviceID:    evt.DeviceID,
		WakeNumber:  evt.WakeNumber,
		Observation: observation,
		UpdatedAt:   s.clock.Now().UTC(),
	})
}

func (s *Service) evaluate(ctx context.Context, evt wakeevents.WakeReceived, prev timeline.DeviceObservation, state *alerts.DeviceState) error {
	thresholds := s.config.ThresholdsForSite(evt.SiteID)

	// The delta reducer works on snapshot pairs; wrap the two observations
	// into single-device snapshots so one code path defines the semantics.
	window := []timeline.ReconciledSnapshot{
		{WakeNumber: state.WakeNumber, WakeRoundStart: state.UpdatedAt, Devices: []timeline.DeviceObservation{prev}},
		{WakeNumber: evt.WakeNumber, WakeRoundStart: evt.OccurredAt, Devices: []timeline.DeviceObservation{evt.Observation}},
	}
	events := analytics.Deltas(window, thresholds)

	triggered := make(map[string]analytics.DeltaEvent, len(events))
	for _, event := range events {
		triggered[event.Type] = event
	}

	for _, eventType := range deltaEventTypes {
		open, err := s.alerts.FindOpenByDeviceEvent(ctx, evt.TenantID, evt.DeviceID, eventType)
		if err != nil {
			return err
		}
		event, active := triggered[eventType]

		if open != nil {
			if !active {
				clearedAt := atOrNow(evt.OccurredAt, s.clock)
				value := currentValue(evt.Observation, open.Metric)
				if err := s.alerts.MarkCleared(ctx, open.ID, value, clearedAt); err != nil {
					return err
				}
				open.Status = alerts.StatusCleared
				open.ClearedAt = clearedAt
				open.EndAt = clearedAt
				open.LastValue = value
				open.UpdatedAt = clearedAt
				s.notify(ctx, "cleared", *open)
				continue
			}
			delta := deltaValue(event)
			value := currentValue(evt.Observation, string(event.Metric))
			if err := s.alerts.UpdateObserved(ctx, open.ID, delta, value, evt.WakeNumber, atOrNow(evt.OccurredAt, s.clock)); err != nil {
				return err
			}
			continue
		}

		if !active || event.Severity != analytics.SeverityWarning {
			continue
		}
		if err := s.createAlert(ctx, evt, event); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) createAlert(ctx context.Context, evt wakeevents.WakeReceived, event analytics.DeltaEvent) error {
	startAt := atOrNow(event.OccurredAt, s.clock)
	alert := &alerts.Alert{
		ID:        buildAlertID(evt.TenantID, evt.DeviceID, event.Type, startAt),
		TenantID:  evt.TenantID,
		SiteID:    evt.SiteID,
		DeviceID:  evt.DeviceID,
		EventType: event.Type,
		Metric:    string(event.Metric),
		Severity:  event.Severity,
		Status:    alerts.StatusActive,
		Delta:     deltaValue(event),
		LastValue: currentValue(evt.Observation, string(event.Metric)),
		FromWake:  event.FromWake,
		ToWake:    event.ToWake,
		StartAt:   startAt,
		CreatedAt: s.clock.Now().UTC(),
		UpdatedAt: s.clock.Now().UTC(),
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		return err
	}
	s.notify(ctx, "active", *alert)
	return nil
}

// AckAlert acknowledges an alert.
func (s *Service) AckAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	alert, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = s.tenantID
	}
	if tenantID != "" && alert.TenantID != tenantID {
		return nil, auth.ErrTenantMismatch
	}
	if alert.Status == alerts.StatusCleared {
		return alert, nil
	}
	if alert.Status != alerts.StatusAcknowledged {
		ackedAt := s.clock.Now().UTC()
		if err := s.alerts.MarkAcknowledged(ctx, alert.ID, ackedAt); err != nil {
			return nil, err
		}
		alert.Status = alerts.StatusAcknowledged
		alert.AckedAt = ackedAt
		alert.UpdatedAt = ackedAt
		s.notify(ctx, "acknowledged", *alert)
	}
	return alert, nil
}

// ClearAlert clears an alert manually.
func (s *Service) ClearAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	alert, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = s.tenantID
	}
	if tenantID != "" && alert.TenantID != tenantID {
		return nil, auth.ErrTenantMismatch
	}
	if alert.Status == alerts.StatusCleared {
		return alert, nil
	}
	clearedAt := s.clock.Now().UTC()
	if err := s.alerts.MarkCleared(ctx, alert.ID, alert.LastValue, clearedAt); err != nil {
		return nil, err
	}
	alert.Status = alerts.StatusCleared
	alert.ClearedAt = clearedAt
	alert.EndAt = clearedAt
	alert.UpdatedAt = clearedAt
	s.notify(ctx, "cleared", *alert)
	return alert, nil
}

// ListAlerts returns alerts by site/time/status.
func (s *Service) ListAlerts(ctx context.Context, siteID, status string, from, to time.Time) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if siteID == "" {
		return nil, errors.New("alerts: site id required")
	}
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		tenantID = s.tenantID
	}
	return s.alerts.ListBySiteStatusAndTime(ctx, tenantID, siteID, status, from.UTC(), to.UTC())
}

func (s *Service) notify(ctx context.Context, eventType string, alert alerts.Alert) {
	if s == nil {
		return
	}
	metrics.IncAlertEvent(eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlertEvent{Type: eventType, Alert: alert})
}

func deltaValue(event analytics.DeltaEvent) float64 {
	if event.Delta == nil {
		return 0
	}
	return *event.Delta
}

func currentValue(obs timeline.DeviceObservation, metric string) float64 {
	var value *float64
	switch analytics.Metric(metric) {
	case analytics.MetricTemperature:
		value = obs.TemperatureValue()
	case analytics.MetricHumidity:
		value = obs.HumidityValue()
	case analytics.MetricBattery:
		value = obs.BatteryHealthPercent
	case analytics.MetricGrowthScore:
		value = obs.CompositeScore()
	}
	if value == nil {
		return 0
	}
	return *value
}

func buildAlertID(tenantID, deviceID, eventType string, startAt time.Time) string {
	sum := sha1.Sum([]byte(tenantID + "|" + deviceID + "|" + eventType + "|" + startAt.Format(time.RFC3339Nano)))
	return "alert-" + hex.EncodeToString(sum[:8])
}

func atOrNow(value time.Time, clock Clock) time.Time {
	if value.IsZero() {
		return clock.Now().UTC()
	}
	return value.UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
