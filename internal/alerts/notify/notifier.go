package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	alertapp "moldwatch-cloud/internal/alerts/application"
	alerts "moldwatch-cloud/internal/alerts/domain"
	analytics "moldwatch-cloud/internal/analytics/domain"
	masterdata "moldwatch-cloud/internal/masterdata/domain"
)

// SiteReader loads site metadata.
type SiteReader interface {
	Get(ctx context.Context, id string) (*masterdata.Site, error)
}

// DeviceReader loads device metadata.
type DeviceReader interface {
	Get(ctx context.Context, id string) (*masterdata.Device, error)
}

// AlertReader loads alert records.
type AlertReader interface {
	GetByID(ctx context.Context, id string) (*alerts.Alert, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

// ReportURLResolver provides a report link for an alert when available.
type ReportURLResolver func(ctx context.Context, alert alerts.Alert, site *masterdata.Site) string

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier sends alert notifications via a channel and handles escalation.
type Notifier struct {
	sites          SiteReader
	devices        DeviceReader
	alerts         AlertReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	reportURL      ReportURLResolver
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures escalation delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithReportURLResolver injects a report link resolver.
func WithReportURLResolver(resolver ReportURLResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.reportURL = resolver
		}
	}
}

// WithDeviceReader injects a device metadata reader.
func WithDeviceReader(devices DeviceReader) Option {
	return func(n *Notifier) {
		if devices != nil {
			n.devices = devices
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(sites SiteReader, alertReader AlertReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if alertReader == nil {
		return nil, errors.New("alert notifier: nil alert reader")
	}
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		sites:          sites,
		alerts:         alertReader,
		channel:        channel,
		template:       template,
		escalation:     0,
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, event alertapp.AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	site := n.lookupSite(ctx, event.Alert.SiteID)
	n.dispatch(ctx, event.Type, event.Alert, site)

	switch event.Type {
	case "active":
		n.scheduleEscalation(event.Alert)
	case "cleared":
		n.cancelEscalation(event.Alert.ID)
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) lookupSite(ctx context.Context, siteID string) *masterdata.Site {
	if n.sites == nil || siteID == "" {
		return nil
	}
	site, err := n.sites.Get(ctx, siteID)
	if err != nil {
		return nil
	}
	return site
}

func (n *Notifier) lookupDevice(ctx context.Context, deviceID string) *masterdata.Device {
	if n.devices == nil || deviceID == "" {
		return nil
	}
	device, err := n.devices.Get(ctx, deviceID)
	if err != nil {
		return nil
	}
	return device
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alert alerts.Alert, site *masterdata.Site) {
	reportURL := ""
	if n != nil && n.reportURL != nil {
		reportURL = n.reportURL(ctx, alert, site)
	}
	device := n.lookupDevice(ctx, alert.DeviceID)
	data := buildTemplateData(eventType, alert, site, device, reportURL)
	content, err := n.template.Render(data)
	if err != nil {
		return
	}
	if !n.shouldSend(alert.ID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return
	}
	n.markSent(alert.ID, eventType, content)
}

func (n *Notifier) scheduleEscalation(alert alerts.Alert) {
	if n == nil || n.escalation <= 0 || alert.ID == "" {
		return
	}
	if alert.Severity != analytics.SeverityWarning {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alert.ID]; ok {
		if existing != nil {
			existing.Stop()
		}
	}
	timer := time.AfterFunc(n.escalation, func() {
		n.runEscalation(alert.ID)
	})
	n.timers[alert.ID] = timer
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(alertID string) {
	if n == nil || alertID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alertID]
	delete(n.timers, alertID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(alertID string) {
	if n == nil || alertID == "" {
		return
	}
	n.mu.Lock()
	delete(n.timers, alertID)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	alert, err := n.alerts.GetByID(ctx, alertID)
	if err != nil || alert == nil {
		return
	}
	if alert.Status == alerts.StatusCleared {
		return
	}
	if alert.Severity != analytics.SeverityWarning {
		return
	}
	site := n.lookupSite(ctx, alert.SiteID)
	n.dispatch(ctx, "escalated", *alert, site)
}

func buildTemplateData(eventType string, alert alerts.Alert, site *masterdata.Site, device *masterdata.Device, reportURL string) TemplateData {
	siteName := alert.SiteID
	if site != nil && site.Name != "" {
		siteName = site.Name
	}
	deviceName := alert.DeviceID
	if device != nil && device.Name != "" {
		deviceName = device.Name
	}
	startAt := alert.StartAt
	if startAt.IsZero() {
		startAt = alert.CreatedAt
	}

	return TemplateData{
		Site:       siteName,
		SiteID:     alert.SiteID,
		Device:     deviceName,
		DeviceID:   alert.DeviceID,
		Metric:     alert.Metric,
		Change:     changeLabel(alert),
		Value:      formatFloat(alert.LastValue),
		StartTime:  startAt.UTC().Format(time.RFC3339),
		Status:     statusLabel(alert.Status),
		StatusCode: alert.Status,
		Severity:   alert.Severity,
		Suggestion: suggestionFor(alert),
		ReportURL:  reportURL,
		Event:      eventType,
		EventLabel: eventLabel(eventType),
	}
}

func changeLabel(alert alerts.Alert) string {
	metric := alert.Metric
	if metric == "" {
		metric = alert.EventType
	}
	return fmt.Sprintf("%s %+.2f (wake %d to %d)", metric, alert.Delta, alert.FromWake, alert.ToWake)
}

func statusLabel(status string) string {
	switch status {
	case alerts.StatusActive:
		return "active"
	case alerts.StatusAcknowledged:
		return "acknowledged"
	case alerts.StatusCleared:
		return "cleared"
	default:
		return status
	}
}

func eventLabel(event string) string {
	switch event {
	case "active":
		return "Triggered"
	case "acknowledged":
		return "Acknowledged"
	case "cleared":
		return "Cleared"
	case "escalated":
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(alert alerts.Alert) string {
	switch alert.EventType {
	case analytics.DeltaScoreChange:
		return "Inspect the area for visible mold growth and verify ventilation."
	case analytics.DeltaHumidityJump:
		return "Check for moisture intrusion near the device."
	case analytics.DeltaTemperatureJump:
		return "Verify HVAC operation and nearby heat sources."
	case analytics.DeltaBatteryDrop:
		return "Schedule a battery replacement for the device."
	default:
		if strings.EqualFold(alert.Severity, analytics.SeverityWarning) {
			return "Investigate the site condition promptly."
		}
		return "Monitor the site condition."
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(alertID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
