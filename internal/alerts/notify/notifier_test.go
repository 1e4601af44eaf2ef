package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alertapp "moldwatch-cloud/internal/alerts/application"
	alerts "moldwatch-cloud/internal/alerts/domain"
	analytics "moldwatch-cloud/internal/analytics/domain"
	masterdata "moldwatch-cloud/internal/masterdata/domain"
)

type stubSiteRepo struct {
	site *masterdata.Site
}

func (s stubSiteRepo) Get(_ context.Context, _ string) (*masterdata.Site, error) {
	return s.site, nil
}

type stubAlertRepo struct {
	alert *alerts.Alert
}

func (s stubAlertRepo) GetByID(_ context.Context, _ string) (*alerts.Alert, error) {
	return s.alert, nil
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}

	site := &masterdata.Site{ID: "site-1", Name: "Crawlspace North"}
	alert := &alerts.Alert{
		ID:        "alert-1",
		TenantID:  "tenant-1",
		SiteID:    "site-1",
		DeviceID:  "dev-a",
		EventType: analytics.DeltaHumidityJump,
		Metric:    "humidity",
		Severity:  analytics.SeverityWarning,
		Status:    alerts.StatusActive,
		Delta:     22.5,
		LastValue: 87.5,
		FromWake:  4,
		ToWake:    5,
		StartAt:   time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC),
		CreatedAt: time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC),
	}

	notifier, err := NewNotifier(
		stubSiteRepo{site: site},
		stubAlertRepo{alert: alert},
		channel,
		tpl,
		WithEscalation(0),
		WithReportURLResolver(func(_ context.Context, _ alerts.Alert, _ *masterdata.Site) string {
			return "http://example.com/report"
		}),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "active", Alert: *alert})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		if payload.Text.Content == "" {
			t.Fatalf("expected content in payload")
		}
		content := payload.Text.Content
		checks := []string{
			"Site: Crawlspace North",
			"Device: dev-a",
			"Change: humidity +22.50 (wake 4 to 5)",
			"Observed Value: 87.50",
			"Start Time: 2026-08-20T08:00:00Z",
			"Current Status: active",
			"Severity: warning",
			"Suggestion:",
			"Report: http://example.com/report",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func warningAlert(id string, clock Clock) *alerts.Alert {
	return &alerts.Alert{
		ID:        id,
		TenantID:  "tenant-1",
		SiteID:    "site-1",
		DeviceID:  "dev-a",
		EventType: analytics.DeltaScoreChange,
		Metric:    "growth_score",
		Severity:  analytics.SeverityWarning,
		Status:    alerts.StatusActive,
		Delta:     25,
		LastValue: 62,
		FromWake:  1,
		ToWake:    2,
		StartAt:   clock.Now(),
	}
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	site := &masterdata.Site{ID: "site-1", Name: "Crawlspace North"}
	alert := warningAlert("alert-1", clock)

	notifier, err := NewNotifier(
		stubSiteRepo{site: site},
		stubAlertRepo{alert: alert},
		channel,
		tpl,
		WithEscalation(0),
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "active", Alert: *alert})
	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "active", Alert: *alert})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during cooldown, got %d", got)
	}

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "active", Alert: *alert})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected 2 notifications after cooldown, got %d", got)
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 20, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	site := &masterdata.Site{ID: "site-1", Name: "Crawlspace North"}
	alert := warningAlert("alert-2", clock)

	notifier, err := NewNotifier(
		stubSiteRepo{site: site},
		stubAlertRepo{alert: alert},
		channel,
		tpl,
		WithEscalation(0),
		WithClock(clock),
		WithDedupeWindow(30*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "active", Alert: *alert})
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "active", Alert: *alert})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	alert.LastValue = 70
	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "active", Alert: *alert})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}
}

func TestNotifierEscalation(t *testing.T) {
	channel := &recordingChannel{}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	site := &masterdata.Site{ID: "site-1", Name: "Crawlspace North"}
	alert := &alerts.Alert{
		ID:        "alert-3",
		TenantID:  "tenant-1",
		SiteID:    "site-1",
		DeviceID:  "dev-a",
		EventType: analytics.DeltaScoreChange,
		Metric:    "growth_score",
		Severity:  analytics.SeverityWarning,
		Status:    alerts.StatusActive,
		Delta:     25,
		LastValue: 62,
		StartAt:   time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}

	notifier, err := NewNotifier(
		stubSiteRepo{site: site},
		stubAlertRepo{alert: alert},
		channel,
		tpl,
		WithEscalation(20*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alertapp.AlertEvent{Type: "active", Alert: *alert})

	deadline := time.After(300 * time.Millisecond)
	for {
		if channel.Count() >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected escalation notification, got %d", channel.Count())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	if !strings.Contains(channel.Latest(), "Escalated") {
		t.Fatalf("expected escalated notification content, got %s", channel.Latest())
	}
}
