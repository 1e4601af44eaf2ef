package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	analytics "moldwatch-cloud/internal/analytics/domain"
	"moldwatch-cloud/internal/auth"
	masterdata "moldwatch-cloud/internal/masterdata/domain"
	timeline "moldwatch-cloud/internal/timeline/domain"
)

type stubSites struct {
	sites map[string]*masterdata.Site
}

func (s *stubSites) Get(_ context.Context, id string) (*masterdata.Site, error) {
	return s.sites[id], nil
}

func (s *stubSites) ListByTenant(_ context.Context, tenantID string) ([]masterdata.Site, error) {
	var out []masterdata.Site
	for _, site := range s.sites {
		if site.TenantID == tenantID {
			out = append(out, *site)
		}
	}
	return out, nil
}

func (s *stubSites) Save(_ context.Context, _ *masterdata.Site) error { return nil }

type stubDevices struct {
	devices []masterdata.Device
}

func (s *stubDevices) Get(_ context.Context, _ string) (*masterdata.Device, error) {
	return nil, nil
}

func (s *stubDevices) GetByMAC(_ context.Context, _ string) (*masterdata.Device, error) {
	return nil, nil
}

func (s *stubDevices) ListBySite(_ context.Context, _ string) ([]masterdata.Device, error) {
	return s.devices, nil
}

func (s *stubDevices) Save(_ context.Context, _ *masterdata.Device) error { return nil }

type stubPlacements struct {
	placements []masterdata.Placement
	saved      []masterdata.Placement
}

func (s *stubPlacements) ListBySite(_ context.Context, _ string) ([]masterdata.Placement, error) {
	return s.placements, nil
}

func (s *stubPlacements) Save(_ context.Context, placement *masterdata.Placement) error {
	s.saved = append(s.saved, *placement)
	return nil
}

type stubTimelines struct {
	snapshots []timeline.ReconciledSnapshot
	err       error
}

func (s *stubTimelines) Timeline(_ context.Context, _ string, _, _ time.Time) ([]timeline.ReconciledSnapshot, error) {
	return s.snapshots, s.err
}

type stubChecker struct {
	err error
}

func (s stubChecker) EnsureSiteTenant(_ context.Context, _, _ string) error { return s.err }

func ptr(v float64) *float64 { return &v }

func timelineFixture() []timeline.ReconciledSnapshot {
	base := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	device := func(id string, temp, humidity, battery, mgi float64) timeline.DeviceObservation {
		return timeline.DeviceObservation{
			DeviceID: id,
			Status:   "active",
			Telemetry: &timeline.Telemetry{
				Temperature: ptr(temp),
				Humidity:    ptr(humidity),
			},
			BatteryHealthPercent: ptr(battery),
			MGIState:             &timeline.MGIState{CurrentMGI: ptr(mgi)},
		}
	}
	return []timeline.ReconciledSnapshot{
		{
			WakeNumber:     1,
			WakeRoundStart: base,
			Devices: []timeline.DeviceObservation{
				device("dev-a", 21.5, 55, 90, 0.12),
				device("dev-b", 22.0, 60, 88, 0.20),
			},
		},
		{
			WakeNumber:     2,
			WakeRoundStart: base.Add(30 * time.Minute),
			Devices: []timeline.DeviceObservation{
				device("dev-a", 21.8, 78, 89, 0.15),
				device("dev-b", 22.1, 61, 80, 0.21),
			},
		},
	}
}

func newTestRoutes(t *testing.T, timelines TimelineProvider, checker auth.SiteTenantChecker) *SiteRoutes {
	t.Helper()
	sites := &stubSites{sites: map[string]*masterdata.Site{
		"site-1": {ID: "site-1", TenantID: "tenant-1", Name: "Crawlspace North", Timezone: "UTC"},
	}}
	routes, err := NewSiteRoutes(
		timelines,
		sites,
		&stubDevices{devices: []masterdata.Device{{ID: "dev-a", SiteID: "site-1", MAC: "aa:bb:cc:00:00:01"}}},
		&stubPlacements{placements: []masterdata.Placement{{ID: "plc-1", SiteID: "site-1", DeviceID: "dev-a", X: 3, Y: 4, Active: true}}},
		nil,
		checker,
		nil,
		"tenant-1",
	)
	if err != nil {
		t.Fatalf("site routes: %v", err)
	}
	return routes
}

func TestSitesHandlerListsTenantSites(t *testing.T) {
	sites := &stubSites{sites: map[string]*masterdata.Site{
		"site-1": {ID: "site-1", TenantID: "tenant-1", Name: "Crawlspace North", Timezone: "UTC"},
		"site-2": {ID: "site-2", TenantID: "tenant-2", Name: "Elsewhere", Timezone: "UTC"},
	}}
	handler, err := NewSitesHandler(sites, "tenant-1")
	if err != nil {
		t.Fatalf("sites handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var views []siteView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].ID != "site-1" {
		t.Fatalf("expected only tenant-1 sites, got %+v", views)
	}
}

func TestTimelineIncludesAnalyticsWhenRequested(t *testing.T) {
	routes := newTestRoutes(t, &stubTimelines{snapshots: timelineFixture()}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sites/site-1/timeline?from=2026-08-20T06:00:00Z&to=2026-08-20T08:00:00Z&analytics=1", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp timelineResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(resp.Snapshots))
	}
	if resp.Analytics == nil {
		t.Fatal("expected analytics block")
	}
	temp := resp.Analytics.Aggregates[analytics.MetricTemperature]
	if temp.Samples != 4 {
		t.Fatalf("expected 4 temperature samples, got %d", temp.Samples)
	}
	// dev-a humidity climbs 23 points between wakes, above the default
	// warn threshold.
	var humidityJump bool
	for _, event := range resp.Analytics.Deltas {
		if event.Type == analytics.DeltaHumidityJump && event.DeviceID == "dev-a" {
			humidityJump = true
		}
	}
	if !humidityJump {
		t.Fatalf("expected humidity jump delta, got %+v", resp.Analytics.Deltas)
	}
}

func TestTimelineOmitsAnalyticsByDefault(t *testing.T) {
	routes := newTestRoutes(t, &stubTimelines{snapshots: timelineFixture()}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sites/site-1/timeline?from=2026-08-20T06:00:00Z&to=2026-08-20T08:00:00Z", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `"analytics"`) {
		t.Fatalf("expected no analytics block, got %s", rec.Body.String())
	}
}

func TestTimelineRejectsInvertedWindow(t *testing.T) {
	routes := newTestRoutes(t, &stubTimelines{snapshots: timelineFixture()}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sites/site-1/timeline?from=2026-08-20T08:00:00Z&to=2026-08-20T06:00:00Z", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSiteRoutesEnforceTenant(t *testing.T) {
	routes := newTestRoutes(t, &stubTimelines{snapshots: timelineFixture()}, stubChecker{err: auth.ErrTenantMismatch})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sites/site-1/timeline?from=2026-08-20T06:00:00Z&to=2026-08-20T08:00:00Z", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "tenant-2", auth.RoleViewer, "mallory"))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestExportCSVStreamsReadings(t *testing.T) {
	routes := newTestRoutes(t, &stubTimelines{snapshots: timelineFixture()}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sites/site-1/export.csv?from=2026-08-20T06:00:00Z&to=2026-08-20T08:00:00Z", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("expected text/csv, got %q", got)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header plus 4 rows, got %d lines", len(lines))
	}
}

func TestExportPDFRespondsDocument(t *testing.T) {
	routes := newTestRoutes(t, &stubTimelines{snapshots: timelineFixture()}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sites/site-1/export.pdf?from=2026-08-20T06:00:00Z&to=2026-08-20T08:00:00Z", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF") {
		t.Fatalf("expected pdf payload, got %q", rec.Body.String()[:8])
	}
}

func TestRecordPlacementDefaultsIDAndActivates(t *testing.T) {
	placements := &stubPlacements{}
	sites := &stubSites{sites: map[string]*masterdata.Site{
		"site-1": {ID: "site-1", TenantID: "tenant-1", Name: "Crawlspace North", Timezone: "UTC"},
	}}
	routes, err := NewSiteRoutes(&stubTimelines{}, sites, nil, placements, nil, nil, nil, "tenant-1")
	if err != nil {
		t.Fatalf("site routes: %v", err)
	}

	body := strings.NewReader(`{"device_id":"dev-a","x":3.5,"y":7.25,"zone":"north"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sites/site-1/placements", body)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(placements.saved) != 1 {
		t.Fatalf("expected one saved placement, got %d", len(placements.saved))
	}
	saved := placements.saved[0]
	if saved.ID == "" || !saved.Active || saved.SiteID != "site-1" {
		t.Fatalf("unexpected placement %+v", saved)
	}
}

func TestUnknownSubresourceNotFound(t *testing.T) {
	routes := newTestRoutes(t, &stubTimelines{snapshots: timelineFixture()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites/site-1/frobnicate", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
