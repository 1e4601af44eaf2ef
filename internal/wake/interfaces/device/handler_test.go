package device

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"

	wake "moldwatch-cloud/internal/wake/domain"
)

type memReportRepo struct {
	reports []wake.Report
	fail    bool
}

func (r *memReportRepo) InsertReports(_ context.Context, reports []wake.Report) error {
	if r.fail {
		return io.ErrUnexpectedEOF
	}
	r.reports = append(r.reports, reports...)
	return nil
}

func newTestHandler(t *testing.T, repo *memReportRepo) *IngestHandler {
	t.Helper()
	handler, err := NewIngestHandler(repo, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func TestIngestStoresReportPerDevice(t *testing.T) {
	repo := &memReportRepo{}
	handler := newTestHandler(t, repo)

	body := `{
		"tenant_id": "tenant-1",
		"site_id": "site-1",
		"wake_number": 7,
		"wake_round_start": 1755000000,
		"devices": [
			{"device_id": "dev-a", "position": {"x": 10, "y": 20}, "telemetry": {"temperature": 71.5}},
			{"device_id": "dev-b", "status": "active"}
		]
	}`

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/ingest/wake", strings.NewReader(body)))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.reports) != 2 {
		t.Fatalf("expected 2 stored reports, got %d", len(repo.reports))
	}
	first := repo.reports[0]
	if first.DeviceID != "dev-a" || first.WakeNumber != 7 || first.TenantID != "tenant-1" {
		t.Fatalf("unexpected report %+v", first)
	}
	if first.WakeRoundStart.Unix() != 1755000000 {
		t.Fatalf("unexpected round start %v", first.WakeRoundStart)
	}
	if !strings.Contains(rec.Body.String(), `"inserted":2`) {
		t.Fatalf("unexpected response body %s", rec.Body.String())
	}
}

func TestIngestAcceptsSingleObservation(t *testing.T) {
	repo := &memReportRepo{}
	handler := newTestHandler(t, repo)

	body := `{
		"tenant_id": "tenant-1",
		"site_id": "site-1",
		"wake_number": 3,
		"wake_round_start": 1755000000000,
		"observation": {"device_id": "dev-a", "battery_health_percent": 88}
	}`

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/ingest/wake", strings.NewReader(body)))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(repo.reports) != 1 {
		t.Fatalf("expected 1 stored report, got %d", len(repo.reports))
	}
	if repo.reports[0].WakeRoundStart.Unix() != 1755000000 {
		t.Fatalf("expected millisecond timestamp normalized, got %v", repo.reports[0].WakeRoundStart)
	}
}

func TestIngestRejectsBadPayloads(t *testing.T) {
	cases := map[string]struct {
		body string
		code int
	}{
		"invalid json":   {body: `{`, code: 400},
		"missing ids":    {body: `{"wake_number": 1, "wake_round_start": 1755000000}`, code: 400},
		"no wake number": {body: `{"tenant_id": "t", "site_id": "s", "wake_round_start": 1755000000, "devices": [{"device_id": "d"}]}`, code: 400},
		"no devices":     {body: `{"tenant_id": "t", "site_id": "s", "wake_number": 1, "wake_round_start": 1755000000}`, code: 400},
		"anon device":    {body: `{"tenant_id": "t", "site_id": "s", "wake_number": 1, "wake_round_start": 1755000000, "devices": [{"status": "active"}]}`, code: 400},
	}

	for name, tc := range cases {
		repo := &memReportRepo{}
		handler := newTestHandler(t, repo)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/ingest/wake", strings.NewReader(tc.body)))
		if rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", name, tc.code, rec.Code)
		}
		if len(repo.reports) != 0 {
			t.Fatalf("%s: expected no stored reports", name)
		}
	}
}

func TestIngestReportsInsertFailure(t *testing.T) {
	repo := &memReportRepo{fail: true}
	handler := newTestHandler(t, repo)

	body := `{"tenant_id": "t", "site_id": "s", "wake_number": 1, "wake_round_start": 1755000000, "devices": [{"device_id": "d"}]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/ingest/wake", strings.NewReader(body)))
	if rec.Code != 500 {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
