package integration_test

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	timelineapp "moldwatch-cloud/internal/timeline/application"
	timeline "moldwatch-cloud/internal/timeline/domain"
	wake "moldwatch-cloud/internal/wake/domain"
	wakerepo "moldwatch-cloud/internal/wake/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestQueryAPI_TimelineAndCSVExport(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := applyTenantMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	ctx := context.Background()
	tenantID := "tenant-query"
	siteID := "site-query-001"

	_, _ = db.ExecContext(ctx, "DELETE FROM wake_reports WHERE tenant_id = $1", tenantID)
	_, _ = db.ExecContext(ctx, "DELETE FROM sites WHERE id = $1", siteID)
	_, err = db.ExecContext(ctx, `
INSERT INTO sites (id, tenant_id, name, timezone, site_type, region)
VALUES ($1,$2,$3,$4,$5,$6)`, siteID, tenantID, "Crawlspace Query", "UTC", "crawlspace", "lab")
	if err != nil {
		t.Fatalf("insert site: %v", err)
	}

	roundStart := time.Date(2026, time.August, 20, 6, 0, 0, 0, time.UTC)
	if err := seedWakeReports(ctx, db, tenantID, siteID, roundStart); err != nil {
		t.Fatalf("seed reports: %v", err)
	}

	timelines, err := timelineapp.NewService(wakerepo.NewSnapshotQuery(db), nil, nil, tenantID)
	if err != nil {
		t.Fatalf("timeline service: %v", err)
	}
	routes := newSiteRoutes(t, db, timelines, tenantID)
	mux := http.NewServeMux()
	mux.Handle("/api/v1/sites/", routes)

	server := httptest.NewServer(mux)
	defer server.Close()

	from := roundStart.Format(time.RFC3339)
	to := roundStart.Add(2 * time.Hour).Format(time.RFC3339)

	timelineURL := server.URL + "/api/v1/sites/" + siteID + "/timeline?from=" + from + "&to=" + to + "&analytics=1"
	resp, err := http.Get(timelineURL)
	if err != nil {
		t.Fatalf("get timeline: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("timeline status: %d", resp.StatusCode)
	}

	var payload struct {
		SiteID    string                        `json:"site_id"`
		Snapshots []timeline.ReconciledSnapshot `json:"snapshots"`
		Analytics *struct {
			Aggregates map[string]struct {
				Samples int `json:"samples"`
			} `json:"aggregates"`
		} `json:"analytics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	if payload.SiteID != siteID {
		t.Fatalf("site_id mismatch: %s", payload.SiteID)
	}
	if len(payload.Snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(payload.Snapshots))
	}
	// Wake 2 has no report from dev-b, so LOCF must carry its wake 1
	// observation forward.
	second := payload.Snapshots[1]
	if len(second.Devices) != 2 {
		t.Fatalf("expected carried-forward device in wake 2, got %d devices", len(second.Devices))
	}
	if payload.Analytics == nil {
		t.Fatal("expected analytics block")
	}
	if got := payload.Analytics.Aggregates["temperature"].Samples; got != 4 {
		t.Fatalf("expected 4 temperature samples, got %d", got)
	}

	csvURL := server.URL + "/api/v1/sites/" + siteID + "/export.csv?from=" + from + "&to=" + to
	csvResp, err := http.Get(csvURL)
	if err != nil {
		t.Fatalf("get csv: %v", err)
	}
	defer csvResp.Body.Close()
	if csvResp.StatusCode != http.StatusOK {
		t.Fatalf("csv status: %d", csvResp.StatusCode)
	}

	reader := csv.NewReader(csvResp.Body)
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected header plus 4 rows, got %d", len(records))
	}
	if records[0][0] != "wake_number" || records[0][2] != "device_id" {
		t.Fatalf("csv header mismatch: %v", records[0])
	}
}

func seedWakeReports(ctx context.Context, db *sql.DB, tenantID, siteID string, roundStart time.Time) error {
	repo := wakerepo.NewReportRepository(db)
	obs := func(id string, temp, humidity, battery, mgi float64) timeline.DeviceObservation {
		return timeline.DeviceObservation{
			DeviceID: id,
			Status:   "active",
			Telemetry: &timeline.Telemetry{
				Temperature: &temp,
				Humidity:    &humidity,
			},
			BatteryHealthPercent: &battery,
			MGIState:             &timeline.MGIState{CurrentMGI: &mgi},
		}
	}
	reports := []wake.Report{
		{
			TenantID: tenantID, SiteID: siteID, DeviceID: "dev-a",
			WakeNumber: 1, WakeRoundStart: roundStart,
			Observation: obs("dev-a", 21.5, 55, 90, 0.12),
		},
		{
			TenantID: tenantID, SiteID: siteID, DeviceID: "dev-b",
			WakeNumber: 1, WakeRoundStart: roundStart,
			Observation: obs("dev-b", 22.0, 60, 88, 0.20),
		},
		{
			TenantID: tenantID, SiteID: siteID, DeviceID: "dev-a",
			WakeNumber: 2, WakeRoundStart: roundStart.Add(30 * time.Minute),
			Observation: obs("dev-a", 21.8, 58, 89, 0.15),
		},
	}
	return repo.InsertReports(ctx, reports)
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}
