package integration_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"moldwatch-cloud/internal/devicecloud"
	provisioning "moldwatch-cloud/internal/provisioning/application"
	provisioninghttp "moldwatch-cloud/internal/provisioning/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestProvisioning_IdempotentGatewayRegistration(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := applyProvisioningMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM device_placements")
	_, _ = db.ExecContext(ctx, "DELETE FROM devices")
	_, _ = db.ExecContext(ctx, "DELETE FROM sites")

	fake := newFakeGateway()
	server := httptest.NewServer(fake)
	defer server.Close()

	client, err := devicecloud.NewClient(server.URL, "token")
	if err != nil {
		t.Fatalf("gateway client: %v", err)
	}
	service, err := provisioning.NewService(db, client)
	if err != nil {
		t.Fatalf("provisioning service: %v", err)
	}
	handler, err := provisioninghttp.NewSiteProvisioningHandler(service, nil)
	if err != nil {
		t.Fatalf("provisioning handler: %v", err)
	}

	req := provisioning.ProvisionRequest{
		Site: provisioning.SiteInput{
			TenantID:        "tenant-provision",
			Name:            "crawlspace-provision-001",
			Timezone:        "UTC",
			Type:            "crawlspace",
			Region:          "lab",
			FloorplanWidth:  12,
			FloorplanHeight: 8,
		},
		Devices: []provisioning.DeviceInput{
			{
				MAC:        "AA:BB:CC:11:22:33",
				SensorKind: "scd41",
				Name:       "north-corner",
				Placement:  &provisioning.PlacementInput{X: 2.5, Y: 1.5, Zone: "north"},
			},
		},
	}

	resp1 := doProvision(t, handler, req)
	resp2 := doProvision(t, handler, req)

	if resp1.SiteID != resp2.SiteID {
		t.Fatalf("site id mismatch: %s vs %s", resp1.SiteID, resp2.SiteID)
	}
	if len(resp1.Devices) != 1 || len(resp2.Devices) != 1 {
		t.Fatal("device count mismatch")
	}
	if resp1.Devices[0].GatewayDeviceID != resp2.Devices[0].GatewayDeviceID {
		t.Fatalf("gateway device mismatch: %s vs %s",
			resp1.Devices[0].GatewayDeviceID, resp2.Devices[0].GatewayDeviceID)
	}
	if resp1.Devices[0].PlacementID == "" {
		t.Fatal("expected placement id")
	}
	if fake.deviceCount() != 1 {
		t.Fatalf("expected idempotent gateway registration, devices=%d", fake.deviceCount())
	}

	var deviceCount int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM devices WHERE site_id = $1", resp1.SiteID).Scan(&deviceCount); err != nil {
		t.Fatalf("count devices: %v", err)
	}
	if deviceCount != 1 {
		t.Fatalf("expected 1 persisted device, got %d", deviceCount)
	}
}

func doProvision(t *testing.T, handler http.Handler, req provisioning.ProvisionRequest) provisioning.ProvisionResponse {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/provisioning/sites", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp provisioning.ProvisionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func applyProvisioningMigrations(db *sql.DB) error {
	root := projectRoot()
	content, err := os.ReadFile(filepath.Join(root, "migrations", "001_masterdata.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(content))
	return err
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}

// fakeGateway mimics the LAN gateway device registry.
type fakeGateway struct {
	mu      sync.Mutex
	devices map[string]string
	attrs   map[string]map[string]any
	counter int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		devices: make(map[string]string),
		attrs:   make(map[string]map[string]any),
	}
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/devices":
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mac, _ := payload["mac"].(string)
		name, _ := payload["name"].(string)
		id, ok := f.devices[mac]
		if !ok {
			f.counter++
			id = fmt.Sprintf("gw-%d", f.counter)
			f.devices[mac] = id
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "mac": mac, "name": name})
		return
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/devices/"):
		mac := strings.TrimPrefix(r.URL.Path, "/api/devices/")
		id, ok := f.devices[mac]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "mac": mac})
		return
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/attributes"):
		mac := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/devices/"), "/attributes")
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.attrs[mac] = payload
		w.WriteHeader(http.StatusOK)
		return
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGateway) deviceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}
