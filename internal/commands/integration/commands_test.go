package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	commandsapp "moldwatch-cloud/internal/commands/application"
	commandsevents "moldwatch-cloud/internal/commands/application/events"
	commands "moldwatch-cloud/internal/commands/domain"
	commandsrepo "moldwatch-cloud/internal/commands/infrastructure/postgres"
	commandsinterfaces "moldwatch-cloud/internal/commands/interfaces"
	"moldwatch-cloud/internal/devicecloud"
	"moldwatch-cloud/internal/eventing"
	"moldwatch-cloud/internal/eventing/eventbus"
	eventingrepo "moldwatch-cloud/internal/eventing/infrastructure/postgres"
	masterdata "moldwatch-cloud/internal/masterdata/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type staticResolver struct {
	mac string
}

func (r staticResolver) Get(_ context.Context, id string) (*masterdata.Device, error) {
	return &masterdata.Device{ID: id, SiteID: "site-001", MAC: r.mac}, nil
}

func TestCommands_Acked_And_Idempotent(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	if err := applyCommandMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM device_commands")
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")
	_, _ = db.ExecContext(ctx, "DELETE FROM processed_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM dead_letter_events")

	fake := newFakeGatewayServer()
	server := httptest.NewServer(fake)
	defer server.Close()

	gateway, err := devicecloud.NewClient(server.URL, "token")
	if err != nil {
		t.Fatalf("gateway client: %v", err)
	}

	bus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(commandsevents.CommandIssued{})
	registry.Register(commandsevents.CommandAcked{})
	registry.Register(commandsevents.CommandFailed{})

	outbox := eventingrepo.NewOutboxStore(db)
	processed := eventingrepo.NewProcessedStore(db)
	dlq := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(bus, outbox, registry, dlq)
	publisher := eventing.NewPublisher(outbox, dispatcher, "tenant-cmd", bus)

	repo := commandsrepo.NewCommandRepository(db)
	service, err := commandsapp.NewService(repo, publisher, "tenant-cmd")
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	consumer, err := commandsinterfaces.NewGatewayConsumer(repo, gateway, staticResolver{mac: "aa:bb:cc:00:00:01"}, publisher, nil)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	eventing.Subscribe(bus, eventbus.EventTypeOf[commandsevents.CommandIssued](), "gateway.dispatch", consumer.HandleCommandIssued, processed)

	req := commandsapp.IssueRequest{
		SiteID:         "site-001",
		DeviceID:       "device-001",
		CommandType:    commands.TypeCaptureImage,
		Payload:        json.RawMessage(`{"resolution":"svga"}`),
		IdempotencyKey: "idem-1",
	}

	resp1, err := service.IssueCommand(ctx, req)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	resp2, err := service.IssueCommand(ctx, req)
	if err != nil {
		t.Fatalf("issue duplicate: %v", err)
	}
	if resp1.CommandID != resp2.CommandID {
		t.Fatalf("idempotency mismatch: %s vs %s", resp1.CommandID, resp2.CommandID)
	}

	_ = dispatcher.Dispatch(ctx, 10)

	cmd, err := repo.GetByID(ctx, resp1.CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if cmd.Status != commands.StatusAcked {
		t.Fatalf("expected acked, got %s", cmd.Status)
	}
	if fake.callCount("aa:bb:cc:00:00:01") != 1 {
		t.Fatalf("expected one gateway call, got %d", fake.callCount("aa:bb:cc:00:00:01"))
	}
}

func TestCommands_Timeout(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	if err := applyCommandMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM device_commands")
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")
	_, _ = db.ExecContext(ctx, "DELETE FROM processed_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM dead_letter_events")

	fake := newFakeGatewayServer()
	server := httptest.NewServer(fake)
	defer server.Close()

	gateway, err := devicecloud.NewClient(server.URL, "token")
	if err != nil {
		t.Fatalf("gateway client: %v", err)
	}

	bus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(commandsevents.CommandIssued{})
	registry.Register(commandsevents.CommandAcked{})
	registry.Register(commandsevents.CommandFailed{})

	outbox := eventingrepo.NewOutboxStore(db)
	processed := eventingrepo.NewProcessedStore(db)
	dlq := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(bus, outbox, registry, dlq)
	publisher := eventing.NewPublisher(outbox, dispatcher, "tenant-cmd", bus)

	repo := commandsrepo.NewCommandRepository(db)
	service, err := commandsapp.NewService(repo, publisher, "tenant-cmd")
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	consumer, err := commandsinterfaces.NewGatewayConsumer(repo, gateway, staticResolver{mac: "aa:bb:cc:00:00:02"}, publisher, nil)
	if err != nil {
		t.Fatalf("consumer: %v", err)
	}
	eventing.Subscribe(bus, eventbus.EventTypeOf[commandsevents.CommandIssued](), "gateway.dispatch", consumer.HandleCommandIssued, processed)

	// set_wake_interval is only collected on the device's next wake, so
	// the gateway answers "queued" and the command stays sent.
	req := commandsapp.IssueRequest{
		SiteID:      "site-002",
		DeviceID:    "device-002",
		CommandType: commands.TypeSetWakeInterval,
		Payload:     json.RawMessage(`{"seconds":1800}`),
	}
	resp, err := service.IssueCommand(ctx, req)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_ = dispatcher.Dispatch(ctx, 10)

	_, err = service.MarkTimeouts(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("mark timeout: %v", err)
	}
	cmd, err := repo.GetByID(ctx, resp.CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if cmd.Status != commands.StatusTimeout {
		t.Fatalf("expected timeout, got %s", cmd.Status)
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func applyCommandMigrations(db *sql.DB) error {
	root := projectRoot()
	files := []string{
		filepath.Join(root, "migrations", "005_eventing.sql"),
		filepath.Join(root, "migrations", "006_commands.sql"),
	}
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(content)); err != nil {
			return err
		}
	}
	return nil
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}

type fakeGatewayServer struct {
	mu    sync.Mutex
	calls map[string]int
}

func newFakeGatewayServer() *fakeGatewayServer {
	return &fakeGatewayServer{calls: make(map[string]int)}
}

func (f *fakeGatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/api/devices/") || !strings.HasSuffix(r.URL.Path, "/cmd") {
		http.NotFound(w, r)
		return
	}
	mac := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/devices/"), "/cmd")
	f.mu.Lock()
	f.calls[mac]++
	f.mu.Unlock()

	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	method, _ := payload["method"].(string)
	resp := map[string]any{"status": "acked"}
	if method == commands.TypeSetWakeInterval {
		resp["status"] = "queued"
	}
	body, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (f *fakeGatewayServer) callCount(mac string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[mac]
}
