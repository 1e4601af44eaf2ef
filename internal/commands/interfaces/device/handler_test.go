package device

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	commands "moldwatch-cloud/internal/commands/domain"
)

type memQueue struct {
	pending *commands.Command
	byID    map[string]*commands.Command
	sent    []string
	acked   []string
	failed  map[string]string
}

func newMemQueue() *memQueue {
	return &memQueue{byID: make(map[string]*commands.Command), failed: make(map[string]string)}
}

func (q *memQueue) NextPendingForDevice(_ context.Context, _, _ string) (*commands.Command, error) {
	return q.pending, nil
}

func (q *memQueue) GetByID(_ context.Context, id string) (*commands.Command, error) {
	return q.byID[id], nil
}

func (q *memQueue) MarkSent(_ context.Context, id string, _ time.Time) error {
	q.sent = append(q.sent, id)
	return nil
}

func (q *memQueue) MarkAcked(_ context.Context, id string, _ time.Time) error {
	q.acked = append(q.acked, id)
	return nil
}

func (q *memQueue) MarkFailed(_ context.Context, id string, msg string) error {
	q.failed[id] = msg
	return nil
}

func newTestHandler(t *testing.T, queue CommandQueue) *PollHandler {
	t.Helper()
	handler, err := NewPollHandler(queue, nil, "tenant-1", log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new poll handler: %v", err)
	}
	return handler
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func TestPollReturnsPendingCommandAndMarksSent(t *testing.T) {
	queue := newMemQueue()
	queue.pending = &commands.Command{
		CommandID:   "cmd-1",
		TenantID:    "tenant-1",
		SiteID:      "site-1",
		DeviceID:    "dev-a",
		CommandType: commands.TypeCaptureImage,
		Status:      commands.StatusCreated,
	}
	handler := newTestHandler(t, queue)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/device/cmd?device_id=dev-a", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp pendingCommand
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CommandID != "cmd-1" || resp.CommandType != commands.TypeCaptureImage {
		t.Fatalf("unexpected command: %+v", resp)
	}
	if string(resp.Payload) != "{}" {
		t.Fatalf("expected empty payload object, got %s", resp.Payload)
	}
	if len(queue.sent) != 1 || queue.sent[0] != "cmd-1" {
		t.Fatalf("expected command marked sent, got %v", queue.sent)
	}
}

func TestPollEmptyQueueRespondsNoContent(t *testing.T) {
	handler := newTestHandler(t, newMemQueue())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/device/cmd?device_id=dev-a", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestPollRequiresDeviceID(t *testing.T) {
	handler := newTestHandler(t, newMemQueue())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/device/cmd", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAckMarksCommandAcked(t *testing.T) {
	queue := newMemQueue()
	queue.byID["cmd-2"] = &commands.Command{
		CommandID:   "cmd-2",
		TenantID:    "tenant-1",
		SiteID:      "site-1",
		DeviceID:    "dev-a",
		CommandType: commands.TypeWakeNow,
		Status:      commands.StatusSent,
	}
	handler := newTestHandler(t, queue)

	body := strings.NewReader(`{"command_id":"cmd-2","status":"acked"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/cmd", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(queue.acked) != 1 || queue.acked[0] != "cmd-2" {
		t.Fatalf("expected command acked, got %v", queue.acked)
	}
}

func TestAckRecordsDeviceFailure(t *testing.T) {
	queue := newMemQueue()
	queue.byID["cmd-3"] = &commands.Command{
		CommandID:   "cmd-3",
		TenantID:    "tenant-1",
		SiteID:      "site-1",
		DeviceID:    "dev-a",
		CommandType: commands.TypeSetWakeInterval,
		Status:      commands.StatusSent,
	}
	handler := newTestHandler(t, queue)

	body := strings.NewReader(`{"command_id":"cmd-3","status":"failed","error":"low battery"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/cmd", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if queue.failed["cmd-3"] != "low battery" {
		t.Fatalf("expected failure recorded, got %v", queue.failed)
	}
}

func TestAckUnknownCommandRespondsNotFound(t *testing.T) {
	handler := newTestHandler(t, newMemQueue())

	body := strings.NewReader(`{"command_id":"cmd-x","status":"acked"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/cmd", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
