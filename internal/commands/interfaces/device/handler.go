package device

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	commandsevents "moldwatch-cloud/internal/commands/application/events"
	commands "moldwatch-cloud/internal/commands/domain"
	"moldwatch-cloud/internal/eventing"
	"moldwatch-cloud/internal/observability/metrics"
)

// CommandQueue is the slice of the command store the poll handler needs.
type CommandQueue interface {
	NextPendingForDevice(ctx context.Context, tenantID, deviceID string) (*commands.Command, error)
	GetByID(ctx context.Context, id string) (*commands.Command, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkAcked(ctx context.Context, id string, ackedAt time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// PollHandler serves the command mailbox a device drains on wake.
// GET returns the oldest pending command, POST acknowledges one.
type PollHandler struct {
	queue     CommandQueue
	publisher *eventing.Publisher
	tenantID  string
	logger    *log.Logger
}

// NewPollHandler constructs a handler.
func NewPollHandler(queue CommandQueue, publisher *eventing.Publisher, tenantID string, logger *log.Logger) (*PollHandler, error) {
	if queue == nil {
		return nil, errors.New("command poll handler: nil queue")
	}
	if tenantID == "" {
		return nil, errors.New("command poll handler: empty tenant id")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PollHandler{queue: queue, publisher: publisher, tenantID: tenantID, logger: logger}, nil
}

type pendingCommand struct {
	CommandID   string          `json:"command_id"`
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
}

type ackRequest struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// ServeHTTP handles GET/POST on the device command path.
func (h *PollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handlePoll(w, r)
	case http.MethodPost:
		h.handleAck(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *PollHandler) handlePoll(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id required", http.StatusBadRequest)
		return
	}

	cmd, err := h.queue.NextPendingForDevice(r.Context(), h.tenantID, deviceID)
	if err != nil {
		http.Error(w, "queue lookup failed", http.StatusInternalServerError)
		return
	}
	if cmd == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if cmd.Status == commands.StatusCreated {
		if err := h.queue.MarkSent(r.Context(), cmd.CommandID, time.Now().UTC()); err != nil {
			http.Error(w, "queue update failed", http.StatusInternalServerError)
			return
		}
	}

	payload := cmd.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pendingCommand{
		CommandID:   cmd.CommandID,
		CommandType: cmd.CommandType,
		Payload:     payload,
	})
}

func (h *PollHandler) handleAck(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.CommandID == "" {
		http.Error(w, "command_id required", http.StatusBadRequest)
		return
	}

	cmd, err := h.queue.GetByID(r.Context(), req.CommandID)
	if err != nil {
		http.Error(w, "queue lookup failed", http.StatusInternalServerError)
		return
	}
	if cmd == nil {
		http.Error(w, "unknown command", http.StatusNotFound)
		return
	}

	now := time.Now().UTC()
	switch req.Status {
	case "failed":
		message := req.Error
		if message == "" {
			message = "device reported failure"
		}
		if err := h.queue.MarkFailed(r.Context(), cmd.CommandID, message); err != nil {
			http.Error(w, "queue update failed", http.StatusInternalServerError)
			return
		}
		metrics.IncCommandResult(metrics.CommandResultFailed)
		h.publishFailed(r, cmd, message)
	default:
		if err := h.queue.MarkAcked(r.Context(), cmd.CommandID, now); err != nil {
			http.Error(w, "queue update failed", http.StatusInternalServerError)
			return
		}
		metrics.IncCommandResult(metrics.CommandResultAcked)
		h.publishAcked(r, cmd, now)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (h *PollHandler) publishAcked(r *http.Request, cmd *commands.Command, at time.Time) {
	if h.publisher == nil {
		return
	}
	eventID := eventing.NewEventID()
	ctx := eventing.WithEventID(r.Context(), eventID)
	ctx = eventing.WithTenantID(ctx, cmd.TenantID)
	if err := h.publisher.Publish(ctx, commandsevents.CommandAcked{
		EventID:    eventID,
		CommandID:  cmd.CommandID,
		TenantID:   cmd.TenantID,
		SiteID:     cmd.SiteID,
		DeviceID:   cmd.DeviceID,
		OccurredAt: at,
	}); err != nil {
		h.logger.Printf("command ack publish failed: command=%s err=%v", cmd.CommandID, err)
	}
}

func (h *PollHandler) publishFailed(r *http.Request, cmd *commands.Command, message string) {
	if h.publisher == nil {
		return
	}
	eventID := eventing.NewEventID()
	ctx := eventing.WithEventID(r.Context(), eventID)
	ctx = eventing.WithTenantID(ctx, cmd.TenantID)
	if err := h.publisher.Publish(ctx, commandsevents.CommandFailed{
		EventID:    eventID,
		CommandID:  cmd.CommandID,
		TenantID:   cmd.TenantID,
		SiteID:     cmd.SiteID,
		DeviceID:   cmd.DeviceID,
		Error:      message,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		h.logger.Printf("command fail publish failed: command=%s err=%v", cmd.CommandID, err)
	}
}
