package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeGateway simulates the LAN gateway that fronts the sleeping
// sensors: a device registry keyed by MAC, a command mailbox per
// device, and a wake pulse endpoint.
type fakeGateway struct {
	start         time.Time
	latency       time.Duration
	defaultStatus string
	failRate      float64
	queuedRate    float64

	mu         sync.Mutex
	byMAC      map[string]int64
	byStatus   map[string]int64
	totalCalls int64

	deviceSeq int64
	devices   map[string]*gatewayDevice
}

type gatewayDevice struct {
	ID      string
	MAC     string
	Name    string
	Kind    string
	Attrs   map[string]string
	Mailbox []map[string]any
}

func main() {
	addr := getenvDefault("FAKE_GATEWAY_ADDR", ":18080")
	latencyMs := getenvIntDefault("FAKE_GATEWAY_LATENCY_MS", 0)
	defaultStatus := getenvDefault("FAKE_GATEWAY_STATUS", "")
	failRate := getenvFloatDefault("FAKE_GATEWAY_FAIL_RATE", 0)
	queuedRate := getenvFloatDefault("FAKE_GATEWAY_QUEUED_RATE", 0)

	rand.Seed(time.Now().UnixNano())

	srv := &fakeGateway{
		start:         time.Now().UTC(),
		latency:       time.Duration(latencyMs) * time.Millisecond,
		defaultStatus: defaultStatus,
		failRate:      failRate,
		queuedRate:    queuedRate,
		byMAC:         make(map[string]int64),
		byStatus:      make(map[string]int64),
		devices:       make(map[string]*gatewayDevice),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc("/api/devices", srv.handleRegister)
	mux.HandleFunc("/api/devices/", srv.handleDevice)

	log.Printf("fake gateway listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *fakeGateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeGateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      atomic.LoadInt64(&s.totalCalls),
		"by_mac":     s.byMAC,
		"by_status":  s.byStatus,
	}
	writeJSON(w, payload)
}

func (s *fakeGateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var payload struct {
		MAC  string `json:"mac"`
		Name string `json:"name"`
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	mac := strings.ToLower(strings.TrimSpace(payload.MAC))
	if mac == "" {
		http.Error(w, "mac required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	device, ok := s.devices[mac]
	if !ok {
		id := fmt.Sprintf("gw-%d", atomic.AddInt64(&s.deviceSeq, 1))
		device = &gatewayDevice{
			ID:    id,
			MAC:   mac,
			Name:  payload.Name,
			Kind:  payload.Kind,
			Attrs: make(map[string]string),
		}
		s.devices[mac] = device
	}
	s.mu.Unlock()
	writeJSON(w, map[string]any{"id": device.ID, "mac": device.MAC, "name": device.Name})
}

func (s *fakeGateway) handleDevice(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	parts := strings.SplitN(rest, "/", 2)
	mac := strings.ToLower(parts[0])
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	if mac == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.mu.Lock()
		device, ok := s.devices[mac]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]any{"id": device.ID, "mac": device.MAC, "name": device.Name})
	case sub == "cmd" && r.Method == http.MethodPost:
		s.handleQueueCommand(w, r, mac)
	case sub == "wake" && r.Method == http.MethodPost:
		s.recordCall(mac, "wake")
		w.WriteHeader(http.StatusOK)
	case sub == "attributes" && r.Method == http.MethodPost:
		var attrs map[string]any
		if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		device, ok := s.devices[mac]
		if ok {
			for key, value := range attrs {
				device.Attrs[key] = fmt.Sprint(value)
			}
		}
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeGateway) handleQueueCommand(w http.ResponseWriter, r *http.Request, mac string) {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)

	s.mu.Lock()
	device, ok := s.devices[mac]
	if ok {
		device.Mailbox = append(device.Mailbox, payload)
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	status := s.pickStatus()
	if method, ok := payload["method"].(string); ok && s.defaultStatus == "" {
		// set_wake_interval is only applied on the device's next wake.
		if method == "set_wake_interval" {
			status = "queued"
		}
	}
	s.recordCall(mac, status)

	resp := map[string]any{"status": status}
	if status == "failed" {
		resp["error"] = "fake gateway failed"
	}
	writeJSON(w, resp)
}

func (s *fakeGateway) pickStatus() string {
	if s.defaultStatus != "" {
		return s.defaultStatus
	}
	if s.failRate > 0 && rand.Float64() < s.failRate {
		return "failed"
	}
	if s.queuedRate > 0 && rand.Float64() < s.queuedRate {
		return "queued"
	}
	return "acked"
}

func (s *fakeGateway) recordCall(mac, status string) {
	atomic.AddInt64(&s.totalCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if mac != "" {
		s.byMAC[mac]++
	}
	if status != "" {
		s.byStatus[status]++
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
