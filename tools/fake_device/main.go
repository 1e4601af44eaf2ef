package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"
)

// fake_device simulates a fleet of deep-sleep crawlspace sensors. Each
// round it posts a signed wake report batch, then drains every device's
// command mailbox. With FAKE_DEVICE_SLEEP=0 it doubles as a seeder for
// load testing the timeline queries.

type simConfig struct {
	baseURL     string
	secret      []byte
	tenantID    string
	siteID      string
	deviceCount int
	rounds      int
	startWake   int
	roundStep   time.Duration
	sleep       time.Duration
	dropoutRate float64
}

type simDevice struct {
	id          string
	x, y        float64
	temperature float64
	humidity    float64
	pressure    float64
	battery     float64
	mgi         float64
}

func main() {
	cfg := loadSimConfig()
	rand.Seed(time.Now().UnixNano())

	devices := make([]*simDevice, 0, cfg.deviceCount)
	for i := 0; i < cfg.deviceCount; i++ {
		devices = append(devices, &simDevice{
			id:          fmt.Sprintf("dev-%s-%03d", cfg.siteID, i+1),
			x:           rand.Float64() * 10,
			y:           rand.Float64() * 8,
			temperature: 18 + rand.Float64()*6,
			humidity:    55 + rand.Float64()*20,
			pressure:    1005 + rand.Float64()*20,
			battery:     100,
			mgi:         rand.Float64() * 0.3,
		})
	}

	client := &http.Client{Timeout: 10 * time.Second}
	roundStart := time.Now().UTC().Add(-time.Duration(cfg.rounds) * cfg.roundStep)

	for round := 0; round < cfg.rounds; round++ {
		wakeNumber := cfg.startWake + round
		observations := make([]map[string]any, 0, len(devices))
		for _, dev := range devices {
			dev.step(cfg.roundStep)
			if cfg.dropoutRate > 0 && rand.Float64() < cfg.dropoutRate {
				continue
			}
			observations = append(observations, dev.observation())
		}

		if len(observations) > 0 {
			if err := postWakeReport(client, cfg, wakeNumber, roundStart, observations); err != nil {
				log.Printf("wake %d: ingest failed: %v", wakeNumber, err)
			} else {
				log.Printf("wake %d: reported %d/%d devices", wakeNumber, len(observations), len(devices))
			}
		} else {
			log.Printf("wake %d: all devices dropped out", wakeNumber)
		}

		for _, dev := range devices {
			if err := drainMailbox(client, cfg, dev.id); err != nil {
				log.Printf("wake %d: mailbox %s: %v", wakeNumber, dev.id, err)
			}
		}

		roundStart = roundStart.Add(cfg.roundStep)
		if cfg.sleep > 0 {
			time.Sleep(cfg.sleep)
		}
	}
}

// step advances the device's random walk by one wake interval.
func (d *simDevice) step(elapsed time.Duration) {
	d.temperature += rand.NormFloat64() * 0.3
	d.humidity += rand.NormFloat64() * 1.5
	if d.humidity < 30 {
		d.humidity = 30
	}
	if d.humidity > 100 {
		d.humidity = 100
	}
	d.pressure += rand.NormFloat64() * 0.5
	d.battery -= 0.02 + rand.Float64()*0.03
	if d.battery < 0 {
		d.battery = 0
	}
	// Mold growth accelerates above 75% relative humidity.
	if d.humidity > 75 {
		d.mgi += 0.01 * elapsed.Hours()
	} else if d.mgi > 0 {
		d.mgi -= 0.002 * elapsed.Hours()
		if d.mgi < 0 {
			d.mgi = 0
		}
	}
}

func (d *simDevice) observation() map[string]any {
	velocity := 0.0
	if d.humidity > 75 {
		velocity = 0.01
	}
	return map[string]any{
		"device_id": d.id,
		"status":    "active",
		"position":  map[string]any{"x": round2(d.x), "y": round2(d.y)},
		"telemetry": map[string]any{
			"temperature": round2(d.temperature),
			"humidity":    round2(d.humidity),
			"pressure":    round2(d.pressure),
		},
		"battery_health_percent": round2(d.battery),
		"mgi_state": map[string]any{
			"current_mgi":  round2(d.mgi),
			"mgi_velocity": map[string]any{"per_hour": velocity},
		},
	}
}

func postWakeReport(client *http.Client, cfg simConfig, wakeNumber int, roundStart time.Time, observations []map[string]any) error {
	payload := map[string]any{
		"tenant_id":        cfg.tenantID,
		"site_id":          cfg.siteID,
		"wake_number":      wakeNumber,
		"wake_round_start": roundStart.Unix(),
		"devices":          observations,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, cfg.baseURL+"/ingest/device/wake", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	signRequest(req, cfg.secret, body)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest status %d", resp.StatusCode)
	}
	return nil
}

// drainMailbox polls until the mailbox is empty, acking each command the
// way a real device does before going back to sleep.
func drainMailbox(client *http.Client, cfg simConfig, deviceID string) error {
	for i := 0; i < 10; i++ {
		req, err := http.NewRequest(http.MethodGet, cfg.baseURL+"/device/commands?device_id="+deviceID, nil)
		if err != nil {
			return err
		}
		signRequest(req, cfg.secret, nil)
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNoContent {
			resp.Body.Close()
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("poll status %d", resp.StatusCode)
		}
		var cmd struct {
			CommandID   string `json:"command_id"`
			CommandType string `json:"command_type"`
		}
		err = json.NewDecoder(resp.Body).Decode(&cmd)
		resp.Body.Close()
		if err != nil {
			return err
		}
		log.Printf("device %s: executing %s (%s)", deviceID, cmd.CommandType, cmd.CommandID)
		if err := ackCommand(client, cfg, cmd.CommandID); err != nil {
			return err
		}
	}
	return nil
}

func ackCommand(client *http.Client, cfg simConfig, commandID string) error {
	body, err := json.Marshal(map[string]any{"command_id": commandID, "status": "acked"})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, cfg.baseURL+"/device/commands", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	signRequest(req, cfg.secret, body)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ack status %d", resp.StatusCode)
	}
	return nil
}

func signRequest(req *http.Request, secret, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	req.Header.Set("X-Ingest-Timestamp", timestamp)
	req.Header.Set("X-Ingest-Signature", hex.EncodeToString(mac.Sum(nil)))
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

func loadSimConfig() simConfig {
	return simConfig{
		baseURL:     getenvDefault("FAKE_DEVICE_BASE_URL", "http://localhost:8080"),
		secret:      []byte(getenvDefault("INGEST_HMAC_SECRET", "dev-secret")),
		tenantID:    getenvDefault("FAKE_DEVICE_TENANT_ID", "tenant-demo"),
		siteID:      getenvDefault("FAKE_DEVICE_SITE_ID", "site-demo-001"),
		deviceCount: getenvIntDefault("FAKE_DEVICE_COUNT", 4),
		rounds:      getenvIntDefault("FAKE_DEVICE_ROUNDS", 48),
		startWake:   getenvIntDefault("FAKE_DEVICE_START_WAKE", 1),
		roundStep:   getenvDurationDefault("FAKE_DEVICE_ROUND_STEP", 30*time.Minute),
		sleep:       getenvDurationDefault("FAKE_DEVICE_SLEEP", 0),
		dropoutRate: getenvFloatDefault("FAKE_DEVICE_DROPOUT_RATE", 0.1),
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

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
