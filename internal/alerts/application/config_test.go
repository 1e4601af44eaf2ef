package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	analytics "moldwatch-cloud/internal/analytics/domain"
)

func TestThresholdsForSiteMergesOverrides(t *testing.T) {
	cfg := Config{
		Defaults: analytics.DefaultDeltaThresholds(),
		Sites: map[string]analytics.DeltaThresholds{
			"site-damp": {Humidity: 5},
		},
	}

	merged := cfg.ThresholdsForSite("site-damp")
	if merged.Humidity != 5 {
		t.Fatalf("expected overridden humidity 5, got %v", merged.Humidity)
	}
	if merged.Temperature != cfg.Defaults.Temperature {
		t.Fatalf("unset override must keep default temperature, got %v", merged.Temperature)
	}
	if merged.HumidityWarn != cfg.Defaults.HumidityWarn {
		t.Fatalf("unset warn tier must keep default, got %v", merged.HumidityWarn)
	}

	other := cfg.ThresholdsForSite("site-dry")
	if other != cfg.Defaults {
		t.Fatalf("site without override must get defaults, got %+v", other)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.yaml")
	content := `
defaults:
  temperature: 4
  temperature_warn: 8
webhook_url: https://hooks.example.com/mold
sites:
  site-001:
    humidity: 6
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ALERTS_CONFIG", path)
	t.Setenv("ALERTS_COOLDOWN", "90s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Defaults.Temperature != 4 {
		t.Fatalf("expected yaml temperature 4, got %v", cfg.Defaults.Temperature)
	}
	if cfg.WebhookURL != "https://hooks.example.com/mold" {
		t.Fatalf("webhook url mismatch: %s", cfg.WebhookURL)
	}
	if cfg.Cooldown != 90*time.Second {
		t.Fatalf("expected 90s cooldown from env, got %v", cfg.Cooldown)
	}
	if got := cfg.ThresholdsForSite("site-001").Humidity; got != 6 {
		t.Fatalf("expected site override humidity 6, got %v", got)
	}
}
