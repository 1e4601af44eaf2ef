package application

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	analytics "moldwatch-cloud/internal/analytics/domain"
)

// Config defines alert thresholds and notification settings.
type Config struct {
	Defaults      analytics.DeltaThresholds            `yaml:"defaults"`
	Sites         map[string]analytics.DeltaThresholds `yaml:"sites"`
	WebhookURL    string                               `yaml:"webhook_url"`
	PublicBaseURL string                               `yaml:"public_base_url"`
	Escalation    time.Duration                        `yaml:"-"`
	Cooldown      time.Duration                        `yaml:"-"`
	DedupeWindow  time.Duration                        `yaml:"-"`
}

// LoadConfig loads alert config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Defaults:      analytics.DefaultDeltaThresholds(),
		WebhookURL:    os.Getenv("ALERTS_WEBHOOK_URL"),
		PublicBaseURL: getenvDefault("ALERTS_PUBLIC_BASE_URL", "http://localhost:8080"),
		Escalation:    getenvDurationDefault("ALERTS_ESCALATION", 0),
		Cooldown:      getenvDurationDefault("ALERTS_COOLDOWN", 10*time.Minute),
		DedupeWindow:  getenvDurationDefault("ALERTS_DEDUPE_WINDOW", 30*time.Minute),
	}

	if path := os.Getenv("ALERTS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("ALERTS_WEBHOOK_URL")
	}
	if err := cfg.Defaults.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ThresholdsForSite returns thresholds for a site.
func (c Config) ThresholdsForSite(siteID string) analytics.DeltaThresholds {
	if c.Sites != nil {
		if override, ok := c.Sites[siteID]; ok {
			return mergeThresholds(c.Defaults, override)
		}
	}
	return c.Defaults
}

func mergeThresholds(base, override analytics.DeltaThresholds) analytics.DeltaThresholds {
	if override.Temperature != 0 {
		base.Temperature = override.Temperature
	}
	if override.TemperatureWarn != 0 {
		base.TemperatureWarn = override.TemperatureWarn
	}
	if override.Humidity != 0 {
		base.Humidity = override.Humidity
	}
	if override.HumidityWarn != 0 {
		base.HumidityWarn = override.HumidityWarn
	}
	if override.Score != 0 {
		base.Score = override.Score
	}
	if override.ScoreWarn != 0 {
		base.ScoreWarn = override.ScoreWarn
	}
	if override.BatteryDrop != 0 {
		base.BatteryDrop = override.BatteryDrop
	}
	if override.BatteryDropWarn != 0 {
		base.BatteryDropWarn = override.BatteryDropWarn
	}
	return base
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
