package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	// Create temp config file
	content := `
feed:
  provider: flat
  url: "https://example.com/quakes.json"
  poll_interval: 2m
  time_unit: seconds
  treat_absence_as_removal: true

alerts:
  distance_threshold_km: 250
  sound_enabled: false

location:
  mode: custom
  latitude: 35.68
  longitude: 139.69

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  driver: sqlite
  path: "./data/test.db"

server:
  cors_allow_origins:
    - "http://localhost:3000"
    - "https://quakes.example.com"

logging:
  level: "debug"
  format: "text"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	// Test Load
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify values
	if cfg.Feed.Provider != "flat" {
		t.Errorf("Unexpected provider: %s", cfg.Feed.Provider)
	}
	if cfg.Feed.PollInterval != 2*time.Minute {
		t.Errorf("Unexpected poll interval: %v", cfg.Feed.PollInterval)
	}
	if !cfg.Feed.TreatAbsenceAsRemoval {
		t.Error("Expected treat_absence_as_removal to be true")
	}
	if cfg.Alerts.DistanceThresholdKm != 250 {
		t.Errorf("Unexpected threshold: %f", cfg.Alerts.DistanceThresholdKm)
	}
	if cfg.Alerts.SoundEnabled {
		t.Error("Expected sound to be disabled")
	}
	if !cfg.Alerts.Enabled {
		t.Error("Expected alerts.enabled default to be kept")
	}
	if cfg.Location.Latitude != 35.68 || cfg.Location.Longitude != 139.69 {
		t.Errorf("Unexpected location: %f, %f", cfg.Location.Latitude, cfg.Location.Longitude)
	}
	if len(cfg.Server.CORSAllowOrigins) != 2 {
		t.Errorf("Expected 2 CORS origins, got %d", len(cfg.Server.CORSAllowOrigins))
	}

	// Test Validate
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.Provider != "usgs" {
		t.Errorf("Unexpected provider: %s", cfg.Feed.Provider)
	}
	if cfg.Feed.PollInterval != time.Minute {
		t.Errorf("Unexpected poll interval: %v", cfg.Feed.PollInterval)
	}
	if cfg.History.Retention != 30*24*time.Hour {
		t.Errorf("Unexpected retention: %v", cfg.History.Retention)
	}
	if cfg.Alerts.DisplayDuration != 10*time.Second {
		t.Errorf("Unexpected display duration: %v", cfg.Alerts.DisplayDuration)
	}
	if cfg.Alerts.DeliveryTimeout != 30*time.Second {
		t.Errorf("Unexpected delivery timeout: %v", cfg.Alerts.DeliveryTimeout)
	}
	if cfg.Location.Timeout != 27*time.Second {
		t.Errorf("Unexpected location timeout: %v", cfg.Location.Timeout)
	}
	if cfg.Storage.FilePermissions != 0o644 || cfg.Storage.DirPermissions != 0o755 {
		t.Errorf("Unexpected permissions: %o, %o", cfg.Storage.FilePermissions, cfg.Storage.DirPermissions)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("QUAKEWATCH_FEED_POLL_INTERVAL", "90s")
	t.Setenv("QUAKEWATCH_TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("QUAKEWATCH_STORAGE_DRIVER", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Feed.PollInterval != 90*time.Second {
		t.Errorf("Unexpected poll interval: %v", cfg.Feed.PollInterval)
	}
	if cfg.Telegram.BotToken != "from-env" {
		t.Errorf("Unexpected bot token: %q", cfg.Telegram.BotToken)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Unexpected storage driver: %s", cfg.Storage.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown provider", func(c *Config) { c.Feed.Provider = "emsc" }, true},
		{"poll interval too short", func(c *Config) { c.Feed.PollInterval = 5 * time.Second }, true},
		{"zero retries", func(c *Config) { c.Feed.MaxRetries = 0 }, true},
		{"bad time unit", func(c *Config) { c.Feed.TimeUnit = "minutes" }, true},
		{"zero threshold", func(c *Config) { c.Alerts.DistanceThresholdKm = 0 }, true},
		{"zero delivery timeout", func(c *Config) { c.Alerts.DeliveryTimeout = 0 }, true},
		{"short retention", func(c *Config) { c.History.Retention = time.Minute }, true},
		{"custom location out of range", func(c *Config) {
			c.Location.Mode = "custom"
			c.Location.Latitude = 91
		}, true},
		{"current location without database", func(c *Config) { c.Location.Mode = "current" }, true},
		{"current location with database", func(c *Config) {
			c.Location.Mode = "current"
			c.Location.MaxMindDB = "/var/lib/GeoLite2-City.mmdb"
			c.Location.IP = "203.0.113.7"
		}, false},
		{"unknown location mode", func(c *Config) { c.Location.Mode = "gps" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, true},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "redis" }, true},
		{"missing telegram token when enabled", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.ChatID = "1"
		}, true},
		{"nats without stream", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.Stream = ""
		}, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
