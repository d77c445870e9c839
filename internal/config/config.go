package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Feed     FeedConfig     `mapstructure:"feed"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	History  HistoryConfig  `mapstructure:"history"`
	Location LocationConfig `mapstructure:"location"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// FeedConfig holds seismic feed configuration
type FeedConfig struct {
	Provider              string        `mapstructure:"provider"` // usgs or flat
	URL                   string        `mapstructure:"url"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	Timeout               time.Duration `mapstructure:"timeout"`
	MaxRetries            int           `mapstructure:"max_retries"`
	RetryDelayBase        time.Duration `mapstructure:"retry_delay_base"`
	RequestsPerMinute     int           `mapstructure:"requests_per_minute"`
	UserAgent             string        `mapstructure:"user_agent"`
	TimeUnit              string        `mapstructure:"time_unit"` // seconds or milliseconds (flat provider)
	TreatAbsenceAsRemoval bool          `mapstructure:"treat_absence_as_removal"`
}

// AlertsConfig holds alert defaults used until the user changes them
type AlertsConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	SoundEnabled        bool          `mapstructure:"sound_enabled"`
	DistanceThresholdKm float64       `mapstructure:"distance_threshold_km"`
	AutoPan             bool          `mapstructure:"auto_pan"`
	DisplayDuration     time.Duration `mapstructure:"display_duration"`
	DeliveryTimeout     time.Duration `mapstructure:"delivery_timeout"`
}

// HistoryConfig holds change history retention
type HistoryConfig struct {
	Retention        time.Duration `mapstructure:"retention"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

// LocationConfig holds the reference location source
type LocationConfig struct {
	Mode            string        `mapstructure:"mode"` // off, custom, current
	Latitude        float64       `mapstructure:"latitude"`
	Longitude       float64       `mapstructure:"longitude"`
	MaxMindDB       string        `mapstructure:"maxmind_db"`
	IP              string        `mapstructure:"ip"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	Driver          string      `mapstructure:"driver"` // file, sqlite, postgres, memory
	Path            string      `mapstructure:"path"`
	DSN             string      `mapstructure:"dsn"`
	FilePermissions os.FileMode `mapstructure:"file_permissions"`
	DirPermissions  os.FileMode `mapstructure:"dir_permissions"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Addr              string        `mapstructure:"addr"`
	CORSAllowOrigins  []string      `mapstructure:"cors_allow_origins"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// NATSConfig holds the JetStream notification sink configuration
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("QUAKEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Feed defaults
	v.SetDefault("feed.provider", "usgs")
	v.SetDefault("feed.url", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson")
	v.SetDefault("feed.poll_interval", "60s")
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_delay_base", "1s")
	v.SetDefault("feed.requests_per_minute", 30)
	v.SetDefault("feed.user_agent", "quakewatch/1.0")
	v.SetDefault("feed.time_unit", "milliseconds")
	v.SetDefault("feed.treat_absence_as_removal", false)

	// Alert defaults
	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.sound_enabled", true)
	v.SetDefault("alerts.distance_threshold_km", 1000)
	v.SetDefault("alerts.auto_pan", true)
	v.SetDefault("alerts.display_duration", "10s")
	v.SetDefault("alerts.delivery_timeout", "30s")

	// History defaults
	v.SetDefault("history.retention", "720h")
	v.SetDefault("history.eviction_interval", "1h")

	// Location defaults
	v.SetDefault("location.mode", "off")
	v.SetDefault("location.latitude", 0.0)
	v.SetDefault("location.longitude", 0.0)
	v.SetDefault("location.maxmind_db", "")
	v.SetDefault("location.ip", "")
	v.SetDefault("location.refresh_interval", "5m")
	v.SetDefault("location.timeout", "27s")

	// Storage defaults
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", "./data/quakewatch.json")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.file_permissions", 0o644)
	v.SetDefault("storage.dir_permissions", 0o755)

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit_enabled", true)
	v.SetDefault("server.rate_limit_requests", 120)
	v.SetDefault("server.rate_limit_window", "60s")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "QUAKEWATCH")
	v.SetDefault("nats.subject_prefix", "quakewatch.alerts")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Feed config
	validProviders := map[string]bool{"usgs": true, "flat": true}
	if !validProviders[c.Feed.Provider] {
		return fmt.Errorf("feed.provider must be one of: usgs, flat")
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.PollInterval < 10*time.Second {
		return fmt.Errorf("feed.poll_interval must be at least 10 seconds")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if c.Feed.MaxRetries < 1 {
		return fmt.Errorf("feed.max_retries must be at least 1")
	}
	if c.Feed.RequestsPerMinute < 1 {
		return fmt.Errorf("feed.requests_per_minute must be at least 1")
	}
	if c.Feed.TimeUnit != "seconds" && c.Feed.TimeUnit != "milliseconds" {
		return fmt.Errorf("feed.time_unit must be one of: seconds, milliseconds")
	}

	// Validate Alerts config
	if c.Alerts.DistanceThresholdKm <= 0 {
		return fmt.Errorf("alerts.distance_threshold_km must be positive")
	}
	if c.Alerts.DisplayDuration <= 0 {
		return fmt.Errorf("alerts.display_duration must be positive")
	}
	if c.Alerts.DeliveryTimeout <= 0 {
		return fmt.Errorf("alerts.delivery_timeout must be positive")
	}

	// Validate History config
	if c.History.Retention < time.Hour {
		return fmt.Errorf("history.retention must be at least 1 hour")
	}
	if c.History.EvictionInterval < time.Minute {
		return fmt.Errorf("history.eviction_interval must be at least 1 minute")
	}

	// Validate Location config
	switch c.Location.Mode {
	case "off":
	case "custom":
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
			return fmt.Errorf("location.latitude must be between -90 and 90")
		}
		if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			return fmt.Errorf("location.longitude must be between -180 and 180")
		}
	case "current":
		if c.Location.MaxMindDB == "" {
			return fmt.Errorf("location.maxmind_db is required when location.mode is current")
		}
		if c.Location.IP == "" {
			return fmt.Errorf("location.ip is required when location.mode is current")
		}
	default:
		return fmt.Errorf("location.mode must be one of: off, custom, current")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for driver %s", c.Storage.Driver)
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be one of: file, sqlite, postgres, memory")
	}

	// Validate Server config
	if c.Server.Enabled {
		if c.Server.Addr == "" {
			return fmt.Errorf("server.addr is required when server is enabled")
		}
		if c.Server.RateLimitEnabled && c.Server.RateLimitRequests < 1 {
			return fmt.Errorf("server.rate_limit_requests must be at least 1")
		}
		if c.Server.RateLimitEnabled && c.Server.RateLimitWindow <= 0 {
			return fmt.Errorf("server.rate_limit_window must be positive")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate NATS config
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if c.NATS.Stream == "" || c.NATS.SubjectPrefix == "" {
			return fmt.Errorf("nats.stream and nats.subject_prefix are required when nats is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
