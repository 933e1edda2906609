// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Engine     EngineConfig     `yaml:"engine"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Reporter   ReporterConfig   `yaml:"reporter"`
	Payout     PayoutConfig     `yaml:"payout"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	APIKey       string        `yaml:"api_key"` // plaintext admin key, hashed at startup
}

// DatabaseConfig configures the stream store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	DSN    string `yaml:"dsn"`    // sqlite file path
}

// EngineConfig configures the settlement engine.
type EngineConfig struct {
	MinFactorBps   int64 `yaml:"min_factor_bps"`
	MaxFactorBps   int64 `yaml:"max_factor_bps"`
	ResourceBudget int64 `yaml:"resource_budget"`
	MaxProbes      int   `yaml:"max_probes"`
}

// SchedulerConfig configures the in-process scheduler capability.
type SchedulerConfig struct {
	Granularity time.Duration `yaml:"granularity"`
	SlotBudget  int64         `yaml:"slot_budget"`
	TickEvery   time.Duration `yaml:"tick_every"` // delivery driver cadence
}

// PricingConfig configures the time-of-use bands and congestion ladder.
type PricingConfig struct {
	StandardStartHour int   `yaml:"standard_start_hour"`
	PeakStartHour     int   `yaml:"peak_start_hour"`
	PeakEndHour       int   `yaml:"peak_end_hour"`
	OffPeakRate       int64 `yaml:"off_peak_rate"`
	StandardRate      int64 `yaml:"standard_rate"`
	PeakRate          int64 `yaml:"peak_rate"`

	Congestion []CongestionStep `yaml:"congestion"`
}

// CongestionStep maps a load floor to a multiplier in basis points.
type CongestionStep struct {
	MinLoadPct int   `yaml:"min_load_pct"`
	FactorBps  int64 `yaml:"factor_bps"`
}

// ReporterConfig configures the built-in reporting service.
type ReporterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MinDelta      int64         `yaml:"min_delta"`
	MaxDelta      int64         `yaml:"max_delta"`
	KeyFile       string        `yaml:"key_file"` // ed25519 private key, hex
}

// PayoutConfig configures the payout boundary.
type PayoutConfig struct {
	Mode string `yaml:"mode"` // "ledger", "log", or "none"
}

// WebhookConfig configures event delivery to an external observer.
type WebhookConfig struct {
	URL     string        `yaml:"url"` // empty disables delivery
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file, applies environment overrides,
// fills defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns the default configuration with no file involved.
func Default() *Config {
	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg
}

// applyEnvOverrides applies METERPAY_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("METERPAY_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("METERPAY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("METERPAY_SERVER_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("METERPAY_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("METERPAY_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("METERPAY_REPORTER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reporter.Interval = d
		}
	}
	if v := os.Getenv("METERPAY_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("METERPAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METERPAY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// setDefaults fills in zero-valued fields.
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = "meterpay.db"
	}
	if cfg.Engine.MinFactorBps == 0 {
		cfg.Engine.MinFactorBps = 5_000
	}
	if cfg.Engine.MaxFactorBps == 0 {
		cfg.Engine.MaxFactorBps = 50_000
	}
	if cfg.Engine.ResourceBudget == 0 {
		cfg.Engine.ResourceBudget = 1
	}
	if cfg.Engine.MaxProbes == 0 {
		cfg.Engine.MaxProbes = 8
	}
	if cfg.Scheduler.Granularity == 0 {
		cfg.Scheduler.Granularity = time.Minute
	}
	if cfg.Scheduler.SlotBudget == 0 {
		cfg.Scheduler.SlotBudget = 100
	}
	if cfg.Scheduler.TickEvery == 0 {
		cfg.Scheduler.TickEvery = time.Second
	}
	if cfg.Pricing.PeakEndHour == 0 {
		cfg.Pricing.StandardStartHour = 7
		cfg.Pricing.PeakStartHour = 17
		cfg.Pricing.PeakEndHour = 21
	}
	if cfg.Pricing.OffPeakRate == 0 {
		cfg.Pricing.OffPeakRate = 60
	}
	if cfg.Pricing.StandardRate == 0 {
		cfg.Pricing.StandardRate = 100
	}
	if cfg.Pricing.PeakRate == 0 {
		cfg.Pricing.PeakRate = 180
	}
	if cfg.Reporter.Interval == 0 {
		cfg.Reporter.Interval = 5 * time.Minute
	}
	if cfg.Reporter.RetryAttempts == 0 {
		cfg.Reporter.RetryAttempts = 3
	}
	if cfg.Reporter.RetryDelay == 0 {
		cfg.Reporter.RetryDelay = 30 * time.Second
	}
	if cfg.Reporter.MinDelta == 0 {
		cfg.Reporter.MinDelta = 1
	}
	if cfg.Reporter.MaxDelta == 0 {
		cfg.Reporter.MaxDelta = 10
	}
	if cfg.Payout.Mode == "" {
		cfg.Payout.Mode = "ledger"
	}
	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook.Timeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// validate checks configuration consistency.
func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	switch cfg.Payout.Mode {
	case "ledger", "log", "none":
	default:
		return fmt.Errorf("unknown payout mode %q", cfg.Payout.Mode)
	}
	if cfg.Engine.MinFactorBps <= 0 || cfg.Engine.MaxFactorBps < cfg.Engine.MinFactorBps {
		return fmt.Errorf("invalid congestion factor bounds [%d, %d]", cfg.Engine.MinFactorBps, cfg.Engine.MaxFactorBps)
	}
	if h := cfg.Pricing; !(0 <= h.StandardStartHour && h.StandardStartHour <= h.PeakStartHour && h.PeakStartHour <= h.PeakEndHour && h.PeakEndHour <= 24) {
		return fmt.Errorf("pricing band hours must satisfy 0 <= standard <= peak_start <= peak_end <= 24")
	}
	for _, step := range cfg.Pricing.Congestion {
		if step.MinLoadPct < 0 || step.MinLoadPct > 100 {
			return fmt.Errorf("congestion step load %d outside [0, 100]", step.MinLoadPct)
		}
		if step.FactorBps <= 0 {
			return fmt.Errorf("congestion step factor must be positive")
		}
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return nil
}
