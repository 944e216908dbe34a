// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Store      StoreConfig      `mapstructure:"store"`
	Results    ResultsConfig    `mapstructure:"results"`
	DB         DBConfig         `mapstructure:"db"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PoolConfig governs worker pool sizing and dispatch.
type PoolConfig struct {
	MaxWorkers            int `mapstructure:"max_workers"`
	MaxUnitsPerSlot       int `mapstructure:"max_units_per_slot"`
	DispatchDelayMs       int `mapstructure:"dispatch_delay_ms"`
	ResizeIntervalSeconds int `mapstructure:"resize_interval_seconds"`
}

// MonitorConfig tunes resource sampling and the circuit breaker.
type MonitorConfig struct {
	CPUThreshold          float64 `mapstructure:"cpu_threshold"`
	MemThreshold          float64 `mapstructure:"mem_threshold"`
	SampleIntervalSeconds int     `mapstructure:"sample_interval_seconds"`
	LookbackSeconds       int     `mapstructure:"lookback_seconds"`
	TripWindowSeconds     int     `mapstructure:"trip_window_seconds"`
	RecoveryWindowSeconds int     `mapstructure:"recovery_window_seconds"`
}

// ExecutorConfig controls per-unit execution and retry behavior.
type ExecutorConfig struct {
	MaxAttempts        int `mapstructure:"max_attempts"`
	UnitTimeoutSeconds int `mapstructure:"unit_timeout_seconds"`
	BackoffInitialMs   int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int `mapstructure:"backoff_max_ms"`
}

// StoreConfig bounds retention of terminal task snapshots.
type StoreConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// ResultsConfig selects the persistence collaborator implementation.
type ResultsConfig struct {
	Provider string `mapstructure:"provider"`
	Table    string `mapstructure:"table"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ExtractionConfig points at the external extraction service.
type ExtractionConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PublisherConfig selects the notification publisher implementation.
type PublisherConfig struct {
	Provider string `mapstructure:"provider"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pool.max_workers", 4)
	v.SetDefault("pool.max_units_per_slot", 50)
	v.SetDefault("pool.dispatch_delay_ms", 100)
	v.SetDefault("pool.resize_interval_seconds", 5)
	v.SetDefault("monitor.cpu_threshold", 70.0)
	v.SetDefault("monitor.mem_threshold", 80.0)
	v.SetDefault("monitor.sample_interval_seconds", 2)
	v.SetDefault("monitor.lookback_seconds", 60)
	v.SetDefault("monitor.trip_window_seconds", 60)
	v.SetDefault("monitor.recovery_window_seconds", 15)
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.unit_timeout_seconds", 30)
	v.SetDefault("executor.backoff_initial_ms", 250)
	v.SetDefault("executor.backoff_max_ms", 5000)
	v.SetDefault("store.ttl_seconds", 3600)
	v.SetDefault("results.provider", "memory")
	v.SetDefault("results.table", "policy_results")
	v.SetDefault("extraction.timeout_seconds", 30)
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pool.MaxWorkers <= 0 {
		return fmt.Errorf("pool.max_workers must be > 0")
	}
	if c.Pool.MaxUnitsPerSlot <= 0 {
		return fmt.Errorf("pool.max_units_per_slot must be > 0")
	}
	if c.Monitor.CPUThreshold <= 0 || c.Monitor.CPUThreshold >= 100 {
		return fmt.Errorf("monitor.cpu_threshold must be in (0, 100)")
	}
	if c.Monitor.MemThreshold <= 0 || c.Monitor.MemThreshold >= 100 {
		return fmt.Errorf("monitor.mem_threshold must be in (0, 100)")
	}
	if c.Monitor.SampleIntervalSeconds <= 0 {
		return fmt.Errorf("monitor.sample_interval_seconds must be > 0")
	}
	if c.Monitor.RecoveryWindowSeconds > c.Monitor.TripWindowSeconds {
		return fmt.Errorf("monitor.recovery_window_seconds must not exceed monitor.trip_window_seconds")
	}
	if c.Executor.MaxAttempts <= 0 {
		return fmt.Errorf("executor.max_attempts must be > 0")
	}
	if c.Executor.UnitTimeoutSeconds <= 0 {
		return fmt.Errorf("executor.unit_timeout_seconds must be > 0")
	}
	if c.Results.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when results.provider is postgres")
	}
	if c.Publisher.Provider == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when publisher.provider is pubsub")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// UnitTimeout converts the executor timeout to a duration.
func (c Config) UnitTimeout() time.Duration {
	return time.Duration(c.Executor.UnitTimeoutSeconds) * time.Second
}

// DispatchDelay converts the pool dispatch delay to a duration.
func (c Config) DispatchDelay() time.Duration {
	return time.Duration(c.Pool.DispatchDelayMs) * time.Millisecond
}
