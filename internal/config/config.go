// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simpleton-llm/gateway/internal/cache"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Cache      cache.Config     `yaml:"cache"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RuntimeConfig contains settings for the local LLM runtime the gateway
// fronts (an Ollama-compatible HTTP API).
type RuntimeConfig struct {
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	// CompletionModel serves inline code completion; FIM-tuned coder models
	// behave very differently from chat models here.
	CompletionModel string        `yaml:"completion_model"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
}

// MonitoringConfig bounds the in-process metrics history and sets the alert
// thresholds evaluated over the rolling window.
type MonitoringConfig struct {
	RetentionHours   int `yaml:"retention_hours"`
	MaxRequestEvents int `yaml:"max_request_events"`
	MaxErrorEvents   int `yaml:"max_error_events"`

	// AlertErrorRate is a fraction in [0,1]; AlertLatency is the
	// average-latency ceiling in seconds.
	AlertErrorRate float64 `yaml:"alert_error_rate"`
	AlertLatency   float64 `yaml:"alert_latency_seconds"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 300 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Runtime: RuntimeConfig{
			BaseURL:         "http://localhost:11434",
			DefaultModel:    "llama3.2",
			CompletionModel: "qwen2.5-coder:7b",
			Timeout:         120 * time.Second,
			MaxRetries:      2,
		},
		Cache: cache.DefaultConfig(),
		Monitoring: MonitoringConfig{
			RetentionHours:   168,
			MaxRequestEvents: 10000,
			MaxErrorEvents:   1000,
			AlertErrorRate:   0.1,
			AlertLatency:     5.0,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	if c.Runtime.BaseURL == "" {
		return fmt.Errorf("runtime base_url must not be empty")
	}
	if c.Runtime.Timeout <= 0 {
		return fmt.Errorf("runtime timeout must be positive, got %s", c.Runtime.Timeout)
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "", "redis", "memory":
		default:
			return fmt.Errorf("unknown cache backend: %q", c.Cache.Backend)
		}
	}

	if c.Monitoring.RetentionHours <= 0 {
		return fmt.Errorf("monitoring retention_hours must be positive, got %d", c.Monitoring.RetentionHours)
	}
	if c.Monitoring.AlertErrorRate < 0 || c.Monitoring.AlertErrorRate > 1 {
		return fmt.Errorf("monitoring alert_error_rate must be in [0,1], got %f", c.Monitoring.AlertErrorRate)
	}
	if c.Monitoring.AlertLatency < 0 {
		return fmt.Errorf("monitoring alert_latency_seconds must not be negative, got %f", c.Monitoring.AlertLatency)
	}

	return nil
}
