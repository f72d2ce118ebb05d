// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Templates     TemplatesConfig          `yaml:"templates"`
	Services      map[string]ServiceConfig `yaml:"services"`
	Store         StoreConfig              `yaml:"store"`
	Outbox        OutboxConfig             `yaml:"outbox"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TemplatesConfig describes where SOP checklist template YAML files live.
type TemplatesConfig struct {
	Directories []string `yaml:"directories"`
}

// ServiceConfig describes a backend service.
type ServiceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings per service.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings per service.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// StoreConfig describes checklist and job-card persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // "memory" or "postgres"
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// OutboxConfig describes the background sync worker.
type OutboxConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Known backend service IDs. Every deployment must configure all three.
const (
	ServiceJobCard   = "job_card"
	ServiceEOD       = "eod"
	ServiceTimeClock = "time_clock"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Templates: TemplatesConfig{
			Directories: []string{"/templates"},
		},
		Store: StoreConfig{
			Driver:          "memory",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Outbox: OutboxConfig{
			Interval:       5 * time.Second,
			MaxAttempts:    8,
			BackoffInitial: 500 * time.Millisecond,
			BackoffMax:     2 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Store.Driver != "memory" && c.Store.Driver != "postgres" {
		errs = append(errs, "store.driver must be memory or postgres")
	}
	if c.Store.Driver == "postgres" && c.Store.DSNEnv == "" {
		errs = append(errs, "store.dsn_env is required for the postgres driver")
	}
	for _, id := range []string{ServiceJobCard, ServiceEOD, ServiceTimeClock} {
		svc, ok := c.Services[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("services.%s is required", id))
			continue
		}
		if svc.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("services.%s.base_url is required", id))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads SHOPCORE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHOPCORE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SHOPCORE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("SHOPCORE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if cfg.Services == nil {
		return
	}
	for id, envKey := range map[string]string{
		ServiceJobCard:   "SHOPCORE_JOB_CARD_BASE_URL",
		ServiceEOD:       "SHOPCORE_EOD_BASE_URL",
		ServiceTimeClock: "SHOPCORE_TIME_CLOCK_BASE_URL",
	} {
		if v := os.Getenv(envKey); v != "" {
			svc := cfg.Services[id]
			svc.BaseURL = v
			cfg.Services[id] = svc
		}
	}
}
