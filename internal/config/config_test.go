package config

import (
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if len(cfg.Templates.Directories) != 1 {
		t.Errorf("Templates.Directories = %v, want 1 entry", cfg.Templates.Directories)
	}

	svc, ok := cfg.Services[ServiceJobCard]
	if !ok {
		t.Fatal("Services[job_card] not found")
	}
	if svc.BaseURL != "https://shop-api.internal" {
		t.Errorf("job_card.BaseURL = %q", svc.BaseURL)
	}
	if svc.Timeout != 10*time.Second {
		t.Errorf("job_card.Timeout = %v, want 10s", svc.Timeout)
	}
	if svc.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("job_card.CircuitBreaker.FailureThreshold = %d, want 5", svc.CircuitBreaker.FailureThreshold)
	}
	if !svc.Retry.IdempotentOnly {
		t.Error("job_card.Retry.IdempotentOnly = false, want true")
	}

	if cfg.Outbox.Interval != 2*time.Second {
		t.Errorf("Outbox.Interval = %v, want 2s", cfg.Outbox.Interval)
	}
	if cfg.Outbox.MaxAttempts != 5 {
		t.Errorf("Outbox.MaxAttempts = %d, want 5", cfg.Outbox.MaxAttempts)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_services(t *testing.T) {
	_, err := Load("testdata/missing_services.yaml")
	if err == nil {
		t.Fatal("Load() without backend services should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("default Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Outbox.MaxAttempts != 8 {
		t.Errorf("default Outbox.MaxAttempts = %d, want 8", cfg.Outbox.MaxAttempts)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHOPCORE_SERVER_PORT", "3000")
	t.Setenv("SHOPCORE_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("SHOPCORE_TIME_CLOCK_BASE_URL", "https://env-timeclock.internal")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if cfg.Services[ServiceTimeClock].BaseURL != "https://env-timeclock.internal" {
		t.Errorf("time_clock.BaseURL = %q, want env override", cfg.Services[ServiceTimeClock].BaseURL)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Services = map[string]ServiceConfig{
		ServiceJobCard:   {BaseURL: "https://a"},
		ServiceEOD:       {BaseURL: "https://b"},
		ServiceTimeClock: {BaseURL: "https://c"},
	}
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_postgres_requires_dsn_env(t *testing.T) {
	cfg := Defaults()
	cfg.Services = map[string]ServiceConfig{
		ServiceJobCard:   {BaseURL: "https://a"},
		ServiceEOD:       {BaseURL: "https://b"},
		ServiceTimeClock: {BaseURL: "https://c"},
	}
	cfg.Store.Driver = "postgres"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with postgres driver and no dsn_env should return error")
	}
}
