package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/model"
)

// newTestLogger creates a logger that writes JSON to a buffer for assertion.
func newTestLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel)
	return zap.New(core)
}

func TestNewLogger_defaultLevel(t *testing.T) {
	cfg := config.ObservabilityConfig{LogLevel: "info"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info level should be enabled")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should NOT be enabled at info level")
	}
}

func TestNewLogger_debugLevel(t *testing.T) {
	cfg := config.ObservabilityConfig{LogLevel: "debug"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level should be enabled")
	}
}

func TestNewLogger_invalidLevel_defaultsToInfo(t *testing.T) {
	cfg := config.ObservabilityConfig{LogLevel: "bogus"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer logger.Sync()

	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("should default to info level")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should NOT be enabled with invalid level (defaults to info)")
	}
}

func TestWithLogger_and_LoggerFrom(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	got := LoggerFrom(ctx, nil)
	if got != logger {
		t.Error("LoggerFrom should return the stored logger")
	}
}

func TestLoggerFrom_fallback(t *testing.T) {
	fallback := zap.NewNop()
	got := LoggerFrom(context.Background(), fallback)
	if got != fallback {
		t.Error("LoggerFrom should return fallback when no logger in context")
	}
}

func TestRequestLogger_enrichesWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	rctx := &model.RequestContext{
		StaffID:       "staff-42",
		Role:          "manager",
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
	}
	ctx := model.WithRequestContext(context.Background(), rctx)
	ctx = WithLogger(ctx, logger)

	rl := RequestLogger(ctx, logger)
	rl.Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}

	checks := map[string]string{
		"staff_id":       "staff-42",
		"role":           "manager",
		"correlation_id": "corr-abc",
		"trace_id":       "trace-xyz",
	}
	for field, want := range checks {
		if got, _ := entry[field].(string); got != want {
			t.Errorf("field %s = %q, want %q", field, got, want)
		}
	}
}

func TestRequestLogger_noRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	rl := RequestLogger(context.Background(), logger)
	rl.Info("bare message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	if _, ok := entry["staff_id"]; ok {
		t.Error("staff_id should not be present without a request context")
	}
}
