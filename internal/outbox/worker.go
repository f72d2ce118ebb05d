package outbox

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/internal/remote"
	"github.com/glossworks/shopcore/model"
)

// Invoker delivers one outbox record to a backend service.
type Invoker interface {
	Do(ctx context.Context, rctx *model.RequestContext, method, path string, body any) (remote.Result, error)
}

// Metrics receives worker telemetry. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObserveDepth(depth int)
	RecordDelivery(service string, ok bool)
	RecordDrop(service string)
}

// NopMetrics discards all worker telemetry.
type NopMetrics struct{}

func (NopMetrics) ObserveDepth(int)            {}
func (NopMetrics) RecordDelivery(string, bool) {}
func (NopMetrics) RecordDrop(string)           {}

// Worker drains due sync records in the background.
type Worker struct {
	store    Store
	invokers map[string]Invoker
	cfg      config.OutboxConfig
	logger   *zap.Logger
	metrics  Metrics
	done     chan struct{}
}

// NewWorker creates a Worker. Invokers are keyed by service ID.
func NewWorker(store Store, invokers map[string]Invoker, cfg config.OutboxConfig, logger *zap.Logger, metrics Metrics) *Worker {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Worker{
		store:    store,
		invokers: invokers,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		done:     make(chan struct{}),
	}
}

// Run drains the outbox on a ticker until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Drain delivers every record that is currently due. It is exported so
// tests and shutdown paths can flush synchronously.
func (w *Worker) Drain(ctx context.Context) {
	now := time.Now().UTC()
	records, err := w.store.Due(ctx, now, 100)
	if err != nil {
		w.logger.Error("failed to list due sync records", zap.Error(err))
		return
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		w.deliver(ctx, record, now)
	}

	if depth, err := w.store.Depth(ctx); err == nil {
		w.metrics.ObserveDepth(depth)
	}
}

func (w *Worker) deliver(ctx context.Context, record *SyncRecord, now time.Time) {
	invoker, ok := w.invokers[record.Service]
	if !ok {
		w.logger.Error("sync record targets unknown service, dropping",
			zap.String("record_id", record.ID),
			zap.String("service", record.Service),
		)
		w.metrics.RecordDrop(record.Service)
		_ = w.store.Delete(ctx, record.ID)
		return
	}

	result, err := invoker.Do(ctx, record.Actor, record.Method, record.Path, record.Body)
	if err == nil && result.StatusCode >= 200 && result.StatusCode < 300 {
		w.metrics.RecordDelivery(record.Service, true)
		_ = w.store.Delete(ctx, record.ID)
		return
	}

	record.Attempts++
	if err != nil {
		record.LastError = err.Error()
	} else {
		record.LastError = "backend returned status " + strconv.Itoa(result.StatusCode)
	}
	w.metrics.RecordDelivery(record.Service, false)

	if record.Attempts >= w.cfg.MaxAttempts {
		w.logger.Error("sync record exhausted retries, dropping",
			zap.String("record_id", record.ID),
			zap.String("service", record.Service),
			zap.String("path", record.Path),
			zap.Int("attempts", record.Attempts),
			zap.String("last_error", record.LastError),
		)
		w.metrics.RecordDrop(record.Service)
		_ = w.store.Delete(ctx, record.ID)
		return
	}

	record.NextAttemptAt = now.Add(w.backoff(record.Attempts))
	w.logger.Warn("sync record delivery failed, will retry",
		zap.String("record_id", record.ID),
		zap.String("service", record.Service),
		zap.Int("attempts", record.Attempts),
		zap.Time("next_attempt_at", record.NextAttemptAt),
		zap.String("last_error", record.LastError),
	)
	if err := w.store.Update(ctx, record); err != nil {
		w.logger.Error("failed to reschedule sync record", zap.Error(err))
	}
}

func (w *Worker) backoff(attempts int) time.Duration {
	d := w.cfg.BackoffInitial
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= w.cfg.BackoffMax {
			return w.cfg.BackoffMax
		}
	}
	if d > w.cfg.BackoffMax {
		d = w.cfg.BackoffMax
	}
	return d
}
