// Package main is the entry point for the shopcore lifecycle server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/glossworks/shopcore/internal/checklist"
	"github.com/glossworks/shopcore/internal/config"
	"github.com/glossworks/shopcore/internal/eod"
	"github.com/glossworks/shopcore/internal/observability"
	"github.com/glossworks/shopcore/internal/outbox"
	"github.com/glossworks/shopcore/internal/pipeline"
	"github.com/glossworks/shopcore/internal/remote"
	"github.com/glossworks/shopcore/internal/sop"
	"github.com/glossworks/shopcore/internal/timeclock"
	"github.com/glossworks/shopcore/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "shopcore", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load SOP checklist templates and build the registry.
	loader := checklist.NewLoader()
	templates, err := loader.LoadAll(cfg.Templates.Directories)
	if err != nil {
		logger.Error("checklist template loading failed", zap.Error(err))
		return 1
	}
	registry := checklist.NewRegistry(templates)
	metrics.SetTemplatesLoaded(float64(len(templates)))
	logger.Info("checklist templates loaded",
		zap.Int("count", len(templates)),
		zap.Strings("service_types", registry.ServiceTypes()),
	)

	// SIGHUP reloads templates without a restart. A failed reload keeps
	// the previous snapshot.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			files, err := loader.LoadAll(cfg.Templates.Directories)
			if err != nil {
				logger.Error("checklist template reload failed", zap.Error(err))
				metrics.RecordTemplateReload("error")
				continue
			}
			registry.Replace(files)
			metrics.SetTemplatesLoaded(float64(len(files)))
			metrics.RecordTemplateReload("success")
			logger.Info("checklist templates reloaded",
				zap.Int("count", len(files)),
				zap.String("checksum", registry.Checksum()),
			)
		}
	}()

	// Step 5: Initialize checklist stores.
	sopStore, eodStore, storeCloser, err := buildChecklistStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("checklist store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Build backend clients, one per configured service.
	clients := make(map[string]*remote.Client, len(cfg.Services))
	invokers := make(map[string]outbox.Invoker, len(cfg.Services))
	for serviceID, serviceCfg := range cfg.Services {
		client := remote.NewClient(serviceID, serviceCfg, logger)
		client.SetMetrics(metrics)
		clients[serviceID] = client
		invokers[serviceID] = client
	}

	// Step 7: Start the outbox worker.
	obStore := outbox.NewMemoryStore()
	worker := outbox.NewWorker(obStore, invokers, cfg.Outbox, logger, metrics)

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go worker.Run(bgCtx)

	// Step 8: Build controllers.
	sopCtrl := sop.NewController(registry, sopStore, obStore, logger)
	eodCtrl := eod.NewController(eodStore, obStore, logger)
	machine := pipeline.NewMachine(pipeline.NewMemoryStore(), sopCtrl, logger)
	clockGate := timeclock.NewGate(
		eodCtrl,
		remote.NewTimeClockAPI(clients[config.ServiceTimeClock]),
		logger,
	)

	// Step 9: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		TemplatesLoaded: func() bool { return len(registry.ServiceTypes()) > 0 },
	}
	if hc, ok := sopStore.(observability.HealthChecker); ok {
		readinessChecks.ChecklistStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   logger,
		SOP:      sopCtrl,
		EOD:      eodCtrl,
		Pipeline: machine,
		Clock:    clockGate,
		Metrics:  metrics,
		Ready:    readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("templates", len(templates)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Flush the outbox once, then stop the worker.
	worker.Drain(shutdownCtx)
	bgCancel()
	select {
	case <-worker.Done():
	case <-shutdownCtx.Done():
		logger.Warn("outbox worker did not stop before shutdown deadline")
	}

	if storeCloser != nil {
		storeCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildChecklistStores creates the SOP and end-of-day checklist stores
// based on config. Both share a connection pool under the postgres driver.
func buildChecklistStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (checklist.Store, checklist.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory checklist stores")
		return checklist.NewMemoryStore(), checklist.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("checklist store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("checklist store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("checklist store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("checklist store: ping: %w", err)
		}

		store := checklist.NewPgStore(pool)
		return store, store, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported checklist store driver: %q", cfg.Driver)
	}
}
