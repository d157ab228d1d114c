package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msouza-dev/flowsync/internal/api"
	"github.com/msouza-dev/flowsync/internal/broker"
	"github.com/msouza-dev/flowsync/internal/config"
	"github.com/msouza-dev/flowsync/internal/db"
	"github.com/msouza-dev/flowsync/internal/platform"
	"github.com/msouza-dev/flowsync/internal/registry"
	"github.com/msouza-dev/flowsync/internal/service"
	"github.com/msouza-dev/flowsync/pkg/infra"
	"github.com/msouza-dev/flowsync/pkg/metrics"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔧 Initializing FlowSync CDC pipeline...", "pid", os.Getpid())

	postgres, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("FATAL: Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer postgres.Close()

	ruleStore := db.NewRuleStore(postgres.Pool())

	reg := registry.New(ruleStore, logger)
	if err := reg.Load(ctx); err != nil {
		logger.Error("FATAL: Failed to load sync rules", "error", err)
		os.Exit(1)
	}

	wallClock := clock.New()

	// The failure-event broker is optional: without RABBITMQ_URL the
	// pipeline runs, it just emits no delivery-failure events. The manager
	// owns the link and redials with backoff after drops, so an outage only
	// suppresses events while it lasts.
	var failures service.FailurePublisher
	if cfg.RabbitMQURL != "" {
		brokerLink := broker.NewManager(cfg.RabbitMQURL, wallClock, logger)
		go brokerLink.Run(ctx)
		defer brokerLink.Close()
		failures = brokerLink
	}

	platformClient := platform.NewClient(cfg.PlatformURL, cfg.PlatformToken, logger)
	tracker := service.NewTracker(wallClock)
	stats := service.NewStats(ruleStore, logger)
	pacer := infra.NewPacer(wallClock, cfg.PaceInterval)

	dispatcher := service.NewDispatcher(postgres, platformClient, reg, tracker, stats, failures, pacer, logger)
	poller := service.NewPoller(postgres, reg, dispatcher, wallClock,
		cfg.BatchSize, cfg.PollInterval, cfg.IdleInterval, cfg.ErrorBackoff, logger)
	manual := service.NewManualRunner(postgres, reg, dispatcher, tracker,
		cfg.BatchSize, cfg.AwaitPollInterval, cfg.AwaitTimeout, logger)

	janitorDone := make(chan struct{})
	go runMaintenance(ctx, postgres, tracker, cfg, janitorDone)

	go startObservabilityServer(cfg.MetricsPort, logger)

	apiServer := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      api.NewRouter(reg, ruleStore, manual, tracker, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.AwaitTimeout + 10*time.Second,
	}
	go func() {
		logger.Info("🌐 Rule management API online", "port", cfg.APIPort)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", "error", err)
		}
	}()

	logger.Info("🚀 FlowSync is running. Polling change log for mutations...")

	// Blocking call; returns when ctx is cancelled.
	poller.Run(ctx)

	logger.Info("👋 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	<-janitorDone
	logger.Info("✅ Shutdown complete")
}

// runMaintenance is the janitor: it purges processed change events past the
// retention window, sweeps terminal upload tasks, and refreshes the
// backlog gauge.
func runMaintenance(ctx context.Context, repo *db.PostgresRepository, tracker *service.Tracker, cfg *config.Config, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.MaintenanceInterval)
	defer ticker.Stop()

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour

	for {
		select {
		case <-ticker.C:
			slog.Info("🧹 Janitor: Starting maintenance sweep")

			purged, err := repo.PurgeProcessed(ctx, retention)
			if err != nil {
				slog.Error("Janitor: Retention purge failed", "error", err)
			} else if purged > 0 {
				slog.Info("Janitor: Purged processed change events", "count", purged)
			}

			if removed := tracker.Sweep(cfg.TaskRetention); removed > 0 {
				slog.Info("Janitor: Swept terminal upload tasks", "count", removed)
			}

			backlog, err := repo.CountUnprocessed(ctx)
			if err != nil {
				slog.Error("Janitor: Backlog count failed", "error", err)
			} else {
				metrics.ChangeBacklog.Set(float64(backlog))
			}

		case <-ctx.Done():
			slog.Info("🛑 Janitor: Stopping maintenance goroutine")
			return
		}
	}
}

func startObservabilityServer(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("FLOWSYNC ALIVE"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("📊 Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Observability server failed", "error", err)
	}
}
