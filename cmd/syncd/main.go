// Package main is the entry point for the shopsync daemon.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopsync/internal/admin"
	"shopsync/internal/admin/handlers"
	"shopsync/internal/config"
	"shopsync/internal/job"
	"shopsync/internal/logger"
	"shopsync/internal/notify"
	"shopsync/internal/observability"
	"shopsync/internal/price"
	"shopsync/internal/retailer"
	"shopsync/internal/search"
	"shopsync/internal/store/postgres"
	"shopsync/internal/sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Concrete retailer adapters are wired here per deployment; the scrape
// workflows refuse retailers with no adapter.
var adapters = map[retailer.Retailer]retailer.Adapter{}

func main() {
	// Load Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	// Setup Database
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	// Tracing
	if cfg.OTLPEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "shopsync-syncd", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Use an Observable Gauge (Async) that queries the DB only when scraped.
	meter := otel.Meter("shopsync-syncd")
	_, err = meter.Int64ObservableGauge("shopsync.stores.pending_sync",
		metric.WithDescription("Current number of stores due for a sync"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			stores, err := db.StoresPendingSync(ctx)
			if err != nil {
				log.Printf("Failed to count pending stores: %v", err)
				return nil // Don't crash metrics scrape on DB error
			}
			obs.Observe(int64(len(stores)))
			return nil
		}),
	)
	if err != nil {
		log.Printf("Failed to register pending stores metric: %v", err)
	}

	// Lifecycle notifications
	var notifier notify.Notifier = notify.Nop{}
	if cfg.DiscordBotToken != "" && cfg.DiscordChannelID != "" {
		notifier = notify.NewDiscord(notify.DiscordConfig{
			BotToken:  cfg.DiscordBotToken,
			ChannelID: cfg.DiscordChannelID,
		}, slogger)
	}

	// Orchestrator and sync pipeline
	orch := job.New(ctx, db, notifier, slogger, job.Config{})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			log.Printf("Orchestrator shutdown: %v", err)
		}
	}()

	searchClient := search.New(search.Config{URL: cfg.MeiliURL, APIKey: cfg.MeiliKey}, slogger)
	pipeline := sync.New(orch, db, db, db, searchClient, adapters, slogger, sync.Config{
		StoreConcurrency: cfg.StoreConcurrency,
		GroupConcurrency: cfg.GroupConcurrency,
	})

	resolver := price.New(db, db, price.Config{})

	// Admin and metrics servers
	h := handlers.New(orch, db, db, resolver, db)
	adminSrv := admin.New(cfg.AdminAddr, cfg.AdminTokenHash, h)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Admin API listening on %s", cfg.AdminAddr)
		if err := adminSrv.Run(runCtx); err != nil {
			log.Printf("Admin server stopped: %v", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Printf("Metrics listening on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()

	// Scheduler: kick the daily sync when stores come due.
	go runScheduler(runCtx, cfg.SyncInterval, orch, pipeline, slogger)

	<-runCtx.Done()

	log.Println("Shutting down syncd...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server forced to shutdown: %v", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Admin server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}

// runScheduler periodically triggers the daily sync. The workflow itself
// decides which stores are due, and the ledger suppresses overlapping runs.
func runScheduler(ctx context.Context, interval time.Duration, orch *job.Orchestrator, pipeline *sync.Pipeline, slogger *slog.Logger) {
	trigger := func() {
		_, err := orch.Start(ctx, pipeline.DailySync, job.Event{})
		switch {
		case errors.Is(err, job.ErrAlreadyRunning):
			slogger.Info("daily sync already running, skipping tick")
		case err != nil:
			slogger.Warn("starting daily sync failed", "error", err)
		}
	}

	trigger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger()
		}
	}
}
