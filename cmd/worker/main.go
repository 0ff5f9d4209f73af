// Package main is the entry point for the stockflow background worker:
// outbox relay, order reconciliation and retention cleanup.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockflow/internal/app"
	"stockflow/internal/infrastructure/config"
	"stockflow/internal/infrastructure/jobs"
	"stockflow/internal/infrastructure/messaging"
	"stockflow/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Service:     "stockflow-worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	log.Infow("starting stockflow worker", "storage", cfg.Storage.Driver)
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn("memory storage is process local, the worker only sees its own state")
	}

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to assemble pipeline", "error", err)
	}
	defer application.Close()

	scheduler, err := newScheduler(cfg, application, log)
	if err != nil {
		log.Fatalw("failed to register jobs", "error", err)
	}
	scheduler.Start()

	var metricsServer *http.Server
	if cfg.Worker.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", application.Metrics.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infow("metrics listener starting", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("metrics listener failed", "error", err)
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Errorw("jobs did not finish in time", "error", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	log.Info("worker stopped")
}

// newScheduler registers the periodic jobs.
func newScheduler(cfg *config.Config, a *app.App, log *logger.Logger) (*jobs.Scheduler, error) {
	var handler messaging.Handler
	if a.Publisher != nil {
		handler = a.Publisher
	} else {
		// Without a broker events are only logged; they still leave the outbox.
		eventLog := log.WithComponent("events")
		handler = messaging.HandlerFunc(func(ctx context.Context, msg *messaging.Message) error {
			eventLog.Infow("event",
				"event_type", msg.EventType,
				"aggregate_type", msg.AggregateType,
				"aggregate_id", msg.AggregateID,
			)
			return nil
		})
	}

	relay := messaging.NewRelay(a.Outbox, handler,
		messaging.WithBatchSize(cfg.Worker.BatchSize),
		messaging.WithMaxRetries(cfg.Worker.MaxRetries),
		messaging.WithBackoff(messaging.LinearBackoff(10*time.Second)),
		messaging.WithResultHook(a.Metrics.ObserveOutbox),
	)

	s := jobs.NewScheduler(log, jobs.WithObserver(a.Metrics.ObserveJob))
	registrations := []struct {
		name string
		spec string
		fn   jobs.Func
	}{
		{jobs.JobOutboxRelay, jobs.Every(cfg.Worker.OutboxInterval), jobs.OutboxRelay(relay)},
		{jobs.JobReconcile, cfg.Worker.ReconcileCron, jobs.ReconcileOrders(a.Service.Aggregator, cfg.Worker.ReconcileLimit)},
		{jobs.JobOutboxCleanup, cfg.Worker.CleanupCron, jobs.OutboxCleanup(relay, a.Outbox, cfg.Worker.OutboxRetention)},
		{jobs.JobIdempotencyGC, cfg.Worker.CleanupCron, jobs.IdempotencyCleanup(a.Idempotency)},
	}
	for _, r := range registrations {
		if err := s.Add(r.name, r.spec, r.fn); err != nil {
			return nil, err
		}
	}

	// Catch up on anything missed while the worker was down.
	if err := s.RunNow(jobs.JobReconcile, jobs.ReconcileOrders(a.Service.Aggregator, cfg.Worker.ReconcileLimit)); err != nil {
		log.Warnw("initial reconcile failed", "error", err)
	}
	return s, nil
}
