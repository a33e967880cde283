package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/ragbridge/pipeline/internal/bootstrap"
	"github.com/ragbridge/pipeline/internal/config"
	"github.com/ragbridge/pipeline/internal/core/ports"
	"github.com/ragbridge/pipeline/internal/observability/logging"
	"github.com/ragbridge/pipeline/internal/observability/metrics"
)

const serviceName = "pipeline-scheduler"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedulerMetrics := metrics.NewSchedulerMetrics(serviceName)

	app, err := bootstrap.New(ctx, cfg, logger, schedulerMetrics)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.SchedulerMetricsPort,
		Handler: schedulerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	limiter := rate.NewLimiter(rate.Limit(cfg.SchedulerRate), 1)
	interval := time.Duration(cfg.SchedulerInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("scheduler started",
		"interval_seconds", cfg.SchedulerInterval, "rate_per_second", cfg.SchedulerRate)

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			drainDueItems(ctx, app, limiter, schedulerMetrics, logger)
			updateQueueDepth(ctx, app.ReprocessUC, schedulerMetrics)
		}
	}
}

// drainDueItems claims due queue items until the queue reports idle,
// rate-limited so retry storms cannot saturate the workers.
func drainDueItems(
	ctx context.Context,
	app *bootstrap.App,
	limiter *rate.Limiter,
	schedulerMetrics *metrics.SchedulerMetrics,
	logger *slog.Logger,
) {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		claimed, err := app.ReprocessUC.RunOnce(ctx)
		switch {
		case err != nil:
			schedulerMetrics.FinishPass(serviceName, "error", time.Since(start))
			logger.Error("scheduling pass failed", "error", err)
			return
		case !claimed:
			schedulerMetrics.FinishPass(serviceName, "idle", time.Since(start))
			return
		default:
			schedulerMetrics.FinishPass(serviceName, "claimed", time.Since(start))
		}
	}
}

func updateQueueDepth(ctx context.Context, queue ports.QueueAdmin, schedulerMetrics *metrics.SchedulerMetrics) {
	stats, err := queue.Statistics(ctx)
	if err != nil {
		return
	}
	schedulerMetrics.SetQueueDepth(serviceName, "pending", stats.Pending)
	schedulerMetrics.SetQueueDepth(serviceName, "processing", stats.Processing)
	schedulerMetrics.SetQueueDepth(serviceName, "completed", stats.Completed)
	schedulerMetrics.SetQueueDepth(serviceName, "failed", stats.Failed)
}
