package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ragbridge/pipeline/internal/bootstrap"
	"github.com/ragbridge/pipeline/internal/config"
	"github.com/ragbridge/pipeline/internal/core/domain"
	"github.com/ragbridge/pipeline/internal/observability/logging"
	"github.com/ragbridge/pipeline/internal/observability/metrics"
)

const serviceName = "pipeline-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)

	app, err := bootstrap.New(ctx, cfg, logger, workerMetrics)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
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

	stageTimeout := time.Duration(cfg.StageTimeout) * time.Second

	logger.Info("worker subscribed", "subject", cfg.NATSTaskSubject)
	err = app.Bus.SubscribeStageTasks(ctx, func(handlerCtx context.Context, task domain.StageTask) error {
		if !task.PublishedAt.IsZero() {
			workerMetrics.ObserveTaskLag(serviceName, time.Since(task.PublishedAt))
		}
		workerMetrics.StartStageTask()
		start := time.Now()

		taskCtx, cancel := context.WithTimeout(handlerCtx, stageTimeout)
		defer cancel()

		execErr := app.ExecutorUC.ExecuteTask(taskCtx, task)
		workerMetrics.FinishStageTask(serviceName, task.Stage.String(), time.Since(start), execErr)
		return execErr
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
