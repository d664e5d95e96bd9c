package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wei840222/pingu-bot/internal/app/bootstrap"
	appconfig "github.com/wei840222/pingu-bot/internal/config"
	"github.com/wei840222/pingu-bot/internal/observability/metrics"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.WorkflowQueueBackend == appconfig.QueueBackendMemory {
		logger.Error("reply worker needs a shared task queue; set WORKFLOW_QUEUE_BACKEND to sqs or rabbitmq")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := bootstrap.InitTracerProvider(ctx, cfg, "pingu-bot-reply-worker", logger)
	if err != nil {
		logger.Error("failed to init tracer provider", "error", err)
		os.Exit(1)
	}

	backends, err := bootstrap.BuildBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build workflow backends", "error", err)
		os.Exit(1)
	}
	defer backends.Close()

	reg := prometheus.NewRegistry()
	worker := bootstrap.BuildWorker(ctx, cfg, backends, metrics.NewWorkflowMetrics(reg), logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("reply worker started",
		"task_queue", cfg.WorkflowTaskQueue,
		"queue_backend", cfg.WorkflowQueueBackend,
		"store_backend", cfg.WorkflowStoreBackend,
		"workers", cfg.WorkerCount,
	)
	worker.Start(ctx)

	<-ctx.Done()
	logger.Info("reply worker shutting down")
	worker.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer provider shutdown failed", "error", err)
	}
	logger.Info("reply worker exited")
}
