package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wei840222/pingu-bot/internal/api/router"
	"github.com/wei840222/pingu-bot/internal/app/bootstrap"
	appconfig "github.com/wei840222/pingu-bot/internal/config"
	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/internal/http/handlers"
	"github.com/wei840222/pingu-bot/internal/messaging"
	"github.com/wei840222/pingu-bot/internal/observability/metrics"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting pingu-bot API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := bootstrap.InitTracerProvider(ctx, cfg, "pingu-bot-api", logger)
	if err != nil {
		logger.Error("failed to init tracer provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(flushCtx); err != nil {
			logger.Warn("tracer provider shutdown failed", "error", err)
		}
	}()

	backends, err := bootstrap.BuildBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build workflow backends", "error", err)
		os.Exit(1)
	}
	defer backends.Close()

	reg, metricsHandler := setupMetrics()
	webhookMetrics := metrics.NewWebhookMetrics(reg)

	client := durable.NewClient(backends.Store, backends.Queue, durable.ClientConfig{
		Namespace: cfg.WorkflowNamespace,
		TaskQueue: cfg.WorkflowTaskQueue,
	}, logger)

	// The in-memory queue only reaches workers in this process.
	var worker *durable.Worker
	if cfg.WorkflowQueueBackend == appconfig.QueueBackendMemory {
		logger.Warn("memory task queue selected; running reply worker in-process")
		worker = bootstrap.BuildWorker(ctx, cfg, backends, metrics.NewWorkflowMetrics(reg), logger)
		worker.Start(ctx)
	}

	// Setup router
	routerCfg := &router.Config{
		Logger:           logger,
		MessagingHandler: messaging.NewHandler(cfg.LineChannelSecret, messaging.NewDispatcher(client, cfg.WorkflowTaskQueue, logger), webhookMetrics, logger),
		MetricsHandler:   metricsHandler,
		AdminAuthSecret:  cfg.AdminJWTSecret,
	}
	routerCfg.AdminRuns = handlers.NewAdminRunsHandler(client, nil, logger)
	if backends.History != nil {
		routerCfg.AdminRuns = handlers.NewAdminRunsHandler(client, backends.History, logger)
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, "pingu-bot-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if worker != nil {
		worker.Wait()
	}
	logger.Info("server exited")
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
