package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wei840222/pingu-bot/internal/api/router"
	"github.com/wei840222/pingu-bot/internal/app/bootstrap"
	appconfig "github.com/wei840222/pingu-bot/internal/config"
	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/internal/messaging"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.WorkflowQueueBackend == appconfig.QueueBackendMemory || cfg.WorkflowStoreBackend == appconfig.StoreBackendMemory {
		logger.Error("webhook lambda needs durable backends; set WORKFLOW_QUEUE_BACKEND and WORKFLOW_STORE_BACKEND")
		os.Exit(1)
	}

	ctx := context.Background()
	tracerProvider, err := bootstrap.InitTracerProvider(ctx, cfg, "pingu-bot-webhook-lambda", logger)
	if err != nil {
		logger.Error("failed to init tracer provider", "error", err)
		os.Exit(1)
	}

	backends, err := bootstrap.BuildBackends(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build workflow backends", "error", err)
		os.Exit(1)
	}

	client := durable.NewClient(backends.Store, backends.Queue, durable.ClientConfig{
		Namespace: cfg.WorkflowNamespace,
		TaskQueue: cfg.WorkflowTaskQueue,
	}, logger)
	handler := messaging.NewHandler(cfg.LineChannelSecret, messaging.NewDispatcher(client, cfg.WorkflowTaskQueue, logger), nil, logger)
	adapter := newAdapter(handler, logger)

	lambda.StartWithOptions(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, evt)
		// the sandbox may freeze right after returning
		if flushErr := tracerProvider.ForceFlush(ctx); flushErr != nil {
			logger.Warn("trace flush failed", "error", flushErr)
		}
		return resp, err
	}, lambda.WithEnableSIGTERM(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer provider shutdown failed", "error", err)
		}
		backends.Close()
	}))
}

// newAdapter serves API Gateway HTTP API events through the same chi
// routes the API server mounts for /callback and /health.
func newAdapter(handler *messaging.Handler, logger *logging.Logger) *httpadapter.HandlerAdapterV2 {
	mux := router.New(&router.Config{
		Logger:           logger,
		MessagingHandler: handler,
	})
	return httpadapter.NewV2(otelhttp.NewHandler(mux, "pingu-bot-webhook-lambda"))
}
