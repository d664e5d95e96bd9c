package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("WORKFLOW_QUEUE_BACKEND", "")
	t.Setenv("WORKFLOW_STORE_BACKEND", "")
	t.Setenv("REPLY_MAX_ATTEMPTS", "")
	t.Setenv("REPLY_MAX_INTERVAL", "")
	t.Setenv("REPLY_ACTIVITY_TIMEOUT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_SAMPLER_RATIO", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.WorkflowQueueBackend != QueueBackendMemory {
		t.Fatalf("expected memory queue backend, got %s", cfg.WorkflowQueueBackend)
	}
	if cfg.WorkflowStoreBackend != StoreBackendMemory {
		t.Fatalf("expected memory store backend, got %s", cfg.WorkflowStoreBackend)
	}
	if cfg.WorkflowTaskQueue != "pingu-bot" {
		t.Fatalf("expected default task queue, got %s", cfg.WorkflowTaskQueue)
	}
	if cfg.ReplyMaxAttempts != 3 {
		t.Fatalf("expected 3 reply attempts, got %d", cfg.ReplyMaxAttempts)
	}
	if cfg.ReplyMaxInterval != 5*time.Second {
		t.Fatalf("expected 5s max interval, got %s", cfg.ReplyMaxInterval)
	}
	if cfg.ReplyActivityTimeout != 5*time.Second {
		t.Fatalf("expected 5s activity timeout, got %s", cfg.ReplyActivityTimeout)
	}
	if cfg.AudioBaseURL != "https://static.weii.dev/audio/pingu" {
		t.Fatalf("unexpected audio base url %s", cfg.AudioBaseURL)
	}
	if cfg.OTLPEndpoint != "" || cfg.TraceSampleRatio != 1 {
		t.Fatalf("unexpected tracing defaults %q %v", cfg.OTLPEndpoint, cfg.TraceSampleRatio)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LINE_CHANNEL_SECRET", "secret")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "token")
	t.Setenv("WORKFLOW_QUEUE_BACKEND", " SQS ")
	t.Setenv("WORKFLOW_QUEUE_URL", "http://localhost:4566/000000000000/pingu")
	t.Setenv("WORKFLOW_STORE_BACKEND", "dynamodb")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("REPLY_MAX_INTERVAL", "15s")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://otel-collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_TRACES_SAMPLER_RATIO", "0.25")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.WorkflowQueueBackend != QueueBackendSQS {
		t.Fatalf("expected normalized sqs backend, got %q", cfg.WorkflowQueueBackend)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected worker count override, got %d", cfg.WorkerCount)
	}
	if cfg.ReplyMaxInterval != 15*time.Second {
		t.Fatalf("expected max interval override, got %s", cfg.ReplyMaxInterval)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if cfg.OTLPEndpoint != "http://otel-collector:4317" || !cfg.OTLPInsecure || cfg.TraceSampleRatio != 0.25 {
		t.Fatalf("unexpected tracing overrides %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateReportsMissingCredentials(t *testing.T) {
	cfg := &Config{
		WorkflowQueueBackend: QueueBackendMemory,
		WorkflowStoreBackend: StoreBackendMemory,
		ReplyMaxAttempts:     3,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "LINE_CHANNEL_SECRET") || !strings.Contains(err.Error(), "LINE_CHANNEL_ACCESS_TOKEN") {
		t.Fatalf("expected both credentials reported, got %v", err)
	}
}

func TestValidateBackends(t *testing.T) {
	base := Config{
		LineChannelSecret:      "s",
		LineChannelAccessToken: "t",
		ReplyMaxAttempts:       3,
	}

	sqs := base
	sqs.WorkflowQueueBackend = QueueBackendSQS
	sqs.WorkflowStoreBackend = StoreBackendMemory
	if err := sqs.Validate(); err == nil || !strings.Contains(err.Error(), "WORKFLOW_QUEUE_URL") {
		t.Fatalf("expected missing queue url error, got %v", err)
	}

	pg := base
	pg.WorkflowQueueBackend = QueueBackendMemory
	pg.WorkflowStoreBackend = StoreBackendPostgres
	if err := pg.Validate(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected missing database url error, got %v", err)
	}

	ratio := base
	ratio.WorkflowQueueBackend = QueueBackendMemory
	ratio.WorkflowStoreBackend = StoreBackendMemory
	ratio.TraceSampleRatio = 1.5
	if err := ratio.Validate(); err == nil || !strings.Contains(err.Error(), "OTEL_TRACES_SAMPLER_RATIO") {
		t.Fatalf("expected sample ratio error, got %v", err)
	}

	unknown := base
	unknown.WorkflowQueueBackend = "kafka"
	unknown.WorkflowStoreBackend = StoreBackendMemory
	if err := unknown.Validate(); err == nil || !strings.Contains(err.Error(), "kafka") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}
