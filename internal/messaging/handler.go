package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/internal/line"
	"github.com/wei840222/pingu-bot/internal/observability/metrics"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

var tracer = otel.Tracer("pingu.internal.messaging")

const (
	maxCallbackBodyBytes = 1 << 20
	dispatchTimeout      = 3 * time.Second
)

type eventDispatcher interface {
	Dispatch(ctx context.Context, evt line.InboundEvent) (durable.Handle, error)
}

// Handler serves the LINE webhook.
type Handler struct {
	channelSecret string
	dispatcher    eventDispatcher
	metrics       *metrics.WebhookMetrics
	logger        *logging.Logger
}

// NewHandler creates a webhook handler. webhookMetrics may be nil.
func NewHandler(channelSecret string, dispatcher eventDispatcher, webhookMetrics *metrics.WebhookMetrics, logger *logging.Logger) *Handler {
	if dispatcher == nil {
		panic("messaging: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		channelSecret: channelSecret,
		dispatcher:    dispatcher,
		metrics:       webhookMetrics,
		logger:        logger,
	}
}

// Callback handles POST /callback. It answers once every message event in
// the body has a registered run; replies are sent later by the worker.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "messaging.line.callback")
	defer span.End()

	started := time.Now()
	status := http.StatusOK
	defer func() {
		h.metrics.ObserveRequest(status, time.Since(started).Seconds())
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read callback body", "error", err)
		status = http.StatusBadRequest
		span.RecordError(err)
		writeDetail(w, status, "Malformed payload.")
		return
	}

	if !line.VerifySignature(body, r.Header.Get(line.SignatureHeader), h.channelSecret) {
		h.logger.Warn("invalid line signature")
		status = http.StatusBadRequest
		span.RecordError(line.ErrInvalidSignature)
		span.SetStatus(codes.Error, "invalid signature")
		writeDetail(w, status, "Invalid signature.")
		return
	}

	events, err := line.DecodeEvents(body)
	if err != nil {
		h.logger.Warn("failed to decode callback body", "error", err)
		status = http.StatusBadRequest
		span.RecordError(err)
		writeDetail(w, status, "Malformed payload.")
		return
	}

	dispatched := 0
	for evt := range events {
		if err := h.dispatch(ctx, evt); err != nil {
			h.logger.Error("failed to dispatch line event", "error", err, "event_id", evt.EventID)
			status = http.StatusInternalServerError
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
			writeDetail(w, status, "Failed to schedule reply.")
			return
		}
		dispatched++
	}
	span.SetAttributes(attribute.Int("pingu.line.dispatched", dispatched))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) dispatch(ctx context.Context, evt line.InboundEvent) error {
	dispatchCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	handle, err := h.dispatcher.Dispatch(dispatchCtx, evt)
	switch {
	case errors.Is(err, durable.ErrDispatchUnavailable):
		h.metrics.ObserveDispatch("unavailable")
		return err
	case err != nil:
		h.metrics.ObserveDispatch("error")
		return err
	case handle.Duplicate:
		h.metrics.ObserveDispatch("duplicate")
	default:
		h.metrics.ObserveDispatch("started")
	}
	h.logger.Debug("line event dispatched", "event_id", evt.EventID, "run_id", handle.RunID, "duplicate", handle.Duplicate)
	return nil
}

// HealthCheck returns a simple health check response.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "ok",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
