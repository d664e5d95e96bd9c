package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/internal/http/middleware"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

type runDescriber interface {
	Describe(ctx context.Context, runID string) (*durable.RunRecord, error)
}

type runLister interface {
	List(ctx context.Context, statuses []durable.RunStatus, limit int) ([]durable.RunSummary, error)
}

// AdminRunsHandler exposes reply workflow runs to operators.
type AdminRunsHandler struct {
	runs    runDescriber
	history runLister
	logger  *logging.Logger
}

// NewAdminRunsHandler creates the handler. history may be nil when the run
// store has no SQL backing; listing then answers 501.
func NewAdminRunsHandler(runs runDescriber, history runLister, logger *logging.Logger) *AdminRunsHandler {
	if runs == nil {
		panic("handlers: run describer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminRunsHandler{runs: runs, history: history, logger: logger}
}

// ListRunsResponse is the body of GET /admin/runs.
type ListRunsResponse struct {
	Runs  []durable.RunSummary `json:"runs"`
	Count int                  `json:"count"`
}

// GetRun returns one run record.
// GET /admin/runs/{runID}
func (h *AdminRunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(chi.URLParam(r, "runID"))
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Missing run id."})
		return
	}

	rec, err := h.runs.Describe(r.Context(), runID)
	switch {
	case errors.Is(err, durable.ErrRunNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Run not found."})
		return
	case err != nil:
		h.logger.Error("failed to load run", "error", err, "run_id", runID, "request_id", middleware.RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to load run."})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRuns returns recent runs, optionally filtered by status.
// GET /admin/runs?status=failed&status=running&limit=20
func (h *AdminRunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"detail": "Run history requires the postgres store."})
		return
	}

	query := r.URL.Query()
	var statuses []durable.RunStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			status := durable.RunStatus(strings.ToLower(strings.TrimSpace(part)))
			switch status {
			case "":
				continue
			case durable.RunStatusPending, durable.RunStatusRunning, durable.RunStatusCompleted, durable.RunStatusFailed:
				statuses = append(statuses, status)
			default:
				writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Unknown status " + strconv.Quote(string(status)) + "."})
				return
			}
		}
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid limit."})
			return
		}
		limit = parsed
	}

	runs, err := h.history.List(r.Context(), statuses, limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list runs."})
		return
	}
	if runs == nil {
		runs = []durable.RunSummary{}
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
