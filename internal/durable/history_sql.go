package durable

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RunSummary is a compact row of the run history listing.
type RunSummary struct {
	RunID        string    `json:"runId"`
	Workflow     string    `json:"workflow"`
	Status       RunStatus `json:"status"`
	Attempts     int       `json:"attempts"`
	ActivityName string    `json:"activityName,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RunHistory lists recent runs from the workflow_runs table over database/sql.
type RunHistory struct {
	db *sql.DB
}

func NewRunHistory(db *sql.DB) *RunHistory {
	if db == nil {
		panic("durable: sql db cannot be nil")
	}
	return &RunHistory{db: db}
}

// List returns the most recently updated runs, optionally filtered by status.
func (h *RunHistory) List(ctx context.Context, statuses []RunStatus, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	filter := make([]string, 0, len(statuses))
	for _, st := range statuses {
		filter = append(filter, string(st))
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, workflow, status, attempts, activity_name, error_message, updated_at
		FROM workflow_runs
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
		ORDER BY updated_at DESC
		LIMIT $2
	`, pq.Array(filter), limit)
	if err != nil {
		return nil, fmt.Errorf("durable: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s      RunSummary
			status string
		)
		if err := rows.Scan(&s.RunID, &s.Workflow, &status, &s.Attempts, &s.ActivityName, &s.ErrorMessage, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("durable: scan run: %w", err)
		}
		s.Status = RunStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("durable: list runs: %w", err)
	}
	return out, nil
}
