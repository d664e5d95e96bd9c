package durable

import (
	"context"
	"encoding/json"
	"slices"
	"time"
)

const defaultRetention = 7 * 24 * time.Hour

// RunStatus represents the lifecycle of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further work happens for the run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunRecord is the persisted checkpoint log of a workflow run.
type RunRecord struct {
	RunID        string            `dynamodbav:"runId" json:"runId"`
	Namespace    string            `dynamodbav:"namespace" json:"namespace"`
	Workflow     string            `dynamodbav:"workflow" json:"workflow"`
	TaskQueue    string            `dynamodbav:"taskQueue" json:"taskQueue"`
	Status       RunStatus         `dynamodbav:"status" json:"status"`
	Input        json.RawMessage   `dynamodbav:"input,omitempty" json:"input,omitempty"`
	Output       json.RawMessage   `dynamodbav:"output,omitempty" json:"output,omitempty"`
	Step         int               `dynamodbav:"step" json:"step"`
	Attempts     int               `dynamodbav:"attempts" json:"attempts"`
	Results      []json.RawMessage `dynamodbav:"results,omitempty" json:"results,omitempty"`
	ActivityName string            `dynamodbav:"activityName,omitempty" json:"activityName,omitempty"`
	ErrorMessage string            `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt    time.Time         `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time         `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt    int64             `dynamodbav:"expiresAt,omitempty" json:"-"`
}

func (r *RunRecord) clone() *RunRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Input = slices.Clone(r.Input)
	out.Output = slices.Clone(r.Output)
	if r.Results != nil {
		out.Results = make([]json.RawMessage, len(r.Results))
		for i, res := range r.Results {
			out.Results[i] = slices.Clone(res)
		}
	}
	return &out
}

// stamp fills the timestamps of a record about to be created.
func (r *RunRecord) stamp(now time.Time) {
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.ExpiresAt == 0 {
		r.ExpiresAt = now.Add(defaultRetention).Unix()
	}
	if r.Status == "" {
		r.Status = RunStatusPending
	}
}

// RunStore persists run records. Create is the idempotency gate: it must fail
// with ErrRunExists when the run ID is already present.
type RunStore interface {
	Create(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, runID string) (*RunRecord, error)
	Save(ctx context.Context, rec *RunRecord) error
	Delete(ctx context.Context, runID string) error
}
