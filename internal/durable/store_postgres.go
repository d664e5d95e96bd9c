package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRunStore persists run records to the workflow_runs table.
type PostgresRunStore struct {
	db rowQuerier
}

var _ RunStore = (*PostgresRunStore)(nil)

// NewPostgresRunStore builds a Postgres-backed RunStore.
func NewPostgresRunStore(pool *pgxpool.Pool) *PostgresRunStore {
	if pool == nil {
		panic("durable: pgx pool cannot be nil")
	}
	return &PostgresRunStore{db: pool}
}

func newPostgresRunStoreWithExec(exec rowQuerier) *PostgresRunStore {
	if exec == nil {
		panic("durable: exec required")
	}
	return &PostgresRunStore{db: exec}
}

// Create inserts a pending run. ON CONFLICT keeps the first writer.
func (s *PostgresRunStore) Create(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("durable: run id required")
	}
	rec.stamp(time.Now().UTC())

	results, err := marshalResults(rec.Results)
	if err != nil {
		return err
	}
	ct, err := s.db.Exec(ctx, `
		INSERT INTO workflow_runs (
			run_id, namespace, workflow, task_queue, status,
			input, output, step, attempts, results,
			activity_name, error_message, created_at, updated_at, expires_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (run_id) DO NOTHING
	`, rec.RunID, rec.Namespace, rec.Workflow, rec.TaskQueue, string(rec.Status),
		nullJSON(rec.Input), nullJSON(rec.Output), rec.Step, rec.Attempts, results,
		rec.ActivityName, rec.ErrorMessage, rec.CreatedAt, rec.UpdatedAt, time.Unix(rec.ExpiresAt, 0).UTC())
	if err != nil {
		return fmt.Errorf("durable: failed to persist run: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRunExists
	}
	return nil
}

// Get loads a run by ID.
func (s *PostgresRunStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, errors.New("durable: run id required")
	}

	var (
		rec       RunRecord
		status    string
		input     []byte
		output    []byte
		results   []byte
		expiresAt pgtype.Timestamptz
	)
	row := s.db.QueryRow(ctx, `
		SELECT run_id, namespace, workflow, task_queue, status,
		       input, output, step, attempts, results,
		       activity_name, error_message, created_at, updated_at, expires_at
		FROM workflow_runs
		WHERE run_id = $1
	`, runID)
	if err := row.Scan(&rec.RunID, &rec.Namespace, &rec.Workflow, &rec.TaskQueue, &status,
		&input, &output, &rec.Step, &rec.Attempts, &results,
		&rec.ActivityName, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("durable: failed to fetch run: %w", err)
	}

	rec.Status = RunStatus(status)
	if len(input) > 0 {
		rec.Input = json.RawMessage(input)
	}
	if len(output) > 0 {
		rec.Output = json.RawMessage(output)
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &rec.Results); err != nil {
			return nil, fmt.Errorf("durable: failed to decode results: %w", err)
		}
	}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time.Unix()
	}
	return &rec, nil
}

// Save writes the checkpointed state of an existing run.
func (s *PostgresRunStore) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("durable: run id required")
	}
	rec.UpdatedAt = time.Now().UTC()

	results, err := marshalResults(rec.Results)
	if err != nil {
		return err
	}
	ct, err := s.db.Exec(ctx, `
		UPDATE workflow_runs
		SET status = $2,
		    output = $3,
		    step = $4,
		    attempts = $5,
		    results = $6,
		    activity_name = $7,
		    error_message = $8,
		    updated_at = $9
		WHERE run_id = $1
	`, rec.RunID, string(rec.Status), nullJSON(rec.Output), rec.Step, rec.Attempts, results,
		rec.ActivityName, rec.ErrorMessage, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("durable: failed to update run: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Delete removes a run.
func (s *PostgresRunStore) Delete(ctx context.Context, runID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM workflow_runs WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("durable: failed to delete run: %w", err)
	}
	return nil
}

func marshalResults(results []json.RawMessage) ([]byte, error) {
	if len(results) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("durable: failed to encode results: %w", err)
	}
	return data, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
