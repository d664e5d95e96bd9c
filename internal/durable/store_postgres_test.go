package durable

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresRunStoreCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresRunStoreWithExec(mock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO workflow_runs").WithArgs(anyArgs(15)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := store.Create(ctx, &RunRecord{RunID: "evt-1", Workflow: "HandleTextMessage"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	mock.ExpectExec("INSERT INTO workflow_runs").WithArgs(anyArgs(15)...).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	if err := store.Create(ctx, &RunRecord{RunID: "evt-1", Workflow: "HandleTextMessage"}); err != ErrRunExists {
		t.Fatalf("expected ErrRunExists on conflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRunStoreConcurrentCreateKeepsFirstWriter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	mock.MatchExpectationsInOrder(false)

	const writers = 8
	mock.ExpectExec("INSERT INTO workflow_runs").WithArgs(anyArgs(15)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for i := 1; i < writers; i++ {
		mock.ExpectExec("INSERT INTO workflow_runs").WithArgs(anyArgs(15)...).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	}

	store := newPostgresRunStoreWithExec(mock)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		exists  int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Create(context.Background(), &RunRecord{RunID: "evt-1", Workflow: "HandleTextMessage"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrRunExists):
				exists++
			default:
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || exists != writers-1 {
		t.Fatalf("expected one creator and %d duplicates, got %d/%d", writers-1, created, exists)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRunStoreGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresRunStoreWithExec(mock)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	expires := pgtype.Timestamptz{Time: now.Add(7 * 24 * time.Hour), Valid: true}

	columns := []string{"run_id", "namespace", "workflow", "task_queue", "status", "input", "output", "step", "attempts", "results", "activity_name", "error_message", "created_at", "updated_at", "expires_at"}
	mock.ExpectQuery("SELECT run_id, namespace").WithArgs("evt-1").WillReturnRows(
		pgxmock.NewRows(columns).AddRow(
			"evt-1", "default", "HandleTextMessage", "pingu-bot", "running",
			[]byte(`{"message":"叫"}`), []byte(nil), 0, 2, []byte(`[{"requestId":"r"}]`),
			"ReplyAudioActivity", "", now, now, expires,
		),
	)
	rec, err := store.Get(ctx, "evt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != RunStatusRunning || rec.Attempts != 2 || rec.ActivityName != "ReplyAudioActivity" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.Results) != 1 || string(rec.Results[0]) != `{"requestId":"r"}` {
		t.Fatalf("unexpected results %s", rec.Results)
	}
	if len(rec.Output) != 0 {
		t.Fatalf("expected empty output, got %s", rec.Output)
	}
	if rec.ExpiresAt != expires.Time.Unix() {
		t.Fatalf("unexpected expiry %d", rec.ExpiresAt)
	}

	mock.ExpectQuery("SELECT run_id, namespace").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	if _, err := store.Get(ctx, "missing"); err != ErrRunNotFound {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRunStoreSaveAndDelete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresRunStoreWithExec(mock)
	ctx := context.Background()
	rec := &RunRecord{
		RunID:   "evt-1",
		Status:  RunStatusCompleted,
		Output:  json.RawMessage(`true`),
		Results: []json.RawMessage{json.RawMessage(`{}`)},
	}

	mock.ExpectExec("UPDATE workflow_runs").WithArgs(anyArgs(9)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	mock.ExpectExec("UPDATE workflow_runs").WithArgs(anyArgs(9)...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := store.Save(ctx, rec); err != ErrRunNotFound {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	mock.ExpectExec("DELETE FROM workflow_runs").WithArgs("evt-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	if err := store.Delete(ctx, "evt-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarshalResultsEmpty(t *testing.T) {
	data, err := marshalResults(nil)
	if err != nil || string(data) != "[]" {
		t.Fatalf("expected empty json array, got %s %v", data, err)
	}
}
