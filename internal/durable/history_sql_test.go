package durable

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestRunHistoryList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"run_id", "workflow", "status", "attempts", "activity_name", "error_message", "updated_at"}).
		AddRow("evt-2", "HandleTextMessage", "failed", 1, "ReplyAudioActivity", "BadRequest: invalid reply token", updated).
		AddRow("evt-1", "HandleTextMessage", "failed", 3, "ReplyTextActivity", "Transient: 503", updated.Add(-time.Minute))
	mock.ExpectQuery("SELECT run_id, workflow, status").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	history := NewRunHistory(db)
	runs, err := history.List(context.Background(), []RunStatus{RunStatusFailed}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "evt-2" || runs[0].Status != RunStatusFailed || runs[0].Attempts != 1 {
		t.Fatalf("unexpected first run %+v", runs[0])
	}
	if !runs[0].UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected updated at %s", runs[0].UpdatedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunHistoryListQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT run_id").WillReturnError(context.DeadlineExceeded)
	if _, err := NewRunHistory(db).List(context.Background(), nil, 1000); err == nil {
		t.Fatal("expected error")
	}
}
