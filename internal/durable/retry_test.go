package durable

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	if p.InitialInterval != time.Second || p.BackoffCoefficient != 2 || p.MaximumAttempts != DefaultMaximumAttempts {
		t.Fatalf("unexpected defaults %+v", p)
	}
	if p.MaximumInterval != 100*time.Second {
		t.Fatalf("expected max interval of 100x initial, got %s", p.MaximumInterval)
	}
}

func TestRetryPolicyBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		MaximumInterval:    5 * time.Second,
		MaximumAttempts:    10,
	}.withDefaults()

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, expected := range want {
		if got := p.backoff(i + 1); got != expected {
			t.Fatalf("backoff after %d failures: expected %s, got %s", i+1, expected, got)
		}
	}
}

func TestRetryPolicyNonRetryable(t *testing.T) {
	p := RetryPolicy{NonRetryableErrorKinds: []string{KindBadRequest}}

	if !p.isNonRetryable(NewApplicationError(KindBadRequest, errors.New("400"))) {
		t.Fatal("expected listed kind to be non-retryable")
	}
	if !p.isNonRetryable(fmt.Errorf("wrapped: %w", NewNonRetryableError("Other", errors.New("x")))) {
		t.Fatal("expected explicit non-retryable error to stop retries")
	}
	if p.isNonRetryable(NewApplicationError(KindTransient, errors.New("503"))) {
		t.Fatal("expected transient kind to be retryable")
	}
	if p.isNonRetryable(errors.New("plain")) {
		t.Fatal("expected plain errors to be retryable")
	}
}

func TestErrorKind(t *testing.T) {
	err := &ActivityError{Activity: "a", Attempts: 1, Err: NewNonRetryableError(KindBadRequest, errors.New("invalid reply token"))}
	if got := ErrorKind(err); got != KindBadRequest {
		t.Fatalf("expected BadRequest kind, got %q", got)
	}
	if ErrorKind(errors.New("plain")) != "" {
		t.Fatal("expected empty kind for plain error")
	}
}
