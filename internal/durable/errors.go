package durable

import (
	"errors"
	"fmt"
)

var (
	// ErrRunExists is returned by RunStore.Create when the run ID is already taken.
	ErrRunExists = errors.New("durable: run already exists")
	// ErrRunNotFound indicates the requested run ID does not exist.
	ErrRunNotFound = errors.New("durable: run not found")
	// ErrDispatchUnavailable wraps store or queue failures while starting a run.
	ErrDispatchUnavailable = errors.New("durable: dispatch unavailable")
	// ErrUnknownTaskQueue is returned when StartOptions names a task queue the client does not serve.
	ErrUnknownTaskQueue = errors.New("durable: unknown task queue")
	// ErrWorkerStopping is returned from activity execution when the worker shuts down mid-backoff.
	ErrWorkerStopping = errors.New("durable: worker stopping")

	errAttemptsExhausted = errors.New("durable: retry attempts exhausted")
)

// Well-known error kinds.
const (
	KindBadRequest   = "BadRequest"
	KindTransient    = "Transient"
	KindInvalidInput = "InvalidInput"
)

// ApplicationError is the error type activities return to control retry behavior.
type ApplicationError struct {
	Kind         string
	NonRetryable bool
	Err          error
}

func (e *ApplicationError) Error() string {
	if e.Err == nil {
		return e.Kind
	}
	return e.Kind + ": " + e.Err.Error()
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// NewApplicationError wraps err with a retryable kind.
func NewApplicationError(kind string, err error) error {
	return &ApplicationError{Kind: kind, Err: err}
}

// NewNonRetryableError wraps err with a kind that is never retried.
func NewNonRetryableError(kind string, err error) error {
	return &ApplicationError{Kind: kind, NonRetryable: true, Err: err}
}

// ActivityError is returned by ExecuteActivity once an activity has failed for good.
type ActivityError struct {
	Activity     string
	Attempts     int
	NonRetryable bool
	Err          error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("durable: activity %s failed after %d attempt(s): %v", e.Activity, e.Attempts, e.Err)
}

func (e *ActivityError) Unwrap() error {
	return e.Err
}

// checkpointError marks run store failures during execution. The task is left
// on the queue so the run resumes from its last checkpoint.
type checkpointError struct {
	err error
}

func (e *checkpointError) Error() string {
	return "durable: checkpoint failed: " + e.err.Error()
}

func (e *checkpointError) Unwrap() error {
	return e.err
}

// ErrorKind returns the ApplicationError kind carried by err, or "".
func ErrorKind(err error) string {
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
