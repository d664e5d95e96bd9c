package durable

import (
	"errors"
	"math"
	"slices"
	"time"
)

const (
	DefaultInitialInterval     = time.Second
	DefaultBackoffCoefficient  = 2.0
	DefaultMaximumAttempts     = 3
	DefaultStartToCloseTimeout = 10 * time.Second
)

// RetryPolicy bounds how often and how fast a failed activity is retried.
// A zero MaximumAttempts means DefaultMaximumAttempts; nothing retries forever.
type RetryPolicy struct {
	InitialInterval        time.Duration
	BackoffCoefficient     float64
	MaximumInterval        time.Duration
	MaximumAttempts        int
	NonRetryableErrorKinds []string
}

// ActivityOptions configures one activity invocation.
type ActivityOptions struct {
	// StartToCloseTimeout bounds a single attempt.
	StartToCloseTimeout time.Duration
	RetryPolicy         RetryPolicy
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.BackoffCoefficient < 1 {
		p.BackoffCoefficient = DefaultBackoffCoefficient
	}
	if p.MaximumInterval <= 0 {
		p.MaximumInterval = 100 * p.InitialInterval
	}
	if p.MaximumInterval < p.InitialInterval {
		p.MaximumInterval = p.InitialInterval
	}
	if p.MaximumAttempts <= 0 {
		p.MaximumAttempts = DefaultMaximumAttempts
	}
	return p
}

// backoff returns the delay after the given number of failed attempts.
func (p RetryPolicy) backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := float64(p.InitialInterval) * math.Pow(p.BackoffCoefficient, float64(failures-1))
	if delay > float64(p.MaximumInterval) {
		return p.MaximumInterval
	}
	return time.Duration(delay)
}

func (p RetryPolicy) isNonRetryable(err error) bool {
	var appErr *ApplicationError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.NonRetryable || slices.Contains(p.NonRetryableErrorKinds, appErr.Kind)
}
