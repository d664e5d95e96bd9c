package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wei840222/pingu-bot/pkg/logging"
)

// Context is handed to workflow functions. It carries the run's checkpoint
// log; activity results already in the log are replayed instead of executed.
type Context struct {
	ctx      context.Context
	stop     <-chan struct{}
	run      *RunRecord
	store    RunStore
	logger   *logging.Logger
	observer Observer
	next     int
}

// RunID returns the ID of the executing run.
func (c *Context) RunID() string { return c.run.RunID }

// Workflow returns the workflow name of the executing run.
func (c *Context) Workflow() string { return c.run.Workflow }

// Logger returns a logger scoped to the run.
func (c *Context) Logger() *logging.Logger { return c.logger }

// Context returns the execution context. It is not cancelled by worker
// shutdown so in-flight attempts can finish.
func (c *Context) Context() context.Context { return c.ctx }

func (c *Context) checkpoint() error {
	if err := c.store.Save(c.ctx, c.run); err != nil {
		return &checkpointError{err: err}
	}
	return nil
}

func (c *Context) sleep(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-c.stop:
		return ErrWorkerStopping
	}
}

func (c *Context) observe(activity, outcome string) {
	if c.observer != nil {
		c.observer.ObserveActivityAttempt(activity, outcome)
	}
}

// SideEffect records the result of fn in the run log the first time the
// step executes and replays it afterwards. fn must not call external systems.
func SideEffect[T any](c *Context, name string, fn func() (T, error)) (T, error) {
	var zero T
	step := c.next
	c.next++

	if step < len(c.run.Results) {
		var out T
		if err := json.Unmarshal(c.run.Results[step], &out); err != nil {
			return zero, &checkpointError{err: fmt.Errorf("decode result of %s: %w", name, err)}
		}
		return out, nil
	}

	out, err := fn()
	if err != nil {
		return zero, err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("durable: encode result of %s: %w", name, err)
	}
	c.run.Step = step
	c.run.Attempts = 1
	c.run.ActivityName = name
	c.run.Results = append(c.run.Results, encoded)
	if err := c.checkpoint(); err != nil {
		return zero, err
	}
	return out, nil
}

// ExecuteActivity runs fn under opts. The step and attempt count are saved
// before every attempt and the result is appended to the run log after
// success. Failed attempts are retried with backoff until the retry policy
// is exhausted or the error is non-retryable.
func ExecuteActivity[In, Out any](c *Context, name string, fn func(context.Context, In) (Out, error), in In, opts ActivityOptions) (Out, error) {
	var zero Out
	step := c.next
	c.next++

	if step < len(c.run.Results) {
		var out Out
		if err := json.Unmarshal(c.run.Results[step], &out); err != nil {
			return zero, &checkpointError{err: fmt.Errorf("decode result of %s: %w", name, err)}
		}
		c.logger.Debug("replaying activity result", "activity", name, "step", step)
		return out, nil
	}

	policy := opts.RetryPolicy.withDefaults()
	timeout := opts.StartToCloseTimeout
	if timeout <= 0 {
		timeout = DefaultStartToCloseTimeout
	}

	attempt := 0
	if c.run.Step == step && c.run.ActivityName == name {
		attempt = c.run.Attempts
	}
	lastErr := error(errAttemptsExhausted)

	for attempt < policy.MaximumAttempts {
		attempt++
		c.run.Step = step
		c.run.Attempts = attempt
		c.run.ActivityName = name
		if err := c.checkpoint(); err != nil {
			return zero, err
		}

		out, err := runAttempt(c.ctx, fn, in, timeout)
		if err == nil {
			encoded, mErr := json.Marshal(out)
			if mErr != nil {
				return zero, &ActivityError{Activity: name, Attempts: attempt, NonRetryable: true, Err: mErr}
			}
			c.run.Results = append(c.run.Results, encoded)
			c.observe(name, "success")
			if err := c.checkpoint(); err != nil {
				return zero, err
			}
			return out, nil
		}

		lastErr = err
		if policy.isNonRetryable(err) {
			c.observe(name, "non_retryable")
			c.logger.Warn("activity failed with non-retryable error", "activity", name, "attempt", attempt, "error", err)
			return zero, &ActivityError{Activity: name, Attempts: attempt, NonRetryable: true, Err: err}
		}
		c.observe(name, "retryable")
		if attempt >= policy.MaximumAttempts {
			break
		}

		delay := policy.backoff(attempt)
		c.logger.Warn("activity attempt failed, retrying", "activity", name, "attempt", attempt, "max_attempts", policy.MaximumAttempts, "backoff", delay.String(), "error", err)
		if err := c.sleep(delay); err != nil {
			return zero, err
		}
	}

	return zero, &ActivityError{Activity: name, Attempts: attempt, Err: lastErr}
}

type attemptResult[Out any] struct {
	out Out
	err error
}

// runAttempt bounds one activity call by timeout even if fn ignores its context.
func runAttempt[In, Out any](ctx context.Context, fn func(context.Context, In) (Out, error), in In, timeout time.Duration) (Out, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[Out], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero Out
				done <- attemptResult[Out]{out: zero, err: fmt.Errorf("durable: activity panicked: %v", r)}
			}
		}()
		out, err := fn(attemptCtx, in)
		done <- attemptResult[Out]{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && attemptCtx.Err() != nil {
			return res.out, fmt.Errorf("durable: start-to-close timeout %s exceeded: %w", timeout, res.err)
		}
		return res.out, res.err
	case <-attemptCtx.Done():
		var zero Out
		return zero, fmt.Errorf("durable: start-to-close timeout %s exceeded: %w", timeout, attemptCtx.Err())
	}
}
