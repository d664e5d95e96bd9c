package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wei840222/pingu-bot/pkg/logging"
)

const (
	defaultDialAttempts = 5
	defaultDialDelay    = 500 * time.Millisecond
	maxDialDelay        = 8 * time.Second
)

// DialOptions configures DialWithRetry.
type DialOptions struct {
	URL      string
	Attempts int
	Delay    time.Duration
	Logger   *logging.Logger

	dial func(url string) (*amqp.Connection, error)
}

// DialWithRetry connects to RabbitMQ, backing off exponentially between
// attempts so the worker survives a broker that starts after it.
func DialWithRetry(ctx context.Context, opts DialOptions) (*amqp.Connection, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultDialAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultDialDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.dial == nil {
		opts.dial = amqp.Dial
	}

	var lastErr error
	sleep := opts.Delay
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		conn, err := opts.dial(opts.URL)
		if err == nil {
			if attempt > 1 {
				opts.Logger.Info("rabbitmq connected", "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err
		if attempt == opts.Attempts {
			break
		}

		opts.Logger.Warn("rabbitmq dial failed", "attempt", attempt, "sleep", sleep.String(), "error", err)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("bootstrap: rabbitmq dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		sleep = min(sleep*2, maxDialDelay)
	}
	return nil, fmt.Errorf("bootstrap: connect rabbitmq after %d attempts: %w", opts.Attempts, lastErr)
}
