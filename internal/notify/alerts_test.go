package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wei840222/pingu-bot/internal/durable"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []EmailMessage
	err      error
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

func failedRun(id string) durable.RunRecord {
	return durable.RunRecord{
		RunID:        id,
		Workflow:     "HandleTextMessage",
		Status:       durable.RunStatusFailed,
		ActivityName: "ReplyAudioActivity",
		Attempts:     1,
		UpdatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func badRequest() error {
	return fmt.Errorf("reply: %w", &durable.ActivityError{
		Activity:     "ReplyAudioActivity",
		Attempts:     1,
		NonRetryable: true,
		Err:          durable.NewNonRetryableError(durable.KindBadRequest, errors.New("Invalid reply token")),
	})
}

func TestRunFailureAlerterSendsAlert(t *testing.T) {
	sender := &recordingSender{}
	alerter := NewRunFailureAlerter(sender, "ops@example.com", nil)

	alerter.OnRunFailed(context.Background(), failedRun("evt-1"), badRequest())

	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Equal(t, "ops@example.com", msg.To)
	assert.Equal(t, "[pingu-bot] HandleTextMessage failed (BadRequest)", msg.Subject)
	assert.Contains(t, msg.Body, "run evt-1")
	assert.Contains(t, msg.Body, "Activity: ReplyAudioActivity")
	assert.Contains(t, msg.Body, "Invalid reply token")
	assert.Contains(t, msg.Body, "2026-03-01T12:00:00Z")
	assert.NotContains(t, msg.Body, "cooldown")
}

func TestRunFailureAlerterCooldown(t *testing.T) {
	sender := &recordingSender{}
	now := time.Unix(1_700_000_000, 0)
	alerter := NewRunFailureAlerter(sender, "ops@example.com", nil, WithAlertCooldown(time.Minute))
	alerter.now = func() time.Time { return now }

	alerter.OnRunFailed(context.Background(), failedRun("evt-1"), badRequest())
	alerter.OnRunFailed(context.Background(), failedRun("evt-2"), badRequest())
	alerter.OnRunFailed(context.Background(), failedRun("evt-3"), badRequest())
	require.Len(t, sender.messages, 1)

	transient := durable.NewApplicationError(durable.KindTransient, errors.New("503"))
	alerter.OnRunFailed(context.Background(), failedRun("evt-4"), transient)
	require.Len(t, sender.messages, 2, "different error kind is not throttled")

	now = now.Add(2 * time.Minute)
	alerter.OnRunFailed(context.Background(), failedRun("evt-5"), badRequest())
	require.Len(t, sender.messages, 3)
	assert.True(t, strings.Contains(sender.messages[2].Body, "2 similar failure(s)"))
}

func TestRunFailureAlerterUnknownKindAndSendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	alerter := NewRunFailureAlerter(sender, "ops@example.com", nil)

	rec := failedRun("evt-1")
	rec.ErrorMessage = "durable: workflow not registered"
	alerter.OnRunFailed(context.Background(), rec, nil)

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0].Subject, "(Unknown)")
	assert.Contains(t, sender.messages[0].Body, "workflow not registered")
}

func TestNewRunFailureAlerterRequiresSender(t *testing.T) {
	assert.Panics(t, func() { NewRunFailureAlerter(nil, "ops@example.com", nil) })
}
