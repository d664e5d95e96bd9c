package reply

import (
	"fmt"
	"time"

	"github.com/wei840222/pingu-bot/internal/durable"
)

// WorkflowName is the registered name of the reply workflow.
const WorkflowName = "HandleTextMessage"

// WorkflowInput is the durable input of one reply run.
type WorkflowInput struct {
	ReplyToken string `json:"replyToken"`
	QuoteToken string `json:"quoteToken,omitempty"`
	Message    string `json:"message"`
}

// RetryConfig tunes the reply activity contract.
type RetryConfig struct {
	ActivityTimeout time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// ActivityOptions returns the options every reply activity runs under.
// BadRequest failures are never retried.
func (c RetryConfig) ActivityOptions() durable.ActivityOptions {
	timeout := c.ActivityTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	initial := c.InitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	interval := c.MaxInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return durable.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: durable.RetryPolicy{
			InitialInterval:        initial,
			BackoffCoefficient:     2,
			MaximumInterval:        interval,
			MaximumAttempts:        attempts,
			NonRetryableErrorKinds: []string{durable.KindBadRequest},
		},
	}
}

// Workflow selects a reply for a text message and sends it through exactly
// one activity.
type Workflow struct {
	selector   *Selector
	activities *Activities
	options    durable.ActivityOptions
}

func NewWorkflow(selector *Selector, activities *Activities, retry RetryConfig) *Workflow {
	if selector == nil {
		panic("reply: selector cannot be nil")
	}
	if activities == nil {
		panic("reply: activities cannot be nil")
	}
	return &Workflow{
		selector:   selector,
		activities: activities,
		options:    retry.ActivityOptions(),
	}
}

// Register makes the workflow executable by worker.
func (w *Workflow) Register(worker *durable.Worker) {
	durable.RegisterWorkflow(worker, WorkflowName, w.Run)
}

// Run reports whether a reply was sent. The selected action is recorded in
// the run log so a resumed run sends the same reply.
func (w *Workflow) Run(ctx *durable.Context, in WorkflowInput) (bool, error) {
	d, err := durable.SideEffect(ctx, "SelectReply", func() (decision, error) {
		return toDecision(w.selector.Select(in.Message)), nil
	})
	if err != nil {
		return false, err
	}

	logger := ctx.Logger()
	switch action := d.action().(type) {
	case AudioReply:
		_, err = durable.ExecuteActivity(ctx, ReplyAudioActivityName, w.activities.ReplyAudio, ReplyAudioParams{
			ReplyToken: in.ReplyToken,
			ContentURL: action.ContentURL,
			DurationMs: action.DurationMs,
		}, w.options)
	case QuickReply:
		_, err = durable.ExecuteActivity(ctx, ReplyQuickReplyActivityName, w.activities.ReplyQuickReply, ReplyQuickReplyParams{
			ReplyToken: in.ReplyToken,
			QuoteToken: in.QuoteToken,
			Prompt:     action.Prompt,
			Options:    action.Options,
		}, w.options)
	case TextReply:
		_, err = durable.ExecuteActivity(ctx, ReplyTextActivityName, w.activities.ReplyText, ReplyTextParams{
			ReplyToken: in.ReplyToken,
			QuoteToken: in.QuoteToken,
			Text:       action.Text,
		}, w.options)
	default:
		logger.Info("no reply rule matched", "message", in.Message)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reply: %w", err)
	}
	return true, nil
}
