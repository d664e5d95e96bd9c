package messaging

import (
	"context"
	"fmt"

	"github.com/wei840222/pingu-bot/internal/durable"
	"github.com/wei840222/pingu-bot/internal/line"
	"github.com/wei840222/pingu-bot/internal/reply"
	"github.com/wei840222/pingu-bot/pkg/logging"
)

type workflowStarter interface {
	StartWorkflow(ctx context.Context, opts durable.StartOptions, workflow string, input any) (durable.Handle, error)
}

// Dispatcher starts one reply workflow per inbound message event. The
// webhook event ID is the run ID, so redelivered events collapse onto the
// run started by the first delivery.
type Dispatcher struct {
	starter   workflowStarter
	taskQueue string
	logger    *logging.Logger
}

// NewDispatcher creates a dispatcher that starts runs on taskQueue.
func NewDispatcher(starter workflowStarter, taskQueue string, logger *logging.Logger) *Dispatcher {
	if starter == nil {
		panic("messaging: workflow starter cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{starter: starter, taskQueue: taskQueue, logger: logger}
}

// Dispatch registers a reply run for evt. It returns once the run is
// persisted and queued, before the workflow executes.
func (d *Dispatcher) Dispatch(ctx context.Context, evt line.InboundEvent) (durable.Handle, error) {
	handle, err := d.starter.StartWorkflow(ctx, durable.StartOptions{
		ID:        evt.EventID,
		TaskQueue: d.taskQueue,
	}, reply.WorkflowName, reply.WorkflowInput{
		ReplyToken: evt.ReplyToken,
		QuoteToken: evt.QuoteToken,
		Message:    evt.MessageText,
	})
	if err != nil {
		return durable.Handle{}, fmt.Errorf("messaging: dispatch event %s: %w", evt.EventID, err)
	}
	if handle.Duplicate {
		d.logger.Info("duplicate webhook event absorbed", "event_id", evt.EventID)
	}
	return handle, nil
}
