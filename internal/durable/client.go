package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wei840222/pingu-bot/pkg/logging"
)

var tracer = otel.Tracer("pingu.internal.durable")

// ClientConfig identifies where a Client schedules runs.
type ClientConfig struct {
	Namespace string
	TaskQueue string
}

// StartOptions configures a single StartWorkflow call. ID is the idempotency
// key of the run and is required.
type StartOptions struct {
	ID        string
	TaskQueue string
}

// Handle refers to a started (or already existing) run.
type Handle struct {
	RunID     string
	Workflow  string
	Duplicate bool
}

// Client schedules workflow runs: it records the run in the store and then
// enqueues a task for the workers.
type Client struct {
	store  RunStore
	queue  TaskQueue
	cfg    ClientConfig
	logger *logging.Logger
}

func NewClient(store RunStore, queue TaskQueue, cfg ClientConfig, logger *logging.Logger) *Client {
	if store == nil {
		panic("durable: run store cannot be nil")
	}
	if queue == nil {
		panic("durable: task queue cannot be nil")
	}
	if strings.TrimSpace(cfg.TaskQueue) == "" {
		panic("durable: task queue name cannot be empty")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{store: store, queue: queue, cfg: cfg, logger: logger}
}

// StartWorkflow starts workflow with input under opts.ID. A second start with
// the same ID is absorbed and reported through Handle.Duplicate. Store and
// queue failures are wrapped in ErrDispatchUnavailable.
func (c *Client) StartWorkflow(ctx context.Context, opts StartOptions, workflow string, input any) (Handle, error) {
	ctx, span := tracer.Start(ctx, "durable.start_workflow")
	defer span.End()

	runID := strings.TrimSpace(opts.ID)
	if runID == "" {
		return Handle{}, errors.New("durable: workflow id required")
	}
	taskQueue := opts.TaskQueue
	if taskQueue == "" {
		taskQueue = c.cfg.TaskQueue
	}
	if taskQueue != c.cfg.TaskQueue {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownTaskQueue, taskQueue)
	}
	span.SetAttributes(
		attribute.String("durable.run_id", runID),
		attribute.String("durable.workflow", workflow),
		attribute.String("durable.task_queue", taskQueue),
	)

	raw, err := json.Marshal(input)
	if err != nil {
		return Handle{}, fmt.Errorf("durable: encode input: %w", err)
	}
	body, err := encodeTask(taskPayload{
		RunID:     runID,
		Namespace: c.cfg.Namespace,
		Workflow:  workflow,
		TaskQueue: taskQueue,
	})
	if err != nil {
		return Handle{}, err
	}
	handle := Handle{RunID: runID, Workflow: workflow}

	err = c.store.Create(ctx, &RunRecord{
		RunID:     runID,
		Namespace: c.cfg.Namespace,
		Workflow:  workflow,
		TaskQueue: taskQueue,
		Status:    RunStatusPending,
		Input:     raw,
	})
	switch {
	case errors.Is(err, ErrRunExists):
		handle.Duplicate = true
		span.SetAttributes(attribute.Bool("durable.duplicate", true))
		return handle, c.repairPending(ctx, runID, body)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "create run failed")
		return Handle{}, fmt.Errorf("%w: create run %s: %w", ErrDispatchUnavailable, runID, err)
	}

	if err := c.queue.Send(ctx, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if delErr := c.store.Delete(rollbackCtx, runID); delErr != nil {
			c.logger.Error("failed to roll back run after enqueue failure", "error", delErr, "run_id", runID)
		}
		return Handle{}, fmt.Errorf("%w: enqueue run %s: %w", ErrDispatchUnavailable, runID, err)
	}

	c.logger.Debug("workflow run started", "run_id", runID, "workflow", workflow, "task_queue", taskQueue)
	return handle, nil
}

// repairPending re-enqueues the task of a duplicate start whose run never
// left pending, covering an earlier start that lost its task after the
// store write. Workers collapse the extra delivery.
func (c *Client) repairPending(ctx context.Context, runID, body string) error {
	rec, err := c.store.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return nil
		}
		return fmt.Errorf("%w: load run %s: %w", ErrDispatchUnavailable, runID, err)
	}
	if rec.Status != RunStatusPending {
		c.logger.Debug("duplicate workflow start absorbed", "run_id", runID, "status", rec.Status)
		return nil
	}
	if err := c.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("%w: re-enqueue run %s: %w", ErrDispatchUnavailable, runID, err)
	}
	c.logger.Info("duplicate start re-enqueued pending run", "run_id", runID)
	return nil
}

// Describe returns the current record of a run.
func (c *Client) Describe(ctx context.Context, runID string) (*RunRecord, error) {
	return c.store.Get(ctx, runID)
}
