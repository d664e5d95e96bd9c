package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wei840222/pingu-bot/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	defaultLeaseTTL      = time.Minute
	defaultLeaseBackoff  = 2 * time.Second
)

// Observer receives execution telemetry.
type Observer interface {
	ObserveActivityAttempt(activity, outcome string)
	ObserveRunFinished(workflow, status string)
}

// FailureHandler is notified once a run has failed terminally.
type FailureHandler interface {
	OnRunFailed(ctx context.Context, rec RunRecord, err error)
}

type workflowFunc func(ctx *Context, input json.RawMessage) (json.RawMessage, error)

// Worker consumes workflow tasks from the queue and executes registered workflows.
type Worker struct {
	store     RunStore
	queue     TaskQueue
	taskQueue string
	logger    *logging.Logger

	mu        sync.RWMutex
	workflows map[string]workflowFunc

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	leaseTTL         time.Duration
	leaseBackoff     time.Duration
	lease            Lease
	observer         Observer
	failures         FailureHandler
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithLease replaces the in-process run lease, e.g. with a RedisLease shared
// across worker processes.
func WithLease(lease Lease, ttl time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if lease != nil {
			cfg.lease = lease
		}
		if ttl > 0 {
			cfg.leaseTTL = ttl
		}
	}
}

// WithLeaseBackoff sets how long a task whose run is leased elsewhere waits
// before it is returned to the queue.
func WithLeaseBackoff(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.leaseBackoff = d
		}
	}
}

// WithObserver wires execution telemetry.
func WithObserver(observer Observer) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.observer = observer
	}
}

// WithFailureHandler wires a hook for terminally failed runs.
func WithFailureHandler(handler FailureHandler) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.failures = handler
	}
}

// NewWorker constructs a consumer of taskQueue.
func NewWorker(store RunStore, queue TaskQueue, taskQueue string, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if store == nil {
		panic("durable: run store cannot be nil")
	}
	if queue == nil {
		panic("durable: task queue cannot be nil")
	}
	if taskQueue == "" {
		panic("durable: task queue name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		leaseTTL:         defaultLeaseTTL,
		leaseBackoff:     defaultLeaseBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.lease == nil {
		cfg.lease = NewMemoryLease()
	}

	return &Worker{
		store:     store,
		queue:     queue,
		taskQueue: taskQueue,
		logger:    logger,
		workflows: make(map[string]workflowFunc),
		cfg:       cfg,
	}
}

// RegisterWorkflow makes fn executable by w under name. Registering the same
// name twice panics.
func RegisterWorkflow[In, Out any](w *Worker, name string, fn func(*Context, In) (Out, error)) {
	if fn == nil {
		panic("durable: workflow function cannot be nil")
	}
	w.register(name, func(ctx *Context, raw json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, NewNonRetryableError(KindInvalidInput, err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			return nil, NewNonRetryableError(KindInvalidInput, err)
		}
		return encoded, nil
	})
}

func (w *Worker) register(name string, fn workflowFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.workflows[name]; ok {
		panic("durable: workflow already registered: " + name)
	}
	w.workflows[name] = fn
}

func (w *Worker) workflow(name string) (workflowFunc, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	fn, ok := w.workflows[name]
	return fn, ok
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// RunOnce performs a single receive and handles every task it returned.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
	if err != nil {
		return 0, err
	}
	w.handleBatch(ctx, messages)
	return len(messages), nil
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("durable worker started", "worker_id", workerID, "task_queue", w.taskQueue)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("durable worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive workflow tasks", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		w.handleBatch(ctx, messages)
	}
}

func (w *Worker) handleBatch(ctx context.Context, messages []QueueMessage) {
	for i, msg := range messages {
		if ctx.Err() != nil {
			for _, rest := range messages[i:] {
				w.releaseMessage(rest.ReceiptHandle)
			}
			return
		}
		w.handleMessage(ctx, msg)
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	task, err := decodeTask(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable workflow task", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}
	logger := w.logger.With("run_id", task.RunID, "workflow", task.Workflow)
	if task.TaskQueue != "" && task.TaskQueue != w.taskQueue {
		logger.Error("dropping task for another task queue", "task_queue", task.TaskQueue)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	execCtx := context.WithoutCancel(ctx)
	leaseKey := task.Namespace + ":" + task.RunID
	token, ok, err := w.cfg.lease.Acquire(execCtx, leaseKey, w.cfg.leaseTTL)
	if err != nil {
		logger.Error("failed to acquire run lease", "error", err)
		return
	}
	if !ok {
		// The holder may have crashed; its lease outlives the message
		// visibility, so the task must survive until the lease lapses.
		logger.Info("run leased by another worker; returning task to queue", "backoff", w.cfg.leaseBackoff)
		w.releaseMessageAfter(msg.ReceiptHandle, w.cfg.leaseBackoff)
		return
	}

	outcome := w.process(ctx, execCtx, task, logger)
	if err := w.cfg.lease.Release(execCtx, leaseKey, token); err != nil {
		logger.Warn("failed to release run lease", "error", err)
	}

	switch outcome {
	case outcomeDone:
		w.deleteMessage(msg.ReceiptHandle)
	case outcomeInterrupted:
		w.releaseMessage(msg.ReceiptHandle)
	}
}

// process loads the run behind task and executes it while the caller holds
// the run lease.
func (w *Worker) process(ctx, execCtx context.Context, task taskPayload, logger *logging.Logger) taskOutcome {
	rec, err := w.store.Get(execCtx, task.RunID)
	switch {
	case errors.Is(err, ErrRunNotFound):
		logger.Warn("dropping task for unknown run")
		return outcomeDone
	case err != nil:
		logger.Error("failed to load run", "error", err)
		return outcomeRetryLater
	}
	if rec.Status.Terminal() {
		logger.Info("run already finished; skipping task", "status", rec.Status)
		return outcomeDone
	}
	return w.execute(ctx, execCtx, rec, logger)
}

// taskOutcome tells handleMessage what to do with the queue message. On
// outcomeRetryLater the message is left alone until its visibility lapses.
type taskOutcome int

const (
	outcomeDone taskOutcome = iota
	outcomeRetryLater
	outcomeInterrupted
)

// execute runs the workflow of rec from its last checkpoint.
func (w *Worker) execute(ctx, execCtx context.Context, rec *RunRecord, logger *logging.Logger) taskOutcome {
	execCtx, span := tracer.Start(execCtx, "durable.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("durable.run_id", rec.RunID),
		attribute.String("durable.workflow", rec.Workflow),
		attribute.Int("durable.resume_step", len(rec.Results)),
	)

	fn, ok := w.workflow(rec.Workflow)
	if !ok {
		return w.finish(execCtx, rec, nil, fmt.Errorf("durable: workflow %q is not registered", rec.Workflow), logger)
	}

	resumed := rec.Status == RunStatusRunning
	rec.Status = RunStatusRunning
	if err := w.store.Save(execCtx, rec); err != nil {
		logger.Error("failed to mark run running", "error", err)
		return outcomeRetryLater
	}
	logger.Info("executing workflow run", "resumed", resumed, "completed_steps", len(rec.Results))

	wctx := &Context{
		ctx:      execCtx,
		stop:     ctx.Done(),
		run:      rec,
		store:    w.store,
		logger:   logger,
		observer: w.cfg.observer,
	}
	out, err := fn(wctx, rec.Input)
	if errors.Is(err, ErrWorkerStopping) {
		span.SetAttributes(attribute.Bool("durable.interrupted", true))
		logger.Warn("workflow run interrupted by shutdown; releasing task", "step", rec.Step, "attempts", rec.Attempts)
		return outcomeInterrupted
	}
	var cpErr *checkpointError
	if errors.As(err, &cpErr) {
		span.RecordError(err)
		logger.Error("workflow checkpoint failed; task will be redelivered", "error", err, "step", rec.Step, "attempts", rec.Attempts)
		return outcomeRetryLater
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "workflow failed")
	}
	return w.finish(execCtx, rec, out, err, logger)
}

func (w *Worker) finish(ctx context.Context, rec *RunRecord, out json.RawMessage, runErr error, logger *logging.Logger) taskOutcome {
	if runErr != nil {
		rec.Status = RunStatusFailed
		rec.ErrorMessage = runErr.Error()
	} else {
		rec.Status = RunStatusCompleted
		rec.Output = out
		rec.ErrorMessage = ""
	}
	if err := w.store.Save(ctx, rec); err != nil {
		logger.Error("failed to persist run outcome", "error", err, "status", rec.Status)
		return outcomeRetryLater
	}
	if w.cfg.observer != nil {
		w.cfg.observer.ObserveRunFinished(rec.Workflow, string(rec.Status))
	}

	if runErr != nil {
		logger.Error("workflow run failed", "error", runErr, "activity", rec.ActivityName, "attempts", rec.Attempts)
		if w.cfg.failures != nil {
			w.cfg.failures.OnRunFailed(ctx, *rec, runErr)
		}
		return outcomeDone
	}
	logger.Info("workflow run completed", "output", string(out))
	return outcomeDone
}

func (w *Worker) deleteMessage(receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete workflow task", "error", err)
	}
}

func (w *Worker) releaseMessageAfter(receiptHandle string, delay time.Duration) {
	if receiptHandle == "" {
		return
	}
	time.AfterFunc(delay, func() { w.releaseMessage(receiptHandle) })
}

func (w *Worker) releaseMessage(receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Release(ctx, receiptHandle); err != nil {
		w.logger.Warn("failed to release workflow task", "error", err)
	}
}
