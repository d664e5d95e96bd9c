package durable

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMemoryVisibility = 30 * time.Second

// MemoryQueue is a TaskQueue backed by an in-memory buffered channel.
// Received messages that are not deleted within the visibility timeout are
// delivered again.
type MemoryQueue struct {
	ch         chan QueueMessage
	visibility time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightMessage
}

type inflightMessage struct {
	msg   QueueMessage
	timer *time.Timer
}

var _ TaskQueue = (*MemoryQueue)(nil)

// MemoryQueueOption customizes a MemoryQueue.
type MemoryQueueOption func(*MemoryQueue)

// WithVisibilityTimeout sets how long a received message stays hidden.
func WithVisibilityTimeout(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int, opts ...MemoryQueueOption) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	q := &MemoryQueue{
		ch:         make(chan QueueMessage, buffer),
		visibility: defaultMemoryVisibility,
		inflight:   make(map[string]*inflightMessage),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg := QueueMessage{
		ID:   uuid.NewString(),
		Body: body,
	}

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(msg, maxMessages), nil
	}
}

// Delete acknowledges a received message.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entry, ok := q.inflight[receiptHandle]; ok {
		entry.timer.Stop()
		delete(q.inflight, receiptHandle)
	}
	return nil
}

// Release puts a received message back on the queue immediately.
func (q *MemoryQueue) Release(_ context.Context, receiptHandle string) error {
	q.redeliver(receiptHandle)
	return nil
}

// Inflight reports how many received messages are awaiting Delete.
func (q *MemoryQueue) Inflight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) collect(first QueueMessage, max int) []QueueMessage {
	messages := make([]QueueMessage, 0, max)
	messages = append(messages, q.track(first))

	for len(messages) < max {
		select {
		case msg := <-q.ch:
			messages = append(messages, q.track(msg))
		default:
			return messages
		}
	}
	return messages
}

func (q *MemoryQueue) track(msg QueueMessage) QueueMessage {
	msg.ReceiptHandle = uuid.NewString()
	receipt := msg.ReceiptHandle

	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight[receipt] = &inflightMessage{
		msg:   msg,
		timer: time.AfterFunc(q.visibility, func() { q.redeliver(receipt) }),
	}
	return msg
}

func (q *MemoryQueue) redeliver(receiptHandle string) {
	q.mu.Lock()
	entry, ok := q.inflight[receiptHandle]
	if ok {
		entry.timer.Stop()
		delete(q.inflight, receiptHandle)
	}
	q.mu.Unlock()
	if !ok {
		return
	}

	msg := entry.msg
	msg.ReceiptHandle = ""
	select {
	case q.ch <- msg:
	default:
		go func() { q.ch <- msg }()
	}
}
