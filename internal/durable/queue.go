package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TaskQueue carries workflow tasks from clients to workers. Messages stay
// invisible after Receive until they are deleted, released or their
// visibility timeout lapses.
type TaskQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
	// Release makes a received message visible again for redelivery.
	Release(ctx context.Context, receiptHandle string) error
}

type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type taskPayload struct {
	RunID      string    `json:"run_id"`
	Namespace  string    `json:"namespace"`
	Workflow   string    `json:"workflow"`
	TaskQueue  string    `json:"task_queue"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encodeTask(payload taskPayload) (string, error) {
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("durable: failed to encode task: %w", err)
	}
	return string(body), nil
}

func decodeTask(body string) (taskPayload, error) {
	var payload taskPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return taskPayload{}, fmt.Errorf("durable: failed to decode task: %w", err)
	}
	if payload.RunID == "" {
		return taskPayload{}, fmt.Errorf("durable: task missing run id")
	}
	return payload, nil
}
