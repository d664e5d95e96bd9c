package durable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpPollInterval = 200 * time.Millisecond

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
	Close() error
}

// AMQPQueue implements TaskQueue on a durable RabbitMQ queue. Deliveries are
// fetched with basic.get and acknowledged on Delete; unacknowledged
// deliveries return to the queue when the channel closes.
type AMQPQueue struct {
	mu    sync.Mutex
	ch    amqpChannel
	queue string
}

var _ TaskQueue = (*AMQPQueue)(nil)

// NewAMQPQueue opens a channel on conn and declares the named durable queue.
func NewAMQPQueue(conn *amqp.Connection, queue string) (*AMQPQueue, error) {
	if conn == nil {
		panic("durable: amqp connection cannot be nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("durable: open amqp channel: %w", err)
	}
	q, err := newAMQPQueueWithChannel(ch, queue)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return q, nil
}

func newAMQPQueueWithChannel(ch amqpChannel, queue string) (*AMQPQueue, error) {
	if queue == "" {
		panic("durable: amqp queue name cannot be empty")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("durable: declare amqp queue %s: %w", queue, err)
	}
	return &AMQPQueue{ch: ch, queue: queue}, nil
}

func (q *AMQPQueue) Send(ctx context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         []byte(body),
	})
	if err != nil {
		return fmt.Errorf("durable: failed to publish amqp message: %w", err)
	}
	return nil
}

// Receive polls the queue until at least one delivery arrives, ctx is done,
// or waitSeconds elapses.
func (q *AMQPQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)

	for {
		messages, err := q.drain(maxMessages)
		if err != nil || len(messages) > 0 {
			return messages, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}

		timer := time.NewTimer(amqpPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *AMQPQueue) drain(max int) ([]QueueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var messages []QueueMessage
	for len(messages) < max {
		delivery, ok, err := q.ch.Get(q.queue, false)
		if err != nil {
			return messages, fmt.Errorf("durable: failed to get amqp message: %w", err)
		}
		if !ok {
			break
		}
		messages = append(messages, QueueMessage{
			ID:            delivery.MessageId,
			Body:          string(delivery.Body),
			ReceiptHandle: strconv.FormatUint(delivery.DeliveryTag, 10),
		})
	}
	return messages, nil
}

func (q *AMQPQueue) Delete(_ context.Context, receiptHandle string) error {
	tag, err := parseDeliveryTag(receiptHandle)
	if err != nil || tag == 0 {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.Ack(tag, false); err != nil {
		return fmt.Errorf("durable: failed to ack amqp message: %w", err)
	}
	return nil
}

// Release negatively acknowledges the delivery with requeue.
func (q *AMQPQueue) Release(_ context.Context, receiptHandle string) error {
	tag, err := parseDeliveryTag(receiptHandle)
	if err != nil || tag == 0 {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.Nack(tag, false, true); err != nil {
		return fmt.Errorf("durable: failed to nack amqp message: %w", err)
	}
	return nil
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ch.Close()
}

func parseDeliveryTag(receiptHandle string) (uint64, error) {
	if receiptHandle == "" {
		return 0, nil
	}
	tag, err := strconv.ParseUint(receiptHandle, 10, 64)
	if err != nil {
		return 0, errors.New("durable: invalid amqp receipt handle " + strconv.Quote(receiptHandle))
	}
	return tag, nil
}
