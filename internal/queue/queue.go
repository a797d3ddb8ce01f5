// Package queue defines the transport contract between the submission path
// and the worker pool. Messages carry only a task ID; the task store stays
// authoritative for everything else.
//
// Delivery is at-least-once. A message is removed only when the consumer
// calls Ack, which the worker does after the task's terminal state has been
// written. Unacknowledged messages are redelivered after the visibility
// timeout or immediately after Nack.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrClosed is returned when publishing to or consuming from a closed transport.
var ErrClosed = errors.New("queue: transport closed")

// ErrUnavailable is returned when the broker cannot be reached.
var ErrUnavailable = errors.New("queue: transport unavailable")

// Delivery is one received message.
type Delivery interface {
	// TaskID is the referenced task.
	TaskID() uuid.UUID
	// Attempt is how many times this message has been delivered, starting at 1.
	Attempt() int
	// Ack removes the message permanently.
	Ack(ctx context.Context) error
	// Nack releases the message for redelivery.
	Nack(ctx context.Context) error
}

// Publisher enqueues task references.
type Publisher interface {
	Publish(ctx context.Context, taskID uuid.UUID) error
}

// Consumer streams deliveries until ctx is cancelled. The returned channel is
// closed when consumption stops. At most the transport's prefetch limit of
// deliveries are outstanding (received but neither acked nor nacked) at once.
type Consumer interface {
	Consume(ctx context.Context) (<-chan Delivery, error)
}

// Transport is a publisher and consumer over the same queue.
type Transport interface {
	Publisher
	Consumer
	Close() error
}
