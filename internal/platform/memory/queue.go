package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-tasks/internal/queue"
	"golang.org/x/sync/semaphore"
)

// ErrQueueFull is returned when the buffer holds as many messages as its capacity.
var ErrQueueFull = errors.New("task queue is full")

// QueueConfig holds configuration for the in-memory queue.
type QueueConfig struct {
	// Capacity bounds messages held, delivered or not.
	Capacity int
	// VisibilityTimeout is how long a delivered, unacknowledged message stays
	// hidden before it is delivered again.
	VisibilityTimeout time.Duration
	// Prefetch bounds outstanding deliveries per consumer.
	Prefetch int
	// PollInterval bounds how long a consumer sleeps before rechecking for
	// messages whose visibility timeout has expired.
	PollInterval time.Duration
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Capacity:          1000,
		VisibilityTimeout: 5 * time.Minute,
		Prefetch:          4,
		PollInterval:      time.Second,
	}
}

type message struct {
	taskID     uuid.UUID
	deliveries int
	visibleAt  time.Time
}

// Queue is an at-least-once in-process queue with manual acknowledgement.
type Queue struct {
	mu       sync.Mutex
	messages []*message
	held     map[uuid.UUID]struct{}
	closed   bool
	wake     chan struct{}
	done     chan struct{}
	config   QueueConfig
	logger   *slog.Logger
	now      func() time.Time
}

var _ queue.Transport = (*Queue)(nil)

// NewQueue creates a queue. Non-positive config values fall back to defaults.
func NewQueue(config QueueConfig, logger *slog.Logger) *Queue {
	defaults := DefaultQueueConfig()
	if config.Capacity <= 0 {
		config.Capacity = defaults.Capacity
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}
	if config.Prefetch <= 0 {
		config.Prefetch = defaults.Prefetch
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}

	return &Queue{
		held:   make(map[uuid.UUID]struct{}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Publish appends a reference to the queue. A task that already holds a
// message, delivered or not, is left as is; an in-flight message comes back
// when its visibility timeout lapses.
func (q *Queue) Publish(_ context.Context, taskID uuid.UUID) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return queue.ErrClosed
	}
	if _, ok := q.held[taskID]; ok {
		q.mu.Unlock()
		q.logger.Debug("task already queued", "task_id", taskID)
		return nil
	}
	if len(q.messages) >= q.config.Capacity {
		q.mu.Unlock()
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, q.config.Capacity)
	}
	q.messages = append(q.messages, &message{taskID: taskID, visibleAt: q.now()})
	q.held[taskID] = struct{}{}
	depth := len(q.messages)
	q.mu.Unlock()

	q.logger.Debug("task enqueued", "task_id", taskID, "queue_len", depth, "queue_cap", q.config.Capacity)
	q.signal()
	return nil
}

// Consume starts a delivery loop bounded by the prefetch limit.
func (q *Queue) Consume(ctx context.Context) (<-chan queue.Delivery, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, queue.ErrClosed
	}

	out := make(chan queue.Delivery)
	sem := semaphore.NewWeighted(int64(q.config.Prefetch))

	go func() {
		defer close(out)
		for {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}

			d, err := q.next(ctx, sem)
			if err != nil {
				sem.Release(1)
				return
			}

			select {
			case out <- d:
			case <-ctx.Done():
				_ = d.Nack(context.Background())
				return
			}
		}
	}()

	return out, nil
}

// next blocks until a message is visible, then marks it delivered.
func (q *Queue) next(ctx context.Context, sem *semaphore.Weighted) (*delivery, error) {
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, queue.ErrClosed
		}
		now := q.now()
		for _, m := range q.messages {
			if !m.visibleAt.After(now) {
				m.deliveries++
				m.visibleAt = now.Add(q.config.VisibilityTimeout)
				d := &delivery{q: q, msg: m, attempt: m.deliveries, sem: sem}
				q.mu.Unlock()
				return d, nil
			}
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, queue.ErrClosed
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// Len reports how many messages are held, delivered or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Close stops all consumers and rejects further publishes.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.logger.Info("task queue closed")
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) remove(m *message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, candidate := range q.messages {
		if candidate == m {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			delete(q.held, m.taskID)
			return
		}
	}
}

func (q *Queue) release(m *message, attempt int) {
	q.mu.Lock()
	// A message redelivered after its visibility timeout belongs to the newer delivery.
	if m.deliveries == attempt {
		m.visibleAt = q.now()
	}
	q.mu.Unlock()
	q.signal()
}

type delivery struct {
	q       *Queue
	msg     *message
	attempt int
	sem     *semaphore.Weighted
	once    sync.Once
}

func (d *delivery) TaskID() uuid.UUID { return d.msg.taskID }

func (d *delivery) Attempt() int { return d.attempt }

func (d *delivery) Ack(_ context.Context) error {
	d.settle(func() { d.q.remove(d.msg) })
	return nil
}

func (d *delivery) Nack(_ context.Context) error {
	d.settle(func() { d.q.release(d.msg, d.attempt) })
	return nil
}

func (d *delivery) settle(fn func()) {
	d.once.Do(func() {
		fn()
		d.sem.Release(1)
	})
}
