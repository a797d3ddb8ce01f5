package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/semaphore"

	"github.com/phrazzld/scry-tasks/internal/queue"
	"github.com/phrazzld/scry-tasks/internal/store"
)

// NotifyChannel is the LISTEN/NOTIFY channel the task_queue insert trigger
// signals on.
const NotifyChannel = "scry_task_queue"

// QueueConfig holds configuration for the PostgreSQL queue.
type QueueConfig struct {
	// VisibilityTimeout is how long a delivered, unacknowledged message stays
	// hidden before it is delivered again.
	VisibilityTimeout time.Duration
	// Prefetch bounds outstanding deliveries per consumer.
	Prefetch int
	// PollInterval bounds how long a consumer waits between checks when no
	// notification arrives.
	PollInterval time.Duration
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		VisibilityTimeout: 5 * time.Minute,
		Prefetch:          4,
		PollInterval:      2 * time.Second,
	}
}

// Queue is a durable at-least-once queue stored in the task_queue table.
// Consumers dequeue with FOR UPDATE SKIP LOCKED so concurrent processes never
// receive the same visible message at once. When a pgx pool is supplied the
// queue LISTENs for inserts and wakes idle consumers immediately; otherwise
// it falls back to polling.
type Queue struct {
	db     *sql.DB
	pool   *pgxpool.Pool
	config QueueConfig
	logger *slog.Logger

	wake   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

var _ queue.Transport = (*Queue)(nil)

// NewQueue creates a queue over db. pool may be nil.
func NewQueue(db *sql.DB, pool *pgxpool.Pool, config QueueConfig, logger *slog.Logger) *Queue {
	defaults := DefaultQueueConfig()
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}
	if config.Prefetch <= 0 {
		config.Prefetch = defaults.Prefetch
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		db:     db,
		pool:   pool,
		config: config,
		logger: logger.With("component", "pg_queue"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	if pool != nil {
		q.wg.Add(1)
		go q.listen(ctx)
	}
	return q
}

// Publish inserts a message for taskID. The insert trigger notifies
// listeners. A task already holding a message, delivered or not, is left as
// is: the unique index on task_id turns the insert into a no-op, and an
// in-flight message is redelivered when its visibility timeout lapses.
func (q *Queue) Publish(ctx context.Context, taskID uuid.UUID) error {
	select {
	case <-q.done:
		return queue.ErrClosed
	default:
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO task_queue (task_id, visible_at) VALUES ($1, now())
		ON CONFLICT (task_id) DO NOTHING
	`, taskID)
	if err == nil {
		if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
			q.logger.Debug("task already queued", "task_id", taskID)
			return nil
		}
	}
	if err != nil {
		q.logger.Error("failed to enqueue task", "task_id", taskID, "error", err)
		if IsConnectionError(err) {
			return fmt.Errorf("%w: %v", queue.ErrUnavailable, err)
		}
		return MapError(err)
	}
	q.signal()
	return nil
}

// Consume starts a delivery loop bounded by the prefetch limit.
func (q *Queue) Consume(ctx context.Context) (<-chan queue.Delivery, error) {
	select {
	case <-q.done:
		return nil, queue.ErrClosed
	default:
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

// next blocks until a message can be dequeued.
func (q *Queue) next(ctx context.Context, sem *semaphore.Weighted) (*pgDelivery, error) {
	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		d, err := q.dequeue(ctx)
		switch {
		case err == nil && d != nil:
			d.sem = sem
			return d, nil
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			q.logger.Warn("failed to dequeue task", "error", err)
		}

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

// dequeue locks the oldest visible message, hides it for the visibility
// timeout, and returns it. It returns nil, nil when nothing is visible.
func (q *Queue) dequeue(ctx context.Context) (*pgDelivery, error) {
	var d *pgDelivery
	err := store.RunInTransaction(ctx, q.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var (
			id         int64
			taskID     uuid.UUID
			deliveries int
		)
		err := tx.QueryRowContext(ctx, `
			SELECT id, task_id, deliveries
			FROM task_queue
			WHERE visible_at <= now()
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`).Scan(&id, &taskID, &deliveries)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return MapError(err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE task_queue
			SET deliveries = deliveries + 1,
			    visible_at = now() + make_interval(secs => $2)
			WHERE id = $1
		`, id, q.config.VisibilityTimeout.Seconds())
		if err != nil {
			return MapError(err)
		}

		d = &pgDelivery{q: q, id: id, taskID: taskID, attempt: deliveries + 1}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Len reports how many messages are held, delivered or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM task_queue`).Scan(&n); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

// Close stops the listener and all consumers. It does not close db or pool.
func (q *Queue) Close() error {
	q.once.Do(func() {
		close(q.done)
		q.cancel()
		q.wg.Wait()
		q.logger.Info("task queue closed")
	})
	return nil
}

// listen holds a pooled connection in LISTEN and wakes consumers on every
// notification. Connection loss is retried until the queue closes.
func (q *Queue) listen(ctx context.Context) {
	defer q.wg.Done()

	for ctx.Err() == nil {
		if err := q.listenOnce(ctx); err != nil && ctx.Err() == nil {
			q.logger.Warn("queue listener disconnected, retrying", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(q.config.PollInterval):
			}
		}
	}
}

func (q *Queue) listenOnce(ctx context.Context) error {
	conn, err := q.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", NotifyChannel, err)
	}
	q.logger.Debug("queue listener started", "channel", NotifyChannel)

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return err
		}
		q.signal()
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type pgDelivery struct {
	q       *Queue
	id      int64
	taskID  uuid.UUID
	attempt int
	sem     *semaphore.Weighted
	once    sync.Once
}

func (d *pgDelivery) TaskID() uuid.UUID { return d.taskID }

func (d *pgDelivery) Attempt() int { return d.attempt }

// Ack deletes the message.
func (d *pgDelivery) Ack(ctx context.Context) error {
	return d.settle(func() error {
		_, err := d.q.db.ExecContext(ctx, `DELETE FROM task_queue WHERE id = $1`, d.id)
		return err
	})
}

// Nack makes the message visible again, unless a later delivery already
// owns it after the visibility timeout expired.
func (d *pgDelivery) Nack(ctx context.Context) error {
	err := d.settle(func() error {
		_, err := d.q.db.ExecContext(ctx,
			`UPDATE task_queue SET visible_at = now() WHERE id = $1 AND deliveries = $2`,
			d.id, d.attempt)
		return err
	})
	if err == nil {
		d.q.signal()
	}
	return err
}

func (d *pgDelivery) settle(fn func() error) error {
	var err error
	d.once.Do(func() {
		defer func() {
			if d.sem != nil {
				d.sem.Release(1)
			}
		}()
		if execErr := fn(); execErr != nil {
			err = MapError(execErr)
		}
	})
	return err
}
