package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/phrazzld/scry-tasks/internal/metrics"
	"github.com/phrazzld/scry-tasks/internal/queue"
)

// DeliveryHandler processes one delivery. *Processor satisfies it.
type DeliveryHandler interface {
	Process(ctx context.Context, d queue.Delivery) error
}

// WorkerPool manages a pool of worker goroutines that process deliveries
// from a queue consumer. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	// consumer provides the stream of deliveries to be processed
	consumer queue.Consumer

	// handler runs each delivery to a terminal state
	handler DeliveryHandler

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// consumeCancel stops the delivery stream
	consumeCancel context.CancelFunc

	// workCtx is passed to in-flight work; it is only cancelled when a
	// graceful stop runs out of time
	workCtx    context.Context
	workCancel context.CancelFunc

	// logger for structured logging
	logger *slog.Logger

	metrics *metrics.Metrics

	// errorHandler is called when a delivery is nacked
	// If nil, errors are only logged
	errorHandler func(d queue.Delivery, err error)

	startOnce sync.Once
	stopOnce  sync.Once
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(
	consumer queue.Consumer,
	handler DeliveryHandler,
	config WorkerPoolConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *WorkerPool {
	// Apply defaults for invalid config values
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	workCtx, workCancel := context.WithCancel(context.Background())

	return &WorkerPool{
		consumer:    consumer,
		handler:     handler,
		workerCount: workerCount,
		workCtx:     workCtx,
		workCancel:  workCancel,
		logger:      logger,
		metrics:     m,
	}
}

// SetErrorHandler allows setting a custom error handler for nacked deliveries
func (p *WorkerPool) SetErrorHandler(handler func(d queue.Delivery, err error)) {
	p.errorHandler = handler
}

// Start begins consuming. Workers run until Stop is called or the consumer
// closes its delivery channel.
func (p *WorkerPool) Start(ctx context.Context) error {
	var err error
	started := false
	p.startOnce.Do(func() {
		started = true
		consumeCtx, cancel := context.WithCancel(ctx)
		p.consumeCancel = cancel

		var deliveries <-chan queue.Delivery
		deliveries, err = p.consumer.Consume(consumeCtx)
		if err != nil {
			cancel()
			err = fmt.Errorf("start consuming: %w", err)
			return
		}

		p.logger.Info("starting worker pool", "worker_count", p.workerCount)
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i, deliveries)
		}
	})
	if !started {
		return errors.New("worker pool already started")
	}
	return err
}

// Stop stops consumption and waits for in-flight deliveries to settle. If
// ctx expires first, in-flight work is cancelled; those deliveries are
// nacked and the tasks are retried by the next consumer.
func (p *WorkerPool) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if p.consumeCancel != nil {
			p.consumeCancel()
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("worker pool stopped")
		case <-ctx.Done():
			p.logger.Warn("worker pool stop timed out, cancelling in-flight work")
			p.workCancel()
			<-done
			err = ctx.Err()
		}
		p.workCancel()
	})
	return err
}

// worker processes deliveries until the channel closes
func (p *WorkerPool) worker(id int, deliveries <-chan queue.Delivery) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)
	defer p.logger.Debug("stopping worker", "worker_id", id)

	for d := range deliveries {
		p.process(id, d)
	}
}

func (p *WorkerPool) process(workerID int, d queue.Delivery) {
	p.metrics.WorkerBusy(1)
	defer p.metrics.WorkerBusy(-1)

	if err := p.safeProcess(d); err != nil {
		if p.errorHandler != nil {
			p.errorHandler(d, err)
			return
		}
		p.logger.Debug("delivery not acknowledged",
			"worker_id", workerID,
			"task_id", d.TaskID(),
			"error", err)
	}
}

// safeProcess converts a handler panic into a nack and an error.
func (p *WorkerPool) safeProcess(d queue.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing delivery",
				"task_id", d.TaskID(),
				"panic", r,
				"stack", string(debug.Stack()))
			_ = d.Nack(context.WithoutCancel(p.workCtx))
			err = fmt.Errorf("panic while processing task %s: %v", d.TaskID(), r)
		}
	}()
	return p.handler.Process(p.workCtx, d)
}
