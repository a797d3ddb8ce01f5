package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-tasks/internal/domain"
)

// ErrPollTimeout is returned when a task is still unfinished after the
// poller's timeout.
var ErrPollTimeout = errors.New("timed out waiting for task to finish")

// StatusGetter reads a task on behalf of its owner. *Pipeline satisfies it,
// as does an HTTP client against the status endpoint.
type StatusGetter interface {
	GetStatus(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Task, error)
}

// Poller waits for a task to reach a terminal state by reading its status at
// a fixed interval.
type Poller struct {
	getter   StatusGetter
	interval time.Duration
	timeout  time.Duration
}

// NewPoller creates a Poller. Non-positive values default to a one second
// interval and a five minute timeout.
func NewPoller(getter StatusGetter, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Poller{getter: getter, interval: interval, timeout: timeout}
}

// Wait returns the task once it is COMPLETED or FAILED. On timeout it returns
// the last observed task together with ErrPollTimeout. Read errors end the
// wait immediately.
func (p *Poller) Wait(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last *domain.Task
	for {
		t, err := p.getter.GetStatus(ctx, id, ownerID)
		switch {
		case err == nil:
			last = t
			if t.IsTerminal() {
				return t, nil
			}
		case ctx.Err() != nil:
			// Fall through to the deadline check below.
		default:
			return last, err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return last, ErrPollTimeout
			}
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}
