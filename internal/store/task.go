package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-tasks/internal/domain"
)

// TaskStore is the single writer-of-record for task state. Every mutation is
// a single-record conditional update, so concurrent workers never need a
// lock spanning more than one task.
// Version: 1.0
type TaskStore interface {
	// Create persists a new PENDING task.
	// Returns ErrStoreUnavailable if the backing store cannot be reached.
	Create(ctx context.Context, task *domain.Task) error

	// Claim atomically moves a task from PENDING to PROCESSING and returns it.
	// A PROCESSING task whose last update is older than lease is reclaimed in
	// place (its holder is presumed dead); a zero lease disables reclaiming.
	// Returns ErrTaskNotFound, ErrAlreadyClaimed, or ErrTaskTerminal otherwise.
	Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*domain.Task, error)

	// RecordAttempt increments attempt_count while the task is PROCESSING and
	// below ceiling, refreshing updated_at. Returns the new count, or
	// ErrAttemptCeiling when no attempt remains.
	RecordAttempt(ctx context.Context, id uuid.UUID, ceiling int) (int, error)

	// Complete moves a PROCESSING task to COMPLETED with result.
	// Returns ErrInvalidTransition if the task is not PROCESSING.
	Complete(ctx context.Context, id uuid.UUID, result *domain.Result) error

	// Fail moves a PROCESSING task to FAILED with a sanitized failure.
	// Returns ErrInvalidTransition if the task is not PROCESSING.
	Fail(ctx context.Context, id uuid.UUID, failure domain.TaskFailure) error

	// Get returns the task if ownerID owns it.
	// Returns ErrTaskNotFound or ErrForbidden.
	Get(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Task, error)

	// ListStale returns IDs of tasks in status whose last update is older than
	// olderThan, oldest first, up to limit.
	ListStale(ctx context.Context, status domain.TaskStatus, olderThan time.Duration, limit int) ([]uuid.UUID, error)
}
