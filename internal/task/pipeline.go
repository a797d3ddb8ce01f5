package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-tasks/internal/content"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/metrics"
	"github.com/phrazzld/scry-tasks/internal/platform/logger"
	"github.com/phrazzld/scry-tasks/internal/queue"
	"github.com/phrazzld/scry-tasks/internal/redact"
	"github.com/phrazzld/scry-tasks/internal/store"
)

// ErrInvalidSubmission is returned when a submission fails validation before
// anything is persisted.
var ErrInvalidSubmission = errors.New("invalid task submission")

// Submission is a request to run one task.
type Submission struct {
	OwnerID          string
	Type             domain.TaskType
	PayloadRef       string
	ComplexReasoning bool
}

// Pipeline is the submission and status side of the task system. It never
// calls an AI backend; all generation happens in workers.
type Pipeline struct {
	store     store.TaskStore
	publisher queue.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewPipeline creates a Pipeline. m may be nil.
func NewPipeline(taskStore store.TaskStore, publisher queue.Publisher, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:     taskStore,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// Submit validates and persists a PENDING task, then publishes its ID. The
// task is durable before publishing; if publishing fails the submission
// still succeeds and the sweeper publishes the task later.
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	if strings.TrimSpace(sub.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidSubmission)
	}
	if !sub.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown task type %q", ErrInvalidSubmission, sub.Type)
	}
	if _, err := content.ParseRef(sub.PayloadRef); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	t, err := domain.NewTask(sub.OwnerID, sub.Type, sub.PayloadRef, sub.ComplexReasoning)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	if err := p.store.Create(ctx, t); err != nil {
		log.Error("failed to persist task", "task_type", t.Type, "error", redact.Error(err))
		return nil, fmt.Errorf("create task: %w", err)
	}

	log = log.With("task_id", t.ID, "task_type", t.Type)
	if err := p.publisher.Publish(ctx, t.ID); err != nil {
		log.Warn("task persisted but not published, sweeper will retry", "error", redact.Error(err))
	} else {
		log.Info("task submitted")
	}

	p.metrics.TaskSubmitted(string(t.Type))
	return t, nil
}

// GetStatus returns the task if ownerID owns it.
// Returns store.ErrTaskNotFound or store.ErrForbidden.
func (p *Pipeline) GetStatus(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Task, error) {
	return p.store.Get(ctx, id, ownerID)
}
