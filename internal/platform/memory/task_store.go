package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/store"
)

// TaskStore is a mutex-guarded map of tasks. Callers always receive copies,
// so a returned task never changes underneath them.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task
	now   func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]*domain.Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store's time source. Intended for tests.
func (s *TaskStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create stores a copy of t.
func (s *TaskStore) Create(_ context.Context, t *domain.Task) error {
	if err := t.Validate(); err != nil {
		return errors.Join(store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return store.ErrDuplicate
	}
	s.tasks[t.ID] = cloneTask(t)
	return nil
}

// Claim moves a PENDING task, or a PROCESSING task idle for longer than
// lease, into PROCESSING.
func (s *TaskStore) Claim(_ context.Context, id uuid.UUID, lease time.Duration) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	now := s.now()
	switch {
	case t.Status == domain.TaskStatusPending:
		if err := t.Claim(now); err != nil {
			return nil, err
		}
	case t.Status == domain.TaskStatusProcessing:
		if lease <= 0 || now.Sub(t.UpdatedAt) < lease {
			return nil, store.ErrAlreadyClaimed
		}
		t.UpdatedAt = now
	default:
		return nil, store.ErrTaskTerminal
	}

	return cloneTask(t), nil
}

// RecordAttempt increments the attempt count while below ceiling.
func (s *TaskStore) RecordAttempt(_ context.Context, id uuid.UUID, ceiling int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return 0, store.ErrTaskNotFound
	}
	if err := t.RecordAttempt(ceiling, s.now()); err != nil {
		if errors.Is(err, domain.ErrAttemptCeiling) {
			return t.AttemptCount, store.ErrAttemptCeiling
		}
		return t.AttemptCount, store.ErrInvalidTransition
	}
	return t.AttemptCount, nil
}

// Complete records result on a PROCESSING task.
func (s *TaskStore) Complete(_ context.Context, id uuid.UUID, result *domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return store.ErrInvalidTransition
	}
	if err := t.Complete(result, s.now()); err != nil {
		return errors.Join(store.ErrInvalidEntity, err)
	}
	return nil
}

// Fail records failure on a PROCESSING task.
func (s *TaskStore) Fail(_ context.Context, id uuid.UUID, failure domain.TaskFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusProcessing {
		return store.ErrInvalidTransition
	}
	if err := t.Fail(failure, s.now()); err != nil {
		return errors.Join(store.ErrInvalidEntity, err)
	}
	return nil
}

// Get returns a copy of the task if ownerID owns it.
func (s *TaskStore) Get(_ context.Context, id uuid.UUID, ownerID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.OwnerID != ownerID {
		return nil, store.ErrForbidden
	}
	return cloneTask(t), nil
}

// ListStale returns IDs of tasks in status not updated within olderThan.
func (s *TaskStore) ListStale(_ context.Context, status domain.TaskStatus, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	var stale []*domain.Task
	for _, t := range s.tasks {
		if t.Status == status && t.UpdatedAt.Before(cutoff) {
			stale = append(stale, t)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})

	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]uuid.UUID, len(stale))
	for i, t := range stale {
		ids[i] = t.ID
	}
	return ids, nil
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.Failure != nil {
		f := *t.Failure
		c.Failure = &f
	}
	return &c
}
