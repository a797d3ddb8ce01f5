package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/platform/memory"
	"github.com/phrazzld/scry-tasks/internal/store"
)

// unavailableStore fails every write.
type unavailableStore struct {
	*memory.TaskStore
}

func (unavailableStore) Create(context.Context, *domain.Task) error {
	return store.ErrStoreUnavailable
}

func TestPipeline_Submit(t *testing.T) {
	ctx := context.Background()
	s := memory.NewTaskStore()
	pub := &recordingPublisher{}
	p := NewPipeline(s, pub, setupTestLogger(), nil)

	task, err := p.Submit(ctx, Submission{
		OwnerID:          "user-1",
		Type:             domain.TaskTypeAssessment,
		PayloadRef:       "doc:42",
		ComplexReasoning: true,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Zero(t, task.AttemptCount)
	assert.True(t, task.ComplexReasoning)
	assert.Equal(t, []uuid.UUID{task.ID}, pub.ids())

	stored, err := p.GetStatus(ctx, task.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.Nil(t, stored.Result)
	assert.Nil(t, stored.Failure)
}

func TestPipeline_SubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
	}{
		{"missing owner", Submission{Type: domain.TaskTypeSummary, PayloadRef: "doc:1"}},
		{"unknown type", Submission{OwnerID: "u", Type: "poem", PayloadRef: "doc:1"}},
		{"empty ref", Submission{OwnerID: "u", Type: domain.TaskTypeSummary}},
		{"unknown scheme", Submission{OwnerID: "u", Type: domain.TaskTypeSummary, PayloadRef: "ftp:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			p := NewPipeline(memory.NewTaskStore(), pub, setupTestLogger(), nil)

			_, err := p.Submit(context.Background(), tt.sub)
			assert.ErrorIs(t, err, ErrInvalidSubmission)
			assert.Empty(t, pub.ids())
		})
	}
}

func TestPipeline_SubmitStoreUnavailable(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewPipeline(unavailableStore{memory.NewTaskStore()}, pub, setupTestLogger(), nil)

	_, err := p.Submit(context.Background(), Submission{OwnerID: "u", Type: domain.TaskTypeSummary, PayloadRef: "doc:1"})
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	assert.Empty(t, pub.ids(), "nothing is published for a task that was not persisted")
}

func TestPipeline_SubmitPublishFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	s := memory.NewTaskStore()
	pub := &recordingPublisher{err: errors.New("broker down")}
	p := NewPipeline(s, pub, setupTestLogger(), nil)

	task, err := p.Submit(ctx, Submission{OwnerID: "u", Type: domain.TaskTypeGlossary, PayloadRef: "doc:1"})
	require.NoError(t, err)

	// The sweeper picks the task up once it is stale.
	s.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	retry := &recordingPublisher{}
	sweeper := NewSweeper(s, retry, SweeperConfig{StaleAfter: time.Minute}, setupTestLogger(), nil)
	assert.Equal(t, 1, sweeper.Sweep(ctx))
	assert.Equal(t, []uuid.UUID{task.ID}, retry.ids())
}

func TestPipeline_GetStatusOwnership(t *testing.T) {
	ctx := context.Background()
	p := NewPipeline(memory.NewTaskStore(), &recordingPublisher{}, setupTestLogger(), nil)

	task, err := p.Submit(ctx, Submission{OwnerID: "owner", Type: domain.TaskTypeSummary, PayloadRef: "doc:1"})
	require.NoError(t, err)

	_, err = p.GetStatus(ctx, task.ID, "someone-else")
	assert.ErrorIs(t, err, store.ErrForbidden)

	_, err = p.GetStatus(ctx, uuid.New(), "owner")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}
