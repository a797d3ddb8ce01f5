package task

import (
	"testing"

	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultKindFor_CoversEveryTaskType(t *testing.T) {
	for _, tt := range domain.AllTaskTypes() {
		kind, err := ResultKindFor(tt)
		require.NoError(t, err, tt)
		assert.True(t, kind.Valid(), tt)
	}
}

func TestResultKindFor(t *testing.T) {
	cases := map[domain.TaskType]domain.ResultKind{
		domain.TaskTypeSummary:    domain.ResultKindText,
		domain.TaskTypeChat:       domain.ResultKindText,
		domain.TaskTypeFlashcards: domain.ResultKindQAPairs,
		domain.TaskTypeAssessment: domain.ResultKindMCQ,
		domain.TaskTypeHomework:   domain.ResultKindSteps,
		domain.TaskTypeTutorStep:  domain.ResultKindSteps,
		domain.TaskTypeGlossary:   domain.ResultKindTerms,
		domain.TaskTypeDiagram:    domain.ResultKindDiagram,
	}
	for tt, want := range cases {
		got, err := ResultKindFor(tt)
		require.NoError(t, err)
		assert.Equal(t, want, got, tt)
	}

	_, err := ResultKindFor("poetry")
	assert.ErrorIs(t, err, domain.ErrInvalidTaskType)
}
