package task

import (
	"fmt"

	"github.com/phrazzld/scry-tasks/internal/domain"
)

// ResultKindFor returns the result variant a task type produces.
// Every known task type has exactly one entry.
func ResultKindFor(t domain.TaskType) (domain.ResultKind, error) {
	switch t {
	case domain.TaskTypeSummary, domain.TaskTypeChat:
		return domain.ResultKindText, nil
	case domain.TaskTypeFlashcards:
		return domain.ResultKindQAPairs, nil
	case domain.TaskTypeAssessment:
		return domain.ResultKindMCQ, nil
	case domain.TaskTypeHomework, domain.TaskTypeTutorStep:
		return domain.ResultKindSteps, nil
	case domain.TaskTypeGlossary:
		return domain.ResultKindTerms, nil
	case domain.TaskTypeDiagram:
		return domain.ResultKindDiagram, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidTaskType, t)
	}
}
