package domain

import (
	"fmt"
	"strings"
)

// TaskType identifies the kind of generation work a task performs.
type TaskType string

// Known task types. Adding a type requires updating the router policy and
// the worker dispatch table; both switch exhaustively over this set.
const (
	TaskTypeSummary    TaskType = "summary"
	TaskTypeFlashcards TaskType = "flashcards"
	TaskTypeAssessment TaskType = "assessment"
	TaskTypeHomework   TaskType = "homework"
	TaskTypeTutorStep  TaskType = "tutor_step"
	TaskTypeGlossary   TaskType = "glossary"
	TaskTypeDiagram    TaskType = "diagram"
	TaskTypeChat       TaskType = "chat"
)

// AllTaskTypes returns every known task type in a stable order.
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskTypeSummary,
		TaskTypeFlashcards,
		TaskTypeAssessment,
		TaskTypeHomework,
		TaskTypeTutorStep,
		TaskTypeGlossary,
		TaskTypeDiagram,
		TaskTypeChat,
	}
}

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeSummary, TaskTypeFlashcards, TaskTypeAssessment, TaskTypeHomework,
		TaskTypeTutorStep, TaskTypeGlossary, TaskTypeDiagram, TaskTypeChat:
		return true
	default:
		return false
	}
}

func (t TaskType) String() string {
	return string(t)
}

// ParseTaskType converts a user-supplied string into a TaskType.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskType, s)
	}
	return t, nil
}
