package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID      = errors.New("task ID cannot be empty")
	ErrEmptyTaskOwnerID = errors.New("task owner ID cannot be empty")
	ErrEmptyPayloadRef  = errors.New("task payload reference cannot be empty")
)

// Task is one unit of AI generation work tracked through its lifecycle.
//
// Status only moves forward: PENDING, then PROCESSING, then COMPLETED or
// FAILED. Once terminal, exactly one of Result and Failure is set.
type Task struct {
	ID               uuid.UUID    `json:"id"`
	OwnerID          string       `json:"owner_id"`
	Type             TaskType     `json:"task_type"`
	Status           TaskStatus   `json:"status"`
	PayloadRef       string       `json:"payload_ref"`
	ComplexReasoning bool         `json:"complex_reasoning"`
	Result           *Result      `json:"result,omitempty"`
	Failure          *TaskFailure `json:"error,omitempty"`
	AttemptCount     int          `json:"attempt_count"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// NewTask creates a PENDING task with a fresh ID and zero attempts.
// Returns an error if validation fails.
func NewTask(ownerID string, taskType TaskType, payloadRef string, complexReasoning bool) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:               uuid.New(),
		OwnerID:          strings.TrimSpace(ownerID),
		Type:             taskType,
		Status:           TaskStatusPending,
		PayloadRef:       payloadRef,
		ComplexReasoning: complexReasoning,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks field presence and the result/error exclusivity invariant.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if t.OwnerID == "" {
		return ErrEmptyTaskOwnerID
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskType, t.Type)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTaskStatus, t.Status)
	}
	if strings.TrimSpace(t.PayloadRef) == "" {
		return ErrEmptyPayloadRef
	}
	if t.AttemptCount < 0 {
		return fmt.Errorf("%w: negative attempt count", ErrValidation)
	}

	switch t.Status {
	case TaskStatusCompleted:
		if t.Result == nil || t.Failure != nil {
			return fmt.Errorf("%w: completed task must carry a result and no error", ErrValidation)
		}
		return t.Result.Validate()
	case TaskStatusFailed:
		if t.Failure == nil || t.Result != nil {
			return fmt.Errorf("%w: failed task must carry an error and no result", ErrValidation)
		}
	default:
		if t.Result != nil || t.Failure != nil {
			return fmt.Errorf("%w: non-terminal task cannot carry a result or error", ErrValidation)
		}
	}

	return nil
}

// IsTerminal reports whether the task has finished.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Claim moves a PENDING task to PROCESSING.
func (t *Task) Claim(now time.Time) error {
	if err := t.transition(TaskStatusProcessing); err != nil {
		return err
	}
	t.UpdatedAt = now.UTC()
	return nil
}

// RecordAttempt counts one more AI call against ceiling. The count never
// exceeds ceiling; reaching it returns ErrAttemptCeiling without changing
// the task.
func (t *Task) RecordAttempt(ceiling int, now time.Time) error {
	if t.Status != TaskStatusProcessing {
		return fmt.Errorf("%w: attempts are only recorded while processing", ErrInvalidTransition)
	}
	if t.AttemptCount >= ceiling {
		return ErrAttemptCeiling
	}
	t.AttemptCount++
	t.UpdatedAt = now.UTC()
	return nil
}

// Complete moves a PROCESSING task to COMPLETED with result, clearing any error.
func (t *Task) Complete(result *Result, now time.Time) error {
	if err := result.Validate(); err != nil {
		return err
	}
	if err := t.transition(TaskStatusCompleted); err != nil {
		return err
	}
	t.Result = result
	t.Failure = nil
	t.UpdatedAt = now.UTC()
	return nil
}

// Fail moves a PROCESSING task to FAILED with a sanitized failure, clearing any result.
func (t *Task) Fail(failure TaskFailure, now time.Time) error {
	if failure.Code == "" || failure.Message == "" {
		return fmt.Errorf("%w: failure requires a code and message", ErrValidation)
	}
	if err := t.transition(TaskStatusFailed); err != nil {
		return err
	}
	t.Failure = &failure
	t.Result = nil
	t.UpdatedAt = now.UTC()
	return nil
}

func (t *Task) transition(next TaskStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	return nil
}
