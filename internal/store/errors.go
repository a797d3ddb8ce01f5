package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation fails, for example
	// because the entity is not in the state the update requires.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a database transaction fails to commit.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	// Callers on the submission path must not publish anything after seeing it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrForbidden is returned when a record exists but belongs to another owner.
	ErrForbidden = errors.New("access to entity forbidden")

	// Task-specific errors

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrAlreadyClaimed indicates another delivery already moved the task out of PENDING.
	// It is an idempotency signal, not a failure.
	ErrAlreadyClaimed = errors.New("task already claimed")

	// ErrTaskTerminal indicates the task already reached COMPLETED or FAILED.
	// It wraps ErrAlreadyClaimed so callers treating both the same can check once.
	ErrTaskTerminal = fmt.Errorf("%w: task is terminal", ErrAlreadyClaimed)

	// ErrInvalidTransition indicates a conditional update found the task in a
	// state the transition does not start from.
	ErrInvalidTransition = fmt.Errorf("%w: invalid task status transition", ErrUpdateFailed)

	// ErrAttemptCeiling indicates the task has already used every allowed attempt.
	ErrAttemptCeiling = errors.New("task attempt ceiling reached")
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "task")
	Operation string // The operation that failed (e.g., "claim", "complete")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s operation on %s failed: %s: %v", e.Operation, e.Entity, e.Message, e.Err)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
