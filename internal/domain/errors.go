package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrEmptyContent is returned when required content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidTaskType is returned when a task type is not one of the known types.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a status change would move a task
	// backward or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrInvalidResult is returned when a result does not match its declared kind.
	ErrInvalidResult = errors.New("invalid task result")

	// ErrAttemptCeiling is returned when recording another attempt would exceed
	// the configured ceiling.
	ErrAttemptCeiling = errors.New("attempt ceiling reached")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")
)
