package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHierarchy(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"task not found is not found", ErrTaskNotFound, ErrNotFound, true},
		{"wrapped task not found", fmt.Errorf("get: %w", ErrTaskNotFound), ErrNotFound, true},
		{"terminal is already claimed", ErrTaskTerminal, ErrAlreadyClaimed, true},
		{"already claimed is not terminal", ErrAlreadyClaimed, ErrTaskTerminal, false},
		{"invalid transition is update failed", ErrInvalidTransition, ErrUpdateFailed, true},
		{"forbidden is not not found", ErrForbidden, ErrNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsNotFoundError(errors.New("some error")))
	assert.True(t, IsNotFoundError(ErrNotFound))
	assert.True(t, IsNotFoundError(fmt.Errorf("claim: %w", ErrTaskNotFound)))
	assert.True(t, IsDuplicateError(fmt.Errorf("create: %w", ErrDuplicate)))
	assert.False(t, IsDuplicateError(ErrNotFound))
}

func TestStoreError(t *testing.T) {
	original := errors.New("database connection failed")
	storeErr := NewStoreError("task", "claim", "database error", original)

	assert.Equal(t, "claim operation on task failed: database error: database connection failed", storeErr.Error())
	assert.ErrorIs(t, storeErr, original)

	bare := NewStoreError("task", "fail", "no rows", nil)
	assert.Equal(t, "fail operation on task failed: no rows", bare.Error())
	assert.Nil(t, bare.Unwrap())
}
