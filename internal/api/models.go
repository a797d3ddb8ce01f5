package api

import (
	"time"

	"github.com/phrazzld/scry-tasks/internal/domain"
)

// SubmitTaskRequest is the body of POST /api/tasks.
type SubmitTaskRequest struct {
	TaskType         string `json:"task_type" validate:"required"`
	PayloadRef       string `json:"payload_ref" validate:"required,max=4096"`
	ComplexReasoning bool   `json:"complex_reasoning"`
}

// SubmitTaskResponse acknowledges an accepted submission.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskErrorResponse is the sanitized failure of a FAILED task.
type TaskErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TaskResponse is the status view of a task. Exactly one of Result and Error
// is present for a finished task; neither is present before that.
type TaskResponse struct {
	ID           string             `json:"id"`
	TaskType     string             `json:"task_type"`
	Status       string             `json:"status"`
	Result       *domain.Result     `json:"result,omitempty"`
	Error        *TaskErrorResponse `json:"error,omitempty"`
	AttemptCount int                `json:"attempt_count"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:           t.ID.String(),
		TaskType:     string(t.Type),
		Status:       string(t.Status),
		AttemptCount: t.AttemptCount,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	switch t.Status {
	case domain.TaskStatusCompleted:
		resp.Result = t.Result
	case domain.TaskStatusFailed:
		if t.Failure != nil {
			resp.Error = &TaskErrorResponse{
				Code:    string(t.Failure.Code),
				Message: t.Failure.Message,
			}
		}
	}
	return resp
}
