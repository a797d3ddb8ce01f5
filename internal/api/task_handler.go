package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-tasks/internal/api/shared"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/platform/logger"
	"github.com/phrazzld/scry-tasks/internal/task"
)

// TaskService is the submission and status side of the pipeline.
// *task.Pipeline satisfies it.
type TaskService interface {
	Submit(ctx context.Context, sub task.Submission) (*domain.Task, error)
	GetStatus(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Task, error)
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	service TaskService
	logger  *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(service TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		service: service,
		logger:  logger.With(slog.String("component", "task_handler")),
	}
}

// SubmitTask handles POST /api/tasks requests. The task is persisted and
// queued; processing happens asynchronously, so the response is 202.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ownerID, ok := shared.GetOwnerID(r.Context())
	if !ok {
		log.Warn("owner ID not found in request context")
		HandleAPIError(w, r, domain.ErrUnauthorized, "")
		return
	}

	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.service.Submit(r.Context(), task.Submission{
		OwnerID:          ownerID,
		Type:             domain.TaskType(req.TaskType),
		PayloadRef:       req.PayloadRef,
		ComplexReasoning: req.ComplexReasoning,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit task")
		return
	}

	log.Debug("task accepted", slog.String("task_id", t.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: t.ID.String(),
		Status: string(t.Status),
	})
}

// GetTask handles GET /api/tasks/{id} requests. Only the owner may read a task.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := handleOwnerAndPathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	t, err := h.service.GetStatus(r.Context(), id, ownerID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}
