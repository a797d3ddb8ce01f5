package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/platform/logger"
	"github.com/phrazzld/scry-tasks/internal/store"
)

const taskColumns = `id, owner_id, type, status, payload_ref, complex_reasoning,
	result, error_code, error_message, attempt_count, created_at, updated_at`

// PostgresTaskStore implements store.TaskStore using PostgreSQL. Every state
// change is a single conditional UPDATE, so the row's status column is the
// only lock concurrent workers contend on.
type PostgresTaskStore struct {
	db  store.DBTX
	now func() time.Time
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new task row.
func (s *PostgresTaskStore) Create(ctx context.Context, t *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := t.Validate(); err != nil {
		return errors.Join(store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, owner_id, type, status, payload_ref, complex_reasoning,
			attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.OwnerID,
		string(t.Type),
		string(t.Status),
		t.PayloadRef,
		t.ComplexReasoning,
		t.AttemptCount,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			"task_id", t.ID,
			"task_type", t.Type,
			"error", err)
		return MapError(err)
	}
	return nil
}

// Claim moves a PENDING task, or a PROCESSING task idle past lease, into
// PROCESSING and returns the updated row.
func (s *PostgresTaskStore) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*domain.Task, error) {
	now := s.now()
	query := `
		UPDATE tasks
		SET status = 'PROCESSING', updated_at = $2
		WHERE id = $1
		  AND (status = 'PENDING'
		       OR (status = 'PROCESSING' AND $3::boolean AND updated_at < $4))
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id, now, lease > 0, now.Add(-lease)))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.FromContext(ctx).Error("failed to claim task", "task_id", id, "error", err)
		return nil, MapError(err)
	}

	status, _, err := s.state(ctx, id)
	if err != nil {
		return nil, err
	}
	if status.IsTerminal() {
		return nil, store.ErrTaskTerminal
	}
	return nil, store.ErrAlreadyClaimed
}

// RecordAttempt increments attempt_count while below ceiling.
func (s *PostgresTaskStore) RecordAttempt(ctx context.Context, id uuid.UUID, ceiling int) (int, error) {
	query := `
		UPDATE tasks
		SET attempt_count = attempt_count + 1, updated_at = $2
		WHERE id = $1 AND status = 'PROCESSING' AND attempt_count < $3
		RETURNING attempt_count
	`
	var count int
	err := s.db.QueryRowContext(ctx, query, id, s.now(), ceiling).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.FromContext(ctx).Error("failed to record attempt", "task_id", id, "error", err)
		return 0, MapError(err)
	}

	status, count, err := s.state(ctx, id)
	if err != nil {
		return 0, err
	}
	if status != domain.TaskStatusProcessing {
		return count, store.ErrInvalidTransition
	}
	return count, store.ErrAttemptCeiling
}

// Complete stores result on a PROCESSING task.
func (s *PostgresTaskStore) Complete(ctx context.Context, id uuid.UUID, result *domain.Result) error {
	if err := result.Validate(); err != nil {
		return errors.Join(store.ErrInvalidEntity, err)
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("%w: failed to encode result: %v", store.ErrInvalidEntity, err)
	}

	query := `
		UPDATE tasks
		SET status = 'COMPLETED', result = $2, error_code = NULL, error_message = NULL, updated_at = $3
		WHERE id = $1 AND status = 'PROCESSING'
	`
	res, err := s.db.ExecContext(ctx, query, id, body, s.now())
	if err != nil {
		logger.FromContext(ctx).Error("failed to complete task", "task_id", id, "error", err)
		return MapError(err)
	}
	return s.checkTransition(ctx, id, res)
}

// Fail stores failure on a PROCESSING task.
func (s *PostgresTaskStore) Fail(ctx context.Context, id uuid.UUID, failure domain.TaskFailure) error {
	if failure.Code == "" {
		return fmt.Errorf("%w: failure code cannot be empty", store.ErrInvalidEntity)
	}

	query := `
		UPDATE tasks
		SET status = 'FAILED', error_code = $2, error_message = $3, result = NULL, updated_at = $4
		WHERE id = $1 AND status = 'PROCESSING'
	`
	res, err := s.db.ExecContext(ctx, query, id, string(failure.Code), failure.Message, s.now())
	if err != nil {
		logger.FromContext(ctx).Error("failed to fail task", "task_id", id, "error", err)
		return MapError(err)
	}
	return s.checkTransition(ctx, id, res)
}

// Get returns the task when ownerID owns it.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID, ownerID string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContext(ctx).Error("failed to get task", "task_id", id, "error", err)
		return nil, MapError(err)
	}
	if t.OwnerID != ownerID {
		return nil, store.ErrForbidden
	}
	return t, nil
}

// ListStale returns IDs of tasks in status not updated within olderThan,
// oldest first.
func (s *PostgresTaskStore) ListStale(
	ctx context.Context,
	status domain.TaskStatus,
	olderThan time.Duration,
	limit int,
) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.db.QueryContext(ctx, query, string(status), s.now().Add(-olderThan), lim)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list stale tasks", "status", status, "error", err)
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return ids, nil
}

// state reads the current status and attempt count, used to explain why a
// conditional update matched nothing.
func (s *PostgresTaskStore) state(ctx context.Context, id uuid.UUID) (domain.TaskStatus, int, error) {
	var (
		status string
		count  int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, attempt_count FROM tasks WHERE id = $1`, id).Scan(&status, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, store.ErrTaskNotFound
		}
		return "", 0, MapError(err)
	}
	return domain.TaskStatus(status), count, nil
}

func (s *PostgresTaskStore) checkTransition(ctx context.Context, id uuid.UUID, res sql.Result) error {
	err := CheckRowsAffected(res, store.ErrInvalidTransition)
	if !errors.Is(err, store.ErrInvalidTransition) {
		return err
	}
	if _, _, stateErr := s.state(ctx, id); stateErr != nil {
		return stateErr
	}
	return store.ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t            domain.Task
		taskType     string
		status       string
		result       []byte
		errorCode    sql.NullString
		errorMessage sql.NullString
	)
	err := row.Scan(
		&t.ID,
		&t.OwnerID,
		&taskType,
		&status,
		&t.PayloadRef,
		&t.ComplexReasoning,
		&result,
		&errorCode,
		&errorMessage,
		&t.AttemptCount,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = domain.TaskType(taskType)
	t.Status = domain.TaskStatus(status)
	if len(result) > 0 {
		var r domain.Result
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("failed to decode stored result: %w", err)
		}
		t.Result = &r
	}
	if errorCode.Valid {
		t.Failure = &domain.TaskFailure{
			Code:    domain.ErrorCode(errorCode.String),
			Message: errorMessage.String,
		}
	}
	return &t, nil
}
