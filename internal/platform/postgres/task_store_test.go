package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskColumnNames = []string{
	"id", "owner_id", "type", "status", "payload_ref", "complex_reasoning",
	"result", "error_code", "error_message", "attempt_count", "created_at", "updated_at",
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgresTaskStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewPostgresTaskStore(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func taskRow(id uuid.UUID, status domain.TaskStatus, attempts int) *sqlmock.Rows {
	return sqlmock.NewRows(taskColumnNames).AddRow(
		id.String(), "user-1", "summary", string(status), "doc:abc", false,
		nil, nil, nil, attempts, fixedNow, fixedNow,
	)
}

func TestPostgresTaskStore_Create(t *testing.T) {
	s, mock := newMockStore(t)
	task, err := domain.NewTask("user-1", domain.TaskTypeSummary, "doc:abc", false)
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO tasks`).
		WithArgs(task.ID, "user-1", "summary", "PENDING", "doc:abc", false, 0,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), task))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_Create_Errors(t *testing.T) {
	t.Run("invalid_entity", func(t *testing.T) {
		s, _ := newMockStore(t)
		err := s.Create(context.Background(), &domain.Task{})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})

	t.Run("store_unavailable", func(t *testing.T) {
		s, mock := newMockStore(t)
		task, err := domain.NewTask("user-1", domain.TaskTypeSummary, "doc:abc", false)
		require.NoError(t, err)

		mock.ExpectExec(`INSERT INTO tasks`).WillReturnError(&pgconn.PgError{Code: "08006"})
		err = s.Create(context.Background(), task)
		assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	})
}

func TestPostgresTaskStore_Claim(t *testing.T) {
	id := uuid.New()

	t.Run("pending_task_is_claimed", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE tasks\s+SET status = 'PROCESSING'`).
			WithArgs(id, fixedNow, true, fixedNow.Add(-time.Minute)).
			WillReturnRows(taskRow(id, domain.TaskStatusProcessing, 0))

		task, err := s.Claim(context.Background(), id, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, id, task.ID)
		assert.Equal(t, domain.TaskStatusProcessing, task.Status)
		assert.Equal(t, domain.TaskTypeSummary, task.Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	tests := []struct {
		name    string
		status  string
		wantErr error
	}{
		{"processing_is_already_claimed", "PROCESSING", store.ErrAlreadyClaimed},
		{"completed_is_terminal", "COMPLETED", store.ErrTaskTerminal},
		{"failed_is_terminal", "FAILED", store.ErrTaskTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectQuery(`UPDATE tasks\s+SET status = 'PROCESSING'`).
				WillReturnRows(sqlmock.NewRows(taskColumnNames))
			mock.ExpectQuery(`SELECT status, attempt_count FROM tasks`).
				WithArgs(id).
				WillReturnRows(sqlmock.NewRows([]string{"status", "attempt_count"}).AddRow(tt.status, 1))

			_, err := s.Claim(context.Background(), id, 0)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("missing_task", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE tasks\s+SET status = 'PROCESSING'`).
			WillReturnRows(sqlmock.NewRows(taskColumnNames))
		mock.ExpectQuery(`SELECT status, attempt_count FROM tasks`).
			WillReturnRows(sqlmock.NewRows([]string{"status", "attempt_count"}))

		_, err := s.Claim(context.Background(), id, time.Minute)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestPostgresTaskStore_RecordAttempt(t *testing.T) {
	id := uuid.New()

	t.Run("increments", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`SET attempt_count = attempt_count \+ 1`).
			WithArgs(id, fixedNow, 3).
			WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}).AddRow(2))

		n, err := s.RecordAttempt(context.Background(), id, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("ceiling_reached", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`SET attempt_count = attempt_count \+ 1`).
			WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}))
		mock.ExpectQuery(`SELECT status, attempt_count FROM tasks`).
			WillReturnRows(sqlmock.NewRows([]string{"status", "attempt_count"}).AddRow("PROCESSING", 3))

		n, err := s.RecordAttempt(context.Background(), id, 3)
		assert.ErrorIs(t, err, store.ErrAttemptCeiling)
		assert.Equal(t, 3, n)
	})

	t.Run("not_processing", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`SET attempt_count = attempt_count \+ 1`).
			WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}))
		mock.ExpectQuery(`SELECT status, attempt_count FROM tasks`).
			WillReturnRows(sqlmock.NewRows([]string{"status", "attempt_count"}).AddRow("COMPLETED", 1))

		_, err := s.RecordAttempt(context.Background(), id, 3)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})
}

func TestPostgresTaskStore_Complete(t *testing.T) {
	id := uuid.New()
	result := domain.NewTextResult("a summary")
	body, err := json.Marshal(result)
	require.NoError(t, err)

	t.Run("processing_task", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`SET status = 'COMPLETED'`).
			WithArgs(id, body, fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Complete(context.Background(), id, result))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already_terminal", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`SET status = 'COMPLETED'`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT status, attempt_count FROM tasks`).
			WillReturnRows(sqlmock.NewRows([]string{"status", "attempt_count"}).AddRow("FAILED", 3))

		err := s.Complete(context.Background(), id, result)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})

	t.Run("invalid_result", func(t *testing.T) {
		s, _ := newMockStore(t)
		err := s.Complete(context.Background(), id, &domain.Result{Kind: domain.ResultKindQAPairs})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})
}

func TestPostgresTaskStore_Fail(t *testing.T) {
	id := uuid.New()
	failure := domain.NewTaskFailure(domain.ErrorCodeContentPolicy)

	s, mock := newMockStore(t)
	mock.ExpectExec(`SET status = 'FAILED'`).
		WithArgs(id, "content_policy", failure.Message, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Fail(context.Background(), id, failure))

	mock.ExpectExec(`SET status = 'FAILED'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status, attempt_count FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "attempt_count"}))
	assert.ErrorIs(t, s.Fail(context.Background(), id, failure), store.ErrTaskNotFound)

	assert.ErrorIs(t, s.Fail(context.Background(), id, domain.TaskFailure{}), store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTaskStore_Get(t *testing.T) {
	id := uuid.New()

	t.Run("owner_reads_completed_task", func(t *testing.T) {
		s, mock := newMockStore(t)
		result, _ := json.Marshal(domain.NewTextResult("done"))
		rows := sqlmock.NewRows(taskColumnNames).AddRow(
			id.String(), "user-1", "summary", "COMPLETED", "doc:abc", true,
			result, nil, nil, 2, fixedNow, fixedNow,
		)
		mock.ExpectQuery(`SELECT .+ FROM tasks WHERE id = \$1`).WithArgs(id).WillReturnRows(rows)

		task, err := s.Get(context.Background(), id, "user-1")
		require.NoError(t, err)
		require.NotNil(t, task.Result)
		assert.Equal(t, "done", task.Result.Text)
		assert.Nil(t, task.Failure)
		assert.True(t, task.ComplexReasoning)
		assert.Equal(t, 2, task.AttemptCount)
	})

	t.Run("failed_task_carries_error", func(t *testing.T) {
		s, mock := newMockStore(t)
		rows := sqlmock.NewRows(taskColumnNames).AddRow(
			id.String(), "user-1", "glossary", "FAILED", "doc:abc", false,
			nil, "malformed_output", "could not generate", 3, fixedNow, fixedNow,
		)
		mock.ExpectQuery(`SELECT .+ FROM tasks WHERE id = \$1`).WillReturnRows(rows)

		task, err := s.Get(context.Background(), id, "user-1")
		require.NoError(t, err)
		require.NotNil(t, task.Failure)
		assert.Equal(t, domain.ErrorCodeMalformedOutput, task.Failure.Code)
		assert.Nil(t, task.Result)
	})

	t.Run("other_owner", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT .+ FROM tasks WHERE id = \$1`).
			WillReturnRows(taskRow(id, domain.TaskStatusPending, 0))

		_, err := s.Get(context.Background(), id, "someone-else")
		assert.ErrorIs(t, err, store.ErrForbidden)
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT .+ FROM tasks WHERE id = \$1`).
			WillReturnRows(sqlmock.NewRows(taskColumnNames))

		_, err := s.Get(context.Background(), id, "user-1")
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}

func TestPostgresTaskStore_ListStale(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT id FROM tasks`).
		WithArgs("PENDING", fixedNow.Add(-2*time.Minute), 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(a.String()).AddRow(b.String()))

	ids, err := s.ListStale(context.Background(), domain.TaskStatusPending, 2*time.Minute, 50)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
