package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/scry-tasks/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockResult implements sql.Result for testing
type mockResult struct {
	rowsAffected int64
	err          error
}

func (m mockResult) LastInsertId() (int64, error) {
	return 0, nil
}

func (m mockResult) RowsAffected() (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.rowsAffected, nil
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantIs  error
		wantMsg string
	}{
		{
			name:   "sql_no_rows",
			err:    sql.ErrNoRows,
			wantIs: store.ErrNotFound,
		},
		{
			name:    "unique_violation",
			err:     &pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "tasks_pkey"},
			wantIs:  store.ErrDuplicate,
			wantMsg: "entity already exists",
		},
		{
			name:    "check_constraint_violation",
			err:     &pgconn.PgError{Code: checkViolationCode, ConstraintName: "tasks_status_check"},
			wantIs:  store.ErrInvalidEntity,
			wantMsg: "tasks_status_check",
		},
		{
			name:    "not_null_violation",
			err:     &pgconn.PgError{Code: notNullViolationCode, ColumnName: "owner_id"},
			wantIs:  store.ErrInvalidEntity,
			wantMsg: "owner_id",
		},
		{
			name:    "foreign_key_violation",
			err:     &pgconn.PgError{Code: foreignKeyViolationCode, ConstraintName: "tasks_owner_fk"},
			wantIs:  store.ErrInvalidEntity,
			wantMsg: "tasks_owner_fk",
		},
		{
			name:   "connection_exception",
			err:    &pgconn.PgError{Code: "08006"},
			wantIs: store.ErrStoreUnavailable,
		},
		{
			name:   "admin_shutdown",
			err:    &pgconn.PgError{Code: adminShutdownCode},
			wantIs: store.ErrStoreUnavailable,
		},
		{
			name:   "bad_conn",
			err:    fmt.Errorf("exec: %w", driver.ErrBadConn),
			wantIs: store.ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MapError(tt.err)
			require.Error(t, result)
			assert.ErrorIs(t, result, tt.wantIs)
			if tt.wantMsg != "" {
				assert.Contains(t, result.Error(), tt.wantMsg)
			}
		})
	}

	t.Run("nil_error", func(t *testing.T) {
		assert.NoError(t, MapError(nil))
	})

	t.Run("unmapped_error_passes_through", func(t *testing.T) {
		orig := &pgconn.PgError{Code: "99999", Message: "unknown error"}
		assert.Same(t, orig, MapError(orig))
	})
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, IsConnectionError(nil))
	assert.False(t, IsConnectionError(errors.New("syntax error")))
	assert.False(t, IsConnectionError(&pgconn.PgError{Code: uniqueViolationCode}))
	assert.True(t, IsConnectionError(&pgconn.PgError{Code: "08001"}))
	assert.True(t, IsConnectionError(&pgconn.PgError{Code: tooManyConnectionsCode}))
	assert.True(t, IsConnectionError(sql.ErrConnDone))
}

func TestCheckRowsAffected(t *testing.T) {
	sentinel := errors.New("nothing matched")

	assert.NoError(t, CheckRowsAffected(mockResult{rowsAffected: 1}, sentinel))
	assert.ErrorIs(t, CheckRowsAffected(mockResult{rowsAffected: 0}, sentinel), sentinel)
	assert.ErrorIs(t, CheckRowsAffected(mockResult{rowsAffected: 0}, nil), store.ErrNotFound)
	assert.Error(t, CheckRowsAffected(mockResult{err: errors.New("driver")}, sentinel))
	assert.Error(t, CheckRowsAffected(nil, sentinel))
}
