//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/phrazzld/scry-tasks/internal/platform/postgres"
)

var (
	urlOnce sync.Once
	dbURL   string
	urlErr  error
)

// GetTestDatabaseURL returns the configured test database URL, or "" when
// a container should be started.
func GetTestDatabaseURL() string {
	for _, key := range []string{"SCRY_TEST_DB_URL", "DATABASE_URL"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// URL returns a migrated database URL, starting a container on first use.
// The container lives until the test binary exits.
func URL(t *testing.T) string {
	t.Helper()
	urlOnce.Do(func() {
		ctx := context.Background()
		dbURL = GetTestDatabaseURL()
		if dbURL == "" {
			dbURL, urlErr = startContainer(ctx)
			if urlErr != nil {
				return
			}
		}

		db, err := sql.Open("pgx", dbURL)
		if err != nil {
			urlErr = fmt.Errorf("failed to open test database: %w", err)
			return
		}
		defer func() { _ = db.Close() }()
		urlErr = postgres.Migrate(ctx, db, postgres.MigrateUp, nil)
	})
	if urlErr != nil {
		t.Skipf("test database unavailable: %v", urlErr)
	}
	return dbURL
}

// GetTestDBWithT returns a connection to the migrated test database and
// closes it when the test finishes.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("pgx", URL(t))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("failed to ping test database: %v", err)
	}
	return db
}

// WithTx runs fn inside a transaction that is rolled back afterwards.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			t.Errorf("failed to roll back transaction: %v", err)
		}
	}()

	fn(t, tx)
}

func startContainer(ctx context.Context) (string, error) {
	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("scry_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp").
					WithStartupTimeout(60*time.Second),
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start postgres container: %w", err)
	}
	return container.ConnectionString(ctx, "sslmode=disable")
}
