//go:build integration

// Package testdb provides database helpers for integration tests.
//
// GetTestDBWithT returns a migrated PostgreSQL connection. When DATABASE_URL
// or SCRY_TEST_DB_URL is set that database is used; otherwise a throwaway
// container is started with testcontainers and shared by every test in the
// binary. WithTx runs a test body in a transaction that is always rolled
// back, so tests can share the schema without cleaning up after themselves.
//
//	func TestMyFeature(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        s := postgres.NewPostgresTaskStore(tx)
//	        ...
//	    })
//	}
package testdb
