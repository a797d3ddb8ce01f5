// Package postgres provides the PostgreSQL implementations of the task store,
// the durable task queue, and the document loader. Connections go through
// the pgx stdlib driver for database/sql, with a pgxpool connection used
// only to LISTEN for queue notifications. Schema changes are embedded goose
// migrations.
package postgres
