// Package logger configures structured JSON logging with log/slog and carries
// request- or task-scoped loggers through context.
package logger
