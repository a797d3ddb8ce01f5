// Package api exposes the task pipeline over HTTP: submission returns
// 202 Accepted with a task ID, and status reads return the task's current
// state, result, or sanitized error. Handlers never call AI backends.
package api
