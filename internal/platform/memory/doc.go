// Package memory provides in-process implementations of the task store and
// queue transport. They honour the same contracts as the Postgres versions
// and back single-process deployments and tests.
package memory
