// Package domain contains the core entities of the task pipeline: the Task
// record and its lifecycle, the closed set of task types, and the tagged
// Result union produced by generation. It has no knowledge of storage,
// transport, or AI backends.
package domain
