// Package router decides which AI backend and model handle a task.
//
// Route is a pure function of its inputs and the Policy built once at
// startup. It never performs I/O and never reads configuration, so routing
// decisions can be audited and tested as a plain table.
package router
