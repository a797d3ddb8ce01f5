// Package task runs the asynchronous generation pipeline.
//
// Submission persists a PENDING task and publishes its ID. Workers consume
// deliveries, claim the task, load and render its payload, call the AI
// gateway, and write exactly one terminal state before acknowledging the
// message. A sweeper republishes tasks that stalled between those steps, so
// a lost publish or a crashed worker never strands a task.
package task
