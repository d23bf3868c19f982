// Package queue serialises image generation work: a bounded FIFO of jobs, one
// in flight at a time, with position tracking, timed eviction of finished
// jobs and snapshot notifications for observers. It is structured into small
// files by concern:
//
//   - queue.go: Queue type, constructor, Enqueue/Cancel/UpdateProgress and readers.
//   - config.go: Config and package defaults; New applies defaults.
//   - errors.go: error types and helpers (IsQueueFull, IsInvalidModel, ...).
//   - process.go: the dispatch loop and the outcome path of a generation call.
//   - cleanup.go: eviction of terminal jobs.
//   - notify.go: subscriber bookkeeping and ordered persistence.
//   - metrics.go: Prometheus collectors.
//
// Subscriber callbacks run synchronously after the mutation they report and
// must not call back into mutating Queue methods.
package queue
