// Package worker provides the background worker that drains cadence task
// queues.
//
// A Worker dequeues taskqueue.Task values and routes each one to the
// Handler registered for its TaskType. Handlers are plain functions; the
// owner fan-out handler and the expiry sweep handler are wired in by the
// application.
//
// # Retries
//
// A failed handler call is re-enqueued with Attempts incremented and
// NotBefore pushed out by an exponential backoff, until Config.MaxAttempts
// deliveries were made. Only the final failure is returned from
// ProcessOne. Handlers must therefore be safe to run more than once for the
// same task; the owner fan-out handler relies on the posting guard for that.
//
// Backends that cannot hide delayed tasks (in-memory, Redis) hand them out
// early and the worker waits until NotBefore before running the handler.
//
// # Running
//
// Run loops over ProcessOne until its context is cancelled. Multiple workers
// may drain the same queue.
package worker
