// Package cadence provides the workflow state store and background workers
// behind recurring chat check-ins and stale-ticket follow-ups.
//
// Cadence is designed for chat bots that run on a periodic tick and may be
// scaled to several replicas. Every piece of durable state is a workflow
// instance mutated by optimistic compare-and-swap, so overlapping ticks and
// concurrent users collide in the store instead of double-posting.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Engine
//  2. Worker
//  3. Dispatcher
//  4. LocalRunner and WorkerBundle
//
// # Engine
//
// The Engine is the single source of truth for workflow instances. It
// provides APIs to:
//   - start an instance, optionally under a deterministic ID
//   - transition it, given the version the caller last read
//   - find the active instance for a reference
//   - read instance state and history
//   - expire instances whose TTL has lapsed
//
// A stale expected version fails with ErrVersionConflict. Callers abandon
// their change rather than retry blindly. Expired or missing instances
// report ErrNotFoundOrExpired.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability, history included)
//   - Postgres
//   - Redis
//   - MongoDB
//
// # Worker
//
// A Worker pulls tasks from a queue and routes them to handlers by task
// type. Owner jobs produced by the Dispatcher and expiry sweeps are the two
// task types. Failed handlers are retried with exponential backoff up to
// WorkerConfig.MaxAttempts.
//
// # Dispatcher
//
// The Dispatcher partitions a stale-item backlog by owner into bounded
// jobs: at most OwnerBatchLimit items per job and OwnerJobLimit jobs per
// dispatch across all groups. Whatever does not fit is reported as skipped
// in the returned RunSummary and picked up by a later dispatch.
//
// # LocalRunner and WorkerBundle
//
// LocalRunner bundles an in-memory engine, queue, and worker into a single,
// process-local helper useful for development and unit testing. It is not
// crash-durable. WorkerBundle offers the same wiring over one SQLite
// database, so queued jobs survive a restart.
//
// The cadence command (cmd/cadence) runs the full process: scheduled
// check-ins, reminders, digests, owner fan-out and a read-only status API.
package cadence
