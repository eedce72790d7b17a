package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeOwnerJob carries one owner's bounded batch of stale items.
	TaskTypeOwnerJob TaskType = "owner-job"

	// TaskTypeExpireSweep asks the worker to run the engine expiry sweep.
	TaskTypeExpireSweep TaskType = "expire-sweep"
)

// Task represents a unit of work for the worker.
type Task struct {
	ID   string
	Type TaskType

	// Payload is task-type specific:
	//   - owner-job: fanout.OwnerJob
	//   - expire-sweep: nil
	//
	// Concrete payload types must be registered with gob.Register by the
	// package that defines them.
	Payload any

	CorrelationID string

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time

	// Attempts counts previous failed deliveries of this task.
	Attempts int
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

// stamp fills in the ID and timestamps the backends rely on.
func stamp(t Task, now time.Time) Task {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	return t
}
