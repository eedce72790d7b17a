package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/cadence/internal/taskqueue"
)

// Handler processes one task. Returning an error schedules a retry until
// Config.MaxAttempts is reached.
type Handler func(ctx context.Context, task taskqueue.Task) error

// ErrNoHandler is returned for tasks whose type has no registered Handler.
var ErrNoHandler = errors.New("no handler registered for task type")

// Config controls retries and timeouts.
type Config struct {
	// MaxAttempts is the total number of deliveries per task, including the
	// first. Values below 1 mean 1.
	MaxAttempts int

	// Backoff is the delay before the first retry. It doubles per attempt.
	Backoff time.Duration

	// HandlerTimeout bounds a single handler call. Zero means no bound.
	HandlerTimeout time.Duration

	Logger *slog.Logger
}

// Worker pulls tasks from a Queue and routes them to Handlers by TaskType.
type Worker struct {
	queue taskqueue.Queue
	cfg   Config
	log   *slog.Logger
	now   func() time.Time

	mu       sync.RWMutex
	handlers map[taskqueue.TaskType]Handler
}

// New creates a new Worker that delivers each task once.
func New(queue taskqueue.Queue) *Worker {
	return NewWithConfig(queue, Config{})
}

// NewWithConfig creates a Worker with explicit retry settings.
func NewWithConfig(queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
		handlers: make(map[taskqueue.TaskType]Handler),
	}
}

// Handle registers h for tasks of type typ, replacing any previous one.
func (w *Worker) Handle(typ taskqueue.TaskType, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[typ] = h
}

// Enqueue schedules a task for immediate processing.
func (w *Worker) Enqueue(ctx context.Context, typ taskqueue.TaskType, payload any, correlationID string) error {
	return w.EnqueueAt(ctx, typ, payload, correlationID, time.Time{})
}

// EnqueueAt schedules a task that is processed no earlier than at.
func (w *Worker) EnqueueAt(ctx context.Context, typ taskqueue.TaskType, payload any, correlationID string, at time.Time) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		Type:          typ,
		Payload:       payload,
		CorrelationID: correlationID,
		EnqueuedAt:    w.now(),
		NotBefore:     at,
	})
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx cancelled or dequeue failed).
//   - processed == true, err == nil: the handler succeeded or a retry was scheduled.
//   - processed == true, err != nil: the task failed its final attempt or has no handler.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	// Backends without delayed visibility hand out tasks early.
	if wait := task.NotBefore.Sub(w.now()); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			// Put it back so the task is not lost on shutdown.
			if err := w.queue.Enqueue(context.WithoutCancel(ctx), *task); err != nil {
				w.log.Error("requeue on shutdown failed", slog.String("task_id", task.ID), slog.Any("error", err))
			}
			return false, ctx.Err()
		case <-t.C:
		}
	}

	w.mu.RLock()
	h, ok := w.handlers[task.Type]
	w.mu.RUnlock()
	if !ok {
		return true, fmt.Errorf("%w: %s", ErrNoHandler, task.Type)
	}

	runErr := w.run(ctx, h, *task)
	if runErr == nil {
		return true, nil
	}

	attempt := task.Attempts + 1
	log := w.log.With(
		slog.String("task_id", task.ID),
		slog.String("task_type", string(task.Type)),
		slog.String("correlation_id", task.CorrelationID),
		slog.Int("attempt", attempt),
	)
	if attempt >= w.cfg.MaxAttempts {
		log.Error("task failed", slog.Any("error", runErr))
		return true, runErr
	}

	retry := *task
	retry.Attempts = attempt
	retry.NotBefore = w.now().Add(w.backoff(attempt))
	if err := w.queue.Enqueue(ctx, retry); err != nil {
		log.Error("retry enqueue failed", slog.Any("error", err))
		return true, errors.Join(runErr, err)
	}
	log.Warn("task failed, retry scheduled", slog.Time("not_before", retry.NotBefore), slog.Any("error", runErr))
	return true, nil
}

// Run processes tasks until ctx is cancelled. Handler failures are logged
// and do not stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.ProcessOne(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !processed {
			w.log.Error("dequeue failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

func (w *Worker) run(ctx context.Context, h Handler, task taskqueue.Task) (err error) {
	if w.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, task)
}

func (w *Worker) backoff(attempt int) time.Duration {
	if w.cfg.Backoff <= 0 {
		return 0
	}
	return w.cfg.Backoff << (attempt - 1)
}
