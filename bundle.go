package cadence

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/petrijr/cadence/internal/collab"
	"github.com/petrijr/cadence/internal/fanout"
	"github.com/petrijr/cadence/internal/summary"
	"github.com/petrijr/cadence/internal/taskqueue"
	workerpkg "github.com/petrijr/cadence/pkg/worker"
)

// RunnerConfig customizes the collaborators behind a LocalRunner or a
// WorkerBundle. Zero values fall back to a dry-run messenger that logs
// every post, the template planner and a logging ticket writer.
type RunnerConfig struct {
	Worker WorkerConfig

	Messenger Messenger
	Planner   Planner
	Tickets   TicketWriter
	Observer  Observer
	Logger    *slog.Logger
}

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes owner jobs and expiry sweeps from that queue.
type WorkerBundle struct {
	Engine     Engine
	Worker     *workerpkg.Worker
	Dispatcher *fanout.Dispatcher

	// Summaries keeps the outcome of recent dispatch and job passes.
	Summaries *summary.Recorder

	// queue is kept unexported; the public API focuses on Engine, Worker
	// and Dispatcher.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Workflow instances, their history and queued
// owner jobs are persisted in the provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:cadence.db?_pragma=journal_mode(WAL)")
//	bundle, err := cadence.NewSQLiteBundle(db, cadence.RunnerConfig{
//		Worker:    cadence.WorkerConfig{MaxAttempts: 3},
//		Messenger: slackMessenger,
//	})
//	_, _ = bundle.Dispatch(ctx, backlog)
//	go bundle.Worker.Run(ctx)
func NewSQLiteBundle(db *sql.DB, cfg RunnerConfig) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngineWithObserver(db, cfg.Observer)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	return newBundle(eng, q, cfg), nil
}

func newBundle(eng Engine, q taskqueue.Queue, cfg RunnerConfig) *WorkerBundle {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Worker.Logger == nil {
		cfg.Worker.Logger = logger
	}
	messenger := cfg.Messenger
	if messenger == nil {
		messenger = collab.NewLogMessenger(logger)
	}
	summaries := summary.NewRecorder(0)

	processor := fanout.NewProcessor(fanout.ProcessorConfig{
		Planner:   cfg.Planner,
		Tickets:   cfg.Tickets,
		Messenger: collab.NewRetryingMessenger(messenger, collab.DefaultRetryPolicy()),
		Summaries: summaries,
		Logger:    logger,
	})

	w := workerpkg.NewWithConfig(q, cfg.Worker)
	w.Handle(taskqueue.TaskTypeOwnerJob, processor.HandleTask)
	w.Handle(taskqueue.TaskTypeExpireSweep, func(ctx context.Context, _ taskqueue.Task) error {
		_, err := eng.ExpireStale(ctx, time.Now())
		return err
	})

	return &WorkerBundle{
		Engine: eng,
		Worker: w,
		Dispatcher: fanout.NewDispatcher(fanout.QueueEnqueuer(q), fanout.DispatchConfig{
			Summaries: summaries,
			Logger:    logger,
		}),
		Summaries: summaries,
		queue:     q,
	}
}

// Dispatch splits backlog into owner jobs and enqueues them for the Worker.
func (b *WorkerBundle) Dispatch(ctx context.Context, backlog []GroupBacklog) (*RunSummary, error) {
	return b.Dispatcher.Dispatch(ctx, backlog)
}

// ScheduleExpirySweep enqueues an expiry sweep for the Worker.
func (b *WorkerBundle) ScheduleExpirySweep(ctx context.Context) error {
	return b.Worker.Enqueue(ctx, taskqueue.TaskTypeExpireSweep, nil, "")
}

// Pending returns the approximate number of queued tasks.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}
