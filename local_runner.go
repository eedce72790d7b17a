package cadence

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/petrijr/cadence/internal/engine"
	"github.com/petrijr/cadence/internal/persistence"
	"github.com/petrijr/cadence/internal/taskqueue"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a
// Worker to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := cadence.NewLocalRunner()
//	_ = runner.StartWorkers(ctx, 2)
//	_, _ = runner.Dispatch(ctx, backlog)
//	...
//	runner.Stop()
type LocalRunner struct {
	*WorkerBundle

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner with a dry-run messenger and
// default worker config.
func NewLocalRunner() *LocalRunner {
	return NewLocalRunnerWithConfig(RunnerConfig{})
}

// NewLocalRunnerWithConfig constructs a LocalRunner backed by in-memory
// stores and queue, using the collaborators in cfg.
func NewLocalRunnerWithConfig(cfg RunnerConfig) *LocalRunner {
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Instances: persistence.NewInMemoryStore(),
			Events:    persistence.NewInMemoryEventStore(),
		},
		Observer: cfg.Observer,
	})
	q := taskqueue.NewInMemoryQueue(1024)

	return &LocalRunner{
		WorkerBundle: newBundle(eng, q, cfg),
		Queue:        q,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("cadence: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					// A single bad task must not kill the worker loop.
					slog.Error("local runner worker error", slog.Any("error", err), slog.Bool("processed", processed))
				}
			}
		}()
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
