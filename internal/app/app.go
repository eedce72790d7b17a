// Package app assembles the cadence process from configuration: storage,
// queue, worker, the check-in and fan-out services and the status API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/petrijr/cadence/internal/cache"
	"github.com/petrijr/cadence/internal/checkin"
	"github.com/petrijr/cadence/internal/collab"
	"github.com/petrijr/cadence/internal/config"
	"github.com/petrijr/cadence/internal/dedupe"
	"github.com/petrijr/cadence/internal/engine"
	"github.com/petrijr/cadence/internal/fanout"
	"github.com/petrijr/cadence/internal/logging"
	"github.com/petrijr/cadence/internal/schedule"
	"github.com/petrijr/cadence/internal/statusapi"
	"github.com/petrijr/cadence/internal/summary"
	"github.com/petrijr/cadence/internal/taskqueue"
	"github.com/petrijr/cadence/internal/telemetry"
	"github.com/petrijr/cadence/internal/wizard"
	"github.com/petrijr/cadence/pkg/api"
	"github.com/petrijr/cadence/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

// Options customizes New. Only Config is required.
type Options struct {
	Config *config.Config
	Logger *logging.Logger

	// Messenger defaults to a dry-run messenger that logs every post.
	Messenger api.Messenger
	Planner   api.Planner
	Tickets   api.TicketWriter

	// Definitions overrides Schedule.DefinitionsFile when non-nil.
	Definitions []schedule.Definition

	// Flows are registered on the wizard coordinator.
	Flows []wizard.Flow

	// Meter defaults to the global OpenTelemetry meter.
	Meter metric.Meter

	Clock func() time.Time
}

// App is a fully wired cadence process.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	Engine     api.Engine
	Queue      taskqueue.Queue
	Worker     *worker.Worker
	Checkins   *checkin.Service
	Dispatcher *fanout.Dispatcher
	Processor  *fanout.Processor
	Wizards    *wizard.Coordinator
	Summaries  *summary.Recorder
	Metrics    *telemetry.MetricsObserver

	channels *cache.Cache[string, api.ChannelInfo]
	plans    *cache.Cache[string, api.Plan]
	guard    *dedupe.Guard
	server   *statusapi.Server
	backend  *backend
	now      func() time.Time
}

// New opens storage and wires every component.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	defs := opts.Definitions
	if defs == nil {
		var err error
		defs, err = loadDefinitions(cfg.Schedule.DefinitionsFile, logger.Logger)
		if err != nil {
			return nil, err
		}
	}

	b, err := openBackend(ctx, cfg, logger.Logger)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetricsObserver()
	if opts.Meter != nil {
		metrics = telemetry.NewMetricsObserverWithMeter(opts.Meter)
	}
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: b.persistence,
		Observer:    api.NewCompositeObserver(api.NewLoggingObserver(logger.Logger), metrics),
		Clock:       clock,
	})

	messenger := opts.Messenger
	if messenger == nil {
		messenger = collab.NewLogMessenger(logger.Logger)
	}
	messenger = collab.NewRetryingMessenger(messenger, collab.DefaultRetryPolicy())

	cacheCfg := cache.Config{MaxSize: cfg.Cache.MaxSize, DefaultTTL: cfg.Cache.TTL, Clock: clock}
	channels := cache.New[string, api.ChannelInfo](cacheCfg)
	plans := cache.New[string, api.Plan](cacheCfg)
	guard := dedupe.NewGuardWithClock(cfg.Fanout.DedupeWindow, clock)
	summaries := summary.NewRecorder(cfg.Summaries.Capacity)
	summaries.OnRecord(func(s api.RunSummary) {
		metrics.RecordSummary(context.Background(), &s)
	})

	var limiter *rate.Limiter
	if cfg.Fanout.PostRate > 0 {
		burst := cfg.Fanout.PostBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Fanout.PostRate), burst)
	}

	checkins := checkin.New(checkin.Config{
		Engine:            eng,
		Messenger:         messenger,
		Definitions:       defs,
		Summaries:         summaries,
		Guard:             guard,
		Channels:          channels,
		MinSinceScheduled: cfg.Reminders.MinSinceScheduled,
		MinBetweenBatches: cfg.Reminders.MinBetweenBatches,
		Retention:         cfg.Schedule.Retention,
		Logger:            logger.With("component", "checkin").Logger,
		Clock:             clock,
	})

	processor := fanout.NewProcessor(fanout.ProcessorConfig{
		Planner:         opts.Planner,
		Tickets:         opts.Tickets,
		Messenger:       messenger,
		Guard:           guard,
		Limiter:         limiter,
		Plans:           plans,
		Channels:        channels,
		OwnerBatchLimit: cfg.Fanout.OwnerBatchLimit,
		PlanTimeout:     cfg.Fanout.PlanTimeout,
		Summaries:       summaries,
		Logger:          logger.With("component", "fanout").Logger,
		Clock:           clock,
	})
	dispatcher := fanout.NewDispatcher(fanout.QueueEnqueuer(b.queue), fanout.DispatchConfig{
		OwnerBatchLimit: cfg.Fanout.OwnerBatchLimit,
		OwnerJobLimit:   cfg.Fanout.OwnerJobLimit,
		Summaries:       summaries,
		Logger:          logger.With("component", "dispatch").Logger,
		Clock:           clock,
	})

	registry := wizard.NewRegistry()
	for _, f := range opts.Flows {
		if err := registry.Register(f); err != nil {
			_ = b.close()
			return nil, fmt.Errorf("registering wizard flow %q: %w", f.ID, err)
		}
	}
	wizards := wizard.NewCoordinator(wizard.Config{
		Engine:   eng,
		Registry: registry,
		Logger:   logger.With("component", "wizard").Logger,
		Clock:    clock,
	})

	w := worker.NewWithConfig(b.queue, worker.Config{
		MaxAttempts:    cfg.Worker.MaxAttempts,
		Backoff:        cfg.Worker.Backoff,
		HandlerTimeout: cfg.Worker.HandlerTimeout,
		Logger:         logger.With("component", "worker").Logger,
	})

	a := &App{
		cfg:        cfg,
		logger:     logger,
		Engine:     eng,
		Queue:      b.queue,
		Worker:     w,
		Checkins:   checkins,
		Dispatcher: dispatcher,
		Processor:  processor,
		Wizards:    wizards,
		Summaries:  summaries,
		Metrics:    metrics,
		channels:   channels,
		plans:      plans,
		guard:      guard,
		backend:    b,
		now:        clock,
	}
	a.server = statusapi.NewServer(eng, summaries, statusapi.WithLogger(logger.With("component", "http").Logger))

	w.Handle(taskqueue.TaskTypeOwnerJob, processor.HandleTask)
	w.Handle(taskqueue.TaskTypeExpireSweep, a.handleExpireSweep)

	return a, nil
}

func loadDefinitions(path string, logger *slog.Logger) ([]schedule.Definition, error) {
	if path == "" {
		return nil, nil
	}
	defs, err := schedule.LoadDefinitions(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("checkin_definitions_missing", slog.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("checkin_definitions_loaded", slog.String("path", path), slog.Int("count", len(defs)))
	return defs, nil
}

func (a *App) handleExpireSweep(ctx context.Context, _ taskqueue.Task) error {
	n, err := a.Engine.ExpireStale(ctx, a.now())
	if err != nil {
		return fmt.Errorf("expire sweep: %w", err)
	}
	if n > 0 {
		a.logger.Info("instances_expired", slog.Int("count", n))
	}
	return nil
}

// Tick runs one periodic pass: it schedules the expiry sweep, starts due
// check-ins, sends reminders and finalizes closed runs. A failing phase is
// logged and does not stop the later ones.
func (a *App) Tick(ctx context.Context) ([]*api.RunSummary, error) {
	var errs []error
	if err := a.Queue.Enqueue(ctx, taskqueue.Task{Type: taskqueue.TaskTypeExpireSweep, EnqueuedAt: a.now()}); err != nil {
		errs = append(errs, fmt.Errorf("enqueue expire sweep: %w", err))
	}

	phases := []struct {
		name string
		run  func(context.Context) (*api.RunSummary, error)
	}{
		{"trigger", a.Checkins.TriggerDue},
		{"reminders", a.Checkins.SendReminders},
		{"finalize", a.Checkins.Finalize},
	}

	var out []*api.RunSummary
	for _, p := range phases {
		sum, err := p.run(ctx)
		if sum != nil {
			out = append(out, sum)
		}
		if err != nil {
			a.logger.Error("tick_phase_failed", slog.String("phase", p.name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return out, errors.Join(errs...)
}

// Dispatch splits the backlog into owner jobs and enqueues them.
func (a *App) Dispatch(ctx context.Context, backlog []fanout.GroupBacklog) (*api.RunSummary, error) {
	return a.Dispatcher.Dispatch(ctx, backlog)
}

// Drain processes queued tasks until the queue is empty. It is used by
// one-shot commands that run without a background worker.
func (a *App) Drain(ctx context.Context) error {
	for a.Queue.Len() > 0 {
		processed, err := a.Worker.ProcessOne(ctx)
		if err != nil {
			if !processed {
				return err
			}
			a.logger.Warn("task_failed", slog.Any("error", err))
		}
	}
	return nil
}

// Handler returns the status API handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Serve runs the ticker, the worker, cache sweeps and the status server
// until ctx is cancelled or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Worker.Run(ctx)
	})

	g.Go(func() error {
		a.runTicker(ctx)
		return nil
	})

	sweep := a.cfg.Cache.SweepInterval
	if sweep > 0 {
		g.Go(func() error { a.channels.Run(ctx, sweep); return nil })
		g.Go(func() error { a.plans.Run(ctx, sweep); return nil })
		g.Go(func() error { a.runGuardSweep(ctx, sweep); return nil })
	}

	if a.cfg.Server.Enabled {
		srv := &http.Server{
			Addr:              a.cfg.Server.Addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("status_server_listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *App) runTicker(ctx context.Context) {
	interval := a.cfg.Schedule.TickInterval
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := a.Tick(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("tick_failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (a *App) runGuardSweep(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.guard.Sweep()
		}
	}
}

// Close releases storage handles.
func (a *App) Close() error {
	return a.backend.close()
}
