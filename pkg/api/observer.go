package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay the caller's CAS round-trip.
type Observer interface {
	// OnInstanceStarted is called once after a new instance was persisted.
	OnInstanceStarted(ctx context.Context, inst *WorkflowInstance)

	// OnTransition is called after a successful compare-and-swap.
	OnTransition(ctx context.Context, inst *WorkflowInstance, from State, actor string)

	// OnConflict is called when a write lost the optimistic race.
	OnConflict(ctx context.Context, id string, expectedVersion int64)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {}
func (NoopObserver) OnTransition(ctx context.Context, inst *WorkflowInstance, from State, actor string) {
}
func (NoopObserver) OnConflict(ctx context.Context, id string, expectedVersion int64) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnTransition(ctx context.Context, inst *WorkflowInstance, from State, actor string) {
	for _, o := range c.observers {
		o.OnTransition(ctx, inst, from, actor)
	}
}

func (c *CompositeObserver) OnConflict(ctx context.Context, id string, expectedVersion int64) {
	for _, o := range c.observers {
		o.OnConflict(ctx, id, expectedVersion)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "instance_started",
		slog.String("workflow_type", string(inst.Type)),
		slog.String("instance_id", inst.ID),
		slog.String("reference_id", inst.ReferenceID),
		slog.String("state", string(inst.State)),
	)
}

func (o *LoggingObserver) OnTransition(ctx context.Context, inst *WorkflowInstance, from State, actor string) {
	level := slog.LevelDebug
	if inst.State.Terminal() {
		level = slog.LevelInfo
	}
	o.Logger.Log(ctx, level, "instance_transition",
		slog.String("workflow_type", string(inst.Type)),
		slog.String("instance_id", inst.ID),
		slog.String("from", string(from)),
		slog.String("to", string(inst.State)),
		slog.Int64("version", inst.Version),
		slog.String("actor", actor),
	)
}

func (o *LoggingObserver) OnConflict(ctx context.Context, id string, expectedVersion int64) {
	o.Logger.WarnContext(ctx, "instance_version_conflict",
		slog.String("instance_id", id),
		slog.Int64("expected_version", expectedVersion),
	)
}

// BasicMetrics collects simple counters. It implements Observer, and can be
// combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	started     atomic.Int64
	transitions atomic.Int64
	terminal    atomic.Int64
	conflicts   atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted int64
	Transitions      int64
	TerminalReached  int64
	VersionConflicts int64
}

func (m *BasicMetrics) OnInstanceStarted(ctx context.Context, inst *WorkflowInstance) {
	m.started.Add(1)
}

func (m *BasicMetrics) OnTransition(ctx context.Context, inst *WorkflowInstance, from State, actor string) {
	m.transitions.Add(1)
	if inst.State.Terminal() {
		m.terminal.Add(1)
	}
}

func (m *BasicMetrics) OnConflict(ctx context.Context, id string, expectedVersion int64) {
	m.conflicts.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		InstancesStarted: m.started.Load(),
		Transitions:      m.transitions.Load(),
		TerminalReached:  m.terminal.Load(),
		VersionConflicts: m.conflicts.Load(),
	}
}
