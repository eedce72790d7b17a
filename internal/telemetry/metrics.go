// Package telemetry exports engine and pass metrics through the OTel
// metric API. Without a configured MeterProvider the instruments are
// no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petrijr/cadence/pkg/api"
)

// meterName is the instrumentation scope name for cadence metrics.
const meterName = "github.com/petrijr/cadence"

// MetricsObserver is an api.Observer that counts lifecycle events.
//
// Instruments:
//   - cadence.instances.started (Int64Counter), attribute: workflow_type
//   - cadence.instances.transitions (Int64Counter), attributes: workflow_type, from, to
//   - cadence.instances.conflicts (Int64Counter)
//   - cadence.pass.items (Int64Counter), attributes: kind, counter
//   - cadence.pass.errors (Int64Counter), attribute: kind
type MetricsObserver struct {
	started     metric.Int64Counter
	transitions metric.Int64Counter
	conflicts   metric.Int64Counter
	passItems   metric.Int64Counter
	passErrors  metric.Int64Counter
}

var _ api.Observer = (*MetricsObserver)(nil)

// NewMetricsObserver uses the global MeterProvider.
func NewMetricsObserver() *MetricsObserver {
	return NewMetricsObserverWithMeter(otel.Meter(meterName))
}

// NewMetricsObserverWithMeter uses the provided meter.
func NewMetricsObserverWithMeter(meter metric.Meter) *MetricsObserver {
	// The OTel API returns no-op instruments alongside any error.
	started, _ := meter.Int64Counter("cadence.instances.started",
		metric.WithDescription("Workflow instances started"),
		metric.WithUnit("{instance}"),
	)
	transitions, _ := meter.Int64Counter("cadence.instances.transitions",
		metric.WithDescription("Successful compare-and-swap transitions"),
		metric.WithUnit("{transition}"),
	)
	conflicts, _ := meter.Int64Counter("cadence.instances.conflicts",
		metric.WithDescription("Writes that lost the optimistic race"),
		metric.WithUnit("{conflict}"),
	)
	passItems, _ := meter.Int64Counter("cadence.pass.items",
		metric.WithDescription("Counters reported by periodic passes"),
	)
	passErrors, _ := meter.Int64Counter("cadence.pass.errors",
		metric.WithDescription("Non-fatal errors reported by periodic passes"),
		metric.WithUnit("{error}"),
	)
	return &MetricsObserver{
		started:     started,
		transitions: transitions,
		conflicts:   conflicts,
		passItems:   passItems,
		passErrors:  passErrors,
	}
}

func (m *MetricsObserver) OnInstanceStarted(ctx context.Context, inst *api.WorkflowInstance) {
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_type", string(inst.Type))))
}

func (m *MetricsObserver) OnTransition(ctx context.Context, inst *api.WorkflowInstance, from api.State, actor string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_type", string(inst.Type)),
		attribute.String("from", string(from)),
		attribute.String("to", string(inst.State)),
	))
}

func (m *MetricsObserver) OnConflict(ctx context.Context, id string, expectedVersion int64) {
	m.conflicts.Add(ctx, 1)
}

// RecordSummary exports the counters and error count of a finished pass.
func (m *MetricsObserver) RecordSummary(ctx context.Context, s *api.RunSummary) {
	if s == nil {
		return
	}
	kind := attribute.String("kind", string(s.Kind))
	for name, n := range s.Counts {
		if n == 0 {
			continue
		}
		m.passItems.Add(ctx, int64(n), metric.WithAttributes(kind, attribute.String("counter", name)))
	}
	if len(s.Errors) > 0 {
		m.passErrors.Add(ctx, int64(len(s.Errors)), metric.WithAttributes(kind))
	}
}
