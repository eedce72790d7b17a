package telemetry

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/petrijr/cadence/pkg/api"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range data.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsObserver_CountsLifecycle(t *testing.T) {
	reader, mp := setupTestMeter()
	obs := NewMetricsObserverWithMeter(mp.Meter("test"))
	ctx := context.Background()

	inst := &api.WorkflowInstance{ID: "i1", Type: api.WorkflowTypeCheckin, State: api.StateCollecting}
	obs.OnInstanceStarted(ctx, inst)
	obs.OnTransition(ctx, inst, api.StateCollecting, "scheduler")
	obs.OnTransition(ctx, inst, api.StateCollecting, "U1")
	obs.OnConflict(ctx, "i1", 1)

	if got := sumOf(t, reader, "cadence.instances.started"); got != 1 {
		t.Errorf("started = %d, want 1", got)
	}
	if got := sumOf(t, reader, "cadence.instances.transitions"); got != 2 {
		t.Errorf("transitions = %d, want 2", got)
	}
	if got := sumOf(t, reader, "cadence.instances.conflicts"); got != 1 {
		t.Errorf("conflicts = %d, want 1", got)
	}
}

func TestMetricsObserver_RecordSummary(t *testing.T) {
	reader, mp := setupTestMeter()
	obs := NewMetricsObserverWithMeter(mp.Meter("test"))

	s := api.NewRunSummary(api.SummaryDispatch, "c", time.Now())
	s.Inc("jobs", 3)
	s.Inc("owners_skipped", 2)
	s.Inc("zero", 0)
	s.Errors = []string{"a"}
	obs.RecordSummary(context.Background(), s)
	obs.RecordSummary(context.Background(), nil)

	if got := sumOf(t, reader, "cadence.pass.items"); got != 5 {
		t.Errorf("pass items = %d, want 5", got)
	}
	if got := sumOf(t, reader, "cadence.pass.errors"); got != 1 {
		t.Errorf("pass errors = %d, want 1", got)
	}
}
