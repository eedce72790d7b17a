package summary

import (
	"testing"
	"time"

	"github.com/petrijr/cadence/pkg/api"
)

func TestRecorder_RingKeepsNewest(t *testing.T) {
	r := NewRecorder(3)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s := api.NewRunSummary(api.SummaryDispatch, "", start.Add(time.Duration(i)*time.Minute))
		s.Inc("jobs", i)
		r.Record(s)
	}

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	got := r.Recent("", 0)
	if len(got) != 3 {
		t.Fatalf("len(Recent) = %d, want 3", len(got))
	}
	for i, want := range []int{4, 3, 2} {
		if got[i].Counts["jobs"] != want {
			t.Fatalf("Recent[%d].Counts[jobs] = %d, want %d", i, got[i].Counts["jobs"], want)
		}
	}
}

func TestRecorder_FilterAndLimit(t *testing.T) {
	r := NewRecorder(10)
	now := time.Now()
	r.Record(api.NewRunSummary(api.SummaryDispatch, "a", now))
	r.Record(api.NewRunSummary(api.SummaryReminders, "b", now))
	r.Record(api.NewRunSummary(api.SummaryDispatch, "c", now))
	r.Record(nil)

	got := r.Recent(api.SummaryDispatch, 1)
	if len(got) != 1 || got[0].CorrelationID != "c" {
		t.Fatalf("Recent(dispatch, 1) = %+v", got)
	}
	if n := len(r.Recent(api.SummaryReminders, 0)); n != 1 {
		t.Fatalf("reminder summaries = %d, want 1", n)
	}
}

func TestRecorder_RecordCopies(t *testing.T) {
	r := NewRecorder(2)
	s := api.NewRunSummary(api.SummaryJob, "", time.Now())
	s.Inc("items", 1)
	r.Record(s)

	s.Inc("items", 10)
	if got := r.Recent("", 0)[0].Counts["items"]; got != 1 {
		t.Fatalf("stored summary mutated: items = %d", got)
	}

	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len() after Reset = %d", r.Len())
	}
}

func TestRecorder_OnRecordReceivesCopies(t *testing.T) {
	r := NewRecorder(2)
	var got []api.SummaryKind
	r.OnRecord(func(s api.RunSummary) {
		got = append(got, s.Kind)
	})

	sum := api.NewRunSummary(api.SummaryTrigger, "", time.Now())
	r.Record(sum)
	r.Record(nil)
	r.Record(api.NewRunSummary(api.SummaryFinalize, "", time.Now()))

	if len(got) != 2 || got[0] != api.SummaryTrigger || got[1] != api.SummaryFinalize {
		t.Fatalf("hook saw %v", got)
	}
}
