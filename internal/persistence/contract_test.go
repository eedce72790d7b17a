package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/petrijr/cadence/pkg/api"
)

var contractEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newWizardInstance(id, ref string, created time.Time) *api.WorkflowInstance {
	return &api.WorkflowInstance{
		ID:          id,
		Type:        api.WorkflowTypeWizard,
		ReferenceID: ref,
		State:       api.StateInProgress,
		Version:     1,
		Payload: &api.WizardPayload{
			FlowID:        "incident-intake",
			UserID:        ref,
			TotalSteps:    3,
			CollectedData: map[string]map[string]string{},
		},
		ContextKey: "C-team",
		CreatedAt:  created,
		UpdatedAt:  created,
		ExpiresAt:  created.Add(time.Hour),
	}
}

func newCheckinInstance(id, schedule string, created time.Time) *api.WorkflowInstance {
	return &api.WorkflowInstance{
		ID:          id,
		Type:        api.WorkflowTypeCheckin,
		ReferenceID: schedule,
		State:       api.StateCollecting,
		Version:     1,
		Payload: &api.CheckinPayload{
			ScheduleID:   schedule,
			ScheduledFor: created,
			CollectUntil: created.Add(2 * time.Hour),
			ChannelID:    "C-standup",
			Status:       api.RunCollecting,
			Participants: []string{"U1", "U2"},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// runInstanceStoreContract exercises the behaviour every InstanceStore
// backend must share. newStore must return an empty store.
func runInstanceStoreContract(t *testing.T, newStore func(t *testing.T) InstanceStore) {
	t.Run("InsertAndGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inst := newCheckinInstance("run-1", "sched-1", contractEpoch)
		if err := store.InsertInstance(ctx, inst); err != nil {
			t.Fatalf("InsertInstance failed: %v", err)
		}

		got, err := store.GetInstance(ctx, "run-1")
		if err != nil {
			t.Fatalf("GetInstance failed: %v", err)
		}
		if got.Version != 1 || got.State != api.StateCollecting {
			t.Fatalf("unexpected instance: %+v", got)
		}
		if !got.CreatedAt.Equal(contractEpoch) {
			t.Fatalf("expected CreatedAt %v, got %v", contractEpoch, got.CreatedAt)
		}
		if !got.ExpiresAt.IsZero() {
			t.Fatalf("expected zero ExpiresAt, got %v", got.ExpiresAt)
		}
		p, ok := got.Payload.(*api.CheckinPayload)
		if !ok {
			t.Fatalf("expected *CheckinPayload, got %T", got.Payload)
		}
		if p.ChannelID != "C-standup" || len(p.Participants) != 2 {
			t.Fatalf("unexpected payload: %+v", p)
		}
	})

	t.Run("InsertDuplicate", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inst := newWizardInstance("wiz-1", "U1", contractEpoch)
		if err := store.InsertInstance(ctx, inst); err != nil {
			t.Fatalf("InsertInstance failed: %v", err)
		}
		if err := store.InsertInstance(ctx, inst); !errors.Is(err, ErrInstanceExists) {
			t.Fatalf("expected ErrInstanceExists, got %v", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.GetInstance(context.Background(), "nope"); !errors.Is(err, ErrInstanceNotFound) {
			t.Fatalf("expected ErrInstanceNotFound, got %v", err)
		}
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inst := newWizardInstance("wiz-1", "U1", contractEpoch)
		if err := store.InsertInstance(ctx, inst); err != nil {
			t.Fatalf("InsertInstance failed: %v", err)
		}

		next := inst.Clone()
		next.Version = 2
		next.Payload.(*api.WizardPayload).CurrentStep = 1
		if err := store.CompareAndSwap(ctx, next, 1); err != nil {
			t.Fatalf("CompareAndSwap failed: %v", err)
		}

		stale := inst.Clone()
		stale.Version = 2
		stale.State = api.StateCancelled
		if err := store.CompareAndSwap(ctx, stale, 1); !errors.Is(err, ErrVersionMismatch) {
			t.Fatalf("expected ErrVersionMismatch, got %v", err)
		}

		got, err := store.GetInstance(ctx, "wiz-1")
		if err != nil {
			t.Fatalf("GetInstance failed: %v", err)
		}
		if got.Version != 2 || got.State != api.StateInProgress {
			t.Fatalf("stale write leaked into store: %+v", got)
		}
		if step := got.Payload.(*api.WizardPayload).CurrentStep; step != 1 {
			t.Fatalf("expected currentStep 1, got %d", step)
		}
	})

	t.Run("CompareAndSwapMissing", func(t *testing.T) {
		store := newStore(t)
		inst := newWizardInstance("ghost", "U1", contractEpoch)
		if err := store.CompareAndSwap(context.Background(), inst, 1); !errors.Is(err, ErrInstanceNotFound) {
			t.Fatalf("expected ErrInstanceNotFound, got %v", err)
		}
	})

	t.Run("InvalidPayloadRejected", func(t *testing.T) {
		store := newStore(t)
		inst := newWizardInstance("wiz-bad", "U1", contractEpoch)
		inst.Payload.(*api.WizardPayload).TotalSteps = 0
		if err := store.InsertInstance(context.Background(), inst); err == nil {
			t.Fatalf("expected validation error")
		}
	})

	t.Run("ListFilteredAndOrdered", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := 3; i >= 1; i-- {
			inst := newWizardInstance(fmt.Sprintf("wiz-%d", i), "U1", contractEpoch.Add(time.Duration(i)*time.Minute))
			if err := store.InsertInstance(ctx, inst); err != nil {
				t.Fatalf("InsertInstance failed: %v", err)
			}
		}
		other := newWizardInstance("wiz-other", "U2", contractEpoch)
		other.State = api.StateCompleted
		if err := store.InsertInstance(ctx, other); err != nil {
			t.Fatalf("InsertInstance failed: %v", err)
		}
		if err := store.InsertInstance(ctx, newCheckinInstance("run-1", "sched-1", contractEpoch)); err != nil {
			t.Fatalf("InsertInstance failed: %v", err)
		}

		got, err := store.ListInstances(ctx, InstanceFilter{Type: api.WorkflowTypeWizard, ReferenceID: "U1"})
		if err != nil {
			t.Fatalf("ListInstances failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 instances, got %d", len(got))
		}
		for i, inst := range got {
			if want := fmt.Sprintf("wiz-%d", i+1); inst.ID != want {
				t.Fatalf("position %d: expected %s, got %s", i, want, inst.ID)
			}
		}

		done, err := store.ListInstances(ctx, InstanceFilter{States: []api.State{api.StateCompleted}})
		if err != nil {
			t.Fatalf("ListInstances failed: %v", err)
		}
		if len(done) != 1 || done[0].ID != "wiz-other" {
			t.Fatalf("unexpected state filter result: %+v", done)
		}

		all, err := store.ListInstances(ctx, InstanceFilter{})
		if err != nil {
			t.Fatalf("ListInstances failed: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("expected 5 instances, got %d", len(all))
		}
	})
}
