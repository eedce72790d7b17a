package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/petrijr/cadence/pkg/api"
)

// Two submissions read the same version and race. Exactly one write lands,
// the other sees a conflict, and the stored record reflects the winner.
func TestEngine_ConcurrentSubmissionsSingleWinner(t *testing.T) {
	metrics := &api.BasicMetrics{}
	e := newTestEngine(t, newFakeClock(), metrics)
	ctx := context.Background()
	inst := startWizard(t, e, "U1", 0)

	const writers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []int
		conflict int
	)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			p := wizardPayload(1)
			p.CollectedData["step-0"] = map[string]string{"writer": string(rune('a' + n))}
			_, err := e.Transition(ctx, inst.ID, 1, api.TransitionRequest{ToState: api.StateInProgress, Payload: p})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, n)
			case errors.Is(err, api.ErrVersionConflict):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	if conflict != writers-1 {
		t.Fatalf("expected %d conflicts, got %d", writers-1, conflict)
	}

	got, err := e.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}
	want := string(rune('a' + winners[0]))
	if w := got.Payload.(*api.WizardPayload).CollectedData["step-0"]["writer"]; w != want {
		t.Fatalf("expected winner %q in store, got %q", want, w)
	}

	snap := metrics.Snapshot()
	if snap.Transitions != 1 || snap.VersionConflicts != writers-1 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}
}
