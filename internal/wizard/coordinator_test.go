package wizard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/cadence/internal/engine"
	"github.com/petrijr/cadence/internal/persistence"
	"github.com/petrijr/cadence/pkg/api"
)

type completion struct {
	mu    sync.Mutex
	calls int
	data  map[string]map[string]string
	err   error
}

func (c *completion) onComplete(ctx context.Context, inst *api.WorkflowInstance, data map[string]map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.data = data
	return c.err
}

func incidentFlow(done *completion, cancelled *map[string]map[string]string) Flow {
	return Flow{
		ID: "incident-intake",
		Steps: []Step{
			{ID: "summary", Title: "What happened?", Validate: Required("summary", "title")},
			{ID: "impact", Title: "Impact", Validate: func(raw map[string]string) (map[string]string, error) {
				switch strings.ToLower(raw["severity"]) {
				case "low", "high":
					return map[string]string{"severity": strings.ToLower(raw["severity"])}, nil
				}
				return nil, &api.ValidationError{StepID: "impact", Field: "severity", Message: "must be low or high"}
			}},
			{ID: "notes", Title: "Anything else?"},
		},
		OnComplete: done.onComplete,
		OnCancel: func(ctx context.Context, inst *api.WorkflowInstance, data map[string]map[string]string) {
			*cancelled = data
		},
	}
}

type fixture struct {
	coord     *Coordinator
	engine    api.Engine
	done      *completion
	cancelled map[string]map[string]string
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{done: &completion{}, now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.engine = engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Instances: persistence.NewInMemoryStore(),
			Events:    persistence.NewInMemoryEventStore(),
		},
		Clock: clock,
	})
	reg := NewRegistry()
	require.NoError(t, reg.Register(incidentFlow(f.done, &f.cancelled)))
	f.coord = NewCoordinator(Config{Engine: f.engine, Registry: reg, Clock: clock})
	return f
}

func (f *fixture) start(t *testing.T) *api.WorkflowInstance {
	t.Helper()
	inst, err := f.coord.Start(context.Background(), "incident-intake", "U1", "view-1")
	require.NoError(t, err)
	return inst
}

func TestStart_InitialPayload(t *testing.T) {
	f := newFixture(t)
	inst := f.start(t)

	assert.Equal(t, api.StateInProgress, inst.State)
	assert.Equal(t, int64(1), inst.Version)
	p := inst.Payload.(*api.WizardPayload)
	assert.Equal(t, 0, p.CurrentStep)
	assert.Equal(t, 3, p.TotalSteps)
	assert.Empty(t, p.CollectedData)
	assert.Equal(t, f.now.Add(DefaultTTL), inst.ExpiresAt)

	_, err := f.coord.Start(context.Background(), "nope", "U1", "v")
	assert.ErrorIs(t, err, ErrUnknownFlow)
}

func TestSubmitStep_ValidationErrorKeepsStep(t *testing.T) {
	f := newFixture(t)
	inst := f.start(t)

	res, err := f.coord.SubmitStep(context.Background(), inst.ID, inst.Version, map[string]string{})
	require.NoError(t, err)
	require.NotNil(t, res.Err)
	assert.Equal(t, "title", res.Err.Field)
	assert.Equal(t, 0, res.Step)
	assert.Equal(t, "summary", res.StepID)

	cur, err := f.engine.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cur.Version, "no transition on invalid input")
}

func TestSubmitStep_FullFlowCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.start(t)

	res, err := f.coord.SubmitStep(ctx, inst.ID, 1, map[string]string{"title": "VPN down", "extra": "dropped"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Step)
	assert.Equal(t, "impact", res.StepID)

	res, err = f.coord.SubmitStep(ctx, inst.ID, res.Instance.Version, map[string]string{"severity": "HIGH"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Step)

	res, err = f.coord.SubmitStep(ctx, inst.ID, res.Instance.Version, map[string]string{"text": "since 8am"})
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, api.StateCompleted, res.Instance.State)

	require.Equal(t, 1, f.done.calls)
	assert.Equal(t, map[string]map[string]string{
		"summary": {"title": "VPN down"},
		"impact":  {"severity": "high"},
		"notes":   {"text": "since 8am"},
	}, f.done.data)
}

func TestSubmitStep_StaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.start(t)

	_, err := f.coord.SubmitStep(ctx, inst.ID, 1, map[string]string{"title": "a"})
	require.NoError(t, err)
	_, err = f.coord.SubmitStep(ctx, inst.ID, 1, map[string]string{"title": "b"})
	assert.ErrorIs(t, err, api.ErrVersionConflict)
}

func TestSubmitStep_CompletionFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.done.err = errors.New("ticket system down")
	inst := f.start(t)

	res, err := f.coord.SubmitStep(ctx, inst.ID, 1, map[string]string{"title": "t"})
	require.NoError(t, err)
	res, err = f.coord.SubmitStep(ctx, inst.ID, res.Instance.Version, map[string]string{"severity": "low"})
	require.NoError(t, err)
	res, err = f.coord.SubmitStep(ctx, inst.ID, res.Instance.Version, nil)
	require.Error(t, err)
	assert.False(t, res.Done)
	assert.Equal(t, api.StateFailed, res.Instance.State)
}

func TestCancel_PassesPartialData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.start(t)

	_, err := f.coord.SubmitStep(ctx, inst.ID, 1, map[string]string{"title": "printer"})
	require.NoError(t, err)

	cancelled, err := f.coord.Cancel(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateCancelled, cancelled.State)
	assert.Equal(t, map[string]map[string]string{"summary": {"title": "printer"}}, f.cancelled)

	_, err = f.coord.SubmitStep(ctx, inst.ID, cancelled.Version, map[string]string{"severity": "low"})
	assert.ErrorIs(t, err, api.ErrInvalidTransition)
}

func TestCancelVersion_StaleVersionSkipsCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.start(t)

	res, err := f.coord.SubmitStep(ctx, inst.ID, inst.Version, map[string]string{"title": "printer"})
	require.NoError(t, err)

	_, err = f.coord.CancelVersion(ctx, inst.ID, inst.Version)
	assert.ErrorIs(t, err, api.ErrVersionConflict)
	assert.Nil(t, f.cancelled, "callback must not run for a cancel that was not stored")

	cur, err := f.engine.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateInProgress, cur.State)
	assert.Equal(t, res.Instance.Version, cur.Version)
}

func TestCancel_RefusedWhileCompleting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.start(t)

	claimed, err := f.engine.Transition(ctx, inst.ID, inst.Version, api.TransitionRequest{
		ToState: api.StateAwaitingResponse,
		Actor:   "U1",
	})
	require.NoError(t, err)

	_, err = f.coord.Cancel(ctx, inst.ID)
	assert.ErrorIs(t, err, api.ErrInvalidTransition)
	assert.Nil(t, f.cancelled)

	cur, err := f.engine.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, claimed.Version, cur.Version)
}

func TestExpiredWizardIsInactive(t *testing.T) {
	f := newFixture(t)
	inst := f.start(t)

	f.now = f.now.Add(DefaultTTL)
	_, err := f.coord.SubmitStep(context.Background(), inst.ID, 1, map[string]string{"title": "late"})
	assert.ErrorIs(t, err, api.ErrNotFoundOrExpired)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(Flow{ID: "empty"}))
	assert.Error(t, r.Register(Flow{ID: "dup", Steps: []Step{{ID: "a"}, {ID: "a"}}}))
	require.NoError(t, r.Register(Flow{ID: "b", Steps: []Step{{ID: "a"}}}))
	require.NoError(t, r.Register(Flow{ID: "a", Steps: []Step{{ID: "a"}}}))
	assert.Equal(t, []string{"a", "b"}, r.IDs())

	r.Reset()
	_, err := r.Get("a")
	assert.ErrorIs(t, err, ErrUnknownFlow)
}
