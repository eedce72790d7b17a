package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/cadence/pkg/api"
)

// DefaultTTL is how long an abandoned wizard stays active.
const DefaultTTL = 30 * time.Minute

// StepResult tells the caller what to render next.
type StepResult struct {
	Instance *api.WorkflowInstance

	// Step is the index of the step to show; equal to the submitted step
	// when validation failed.
	Step   int
	StepID string

	// Done is set once the flow completed.
	Done bool

	// Err is the inline validation error for the same step.
	Err *api.ValidationError
}

// Config wires a Coordinator.
type Config struct {
	Engine   api.Engine
	Registry *Registry

	// TTL defaults to DefaultTTL.
	TTL time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

// Coordinator drives wizard instances.
type Coordinator struct {
	engine   api.Engine
	registry *Registry
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		engine:   cfg.Engine,
		registry: cfg.Registry,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Registry returns the flow registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Start creates an IN_PROGRESS instance positioned at the first step.
// referenceID is typically the chat view or message the wizard is bound to.
func (c *Coordinator) Start(ctx context.Context, flowID, userID, referenceID string) (*api.WorkflowInstance, error) {
	flow, err := c.registry.Get(flowID)
	if err != nil {
		return nil, err
	}
	return c.engine.Start(ctx, api.StartRequest{
		Type:         api.WorkflowTypeWizard,
		ReferenceID:  referenceID,
		InitialState: api.StateInProgress,
		TTL:          c.ttl,
		ContextKey:   userID,
		Payload: &api.WizardPayload{
			FlowID:        flow.ID,
			UserID:        userID,
			CurrentStep:   0,
			TotalSteps:    len(flow.Steps),
			CollectedData: map[string]map[string]string{},
		},
	})
}

// SubmitStep validates raw against the current step. Invalid input leaves
// the instance unchanged and is reported in StepResult.Err. Valid input is
// merged under the step ID and the instance advances, or completes after
// the last step.
func (c *Coordinator) SubmitStep(ctx context.Context, id string, expectedVersion int64, raw map[string]string) (StepResult, error) {
	inst, flow, p, err := c.load(ctx, id)
	if err != nil {
		return StepResult{}, err
	}
	if p.TotalSteps != len(flow.Steps) {
		return StepResult{}, fmt.Errorf("%w: flow %s changed from %d to %d steps", api.ErrInvalidTransition, flow.ID, p.TotalSteps, len(flow.Steps))
	}

	step := flow.Steps[p.CurrentStep]
	values := copyValues(raw)
	if step.Validate != nil {
		values, err = step.Validate(raw)
		if err != nil {
			var verr *api.ValidationError
			if !errors.As(err, &verr) {
				verr = &api.ValidationError{StepID: step.ID, Message: err.Error()}
			}
			return StepResult{Instance: inst, Step: p.CurrentStep, StepID: step.ID, Err: verr}, nil
		}
	}

	if p.CollectedData == nil {
		p.CollectedData = map[string]map[string]string{}
	}
	p.CollectedData[step.ID] = values

	last := p.CurrentStep == p.TotalSteps-1
	if !last {
		p.CurrentStep++
		next, err := c.engine.Transition(ctx, id, expectedVersion, api.TransitionRequest{
			ToState: api.StateInProgress,
			Payload: p,
			Actor:   p.UserID,
		})
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Instance: next, Step: p.CurrentStep, StepID: flow.Steps[p.CurrentStep].ID}, nil
	}

	// The final submit is claimed with a CAS before the callback runs, so
	// two concurrent submits cannot both complete the flow.
	claimed, err := c.engine.Transition(ctx, id, expectedVersion, api.TransitionRequest{
		ToState: api.StateAwaitingResponse,
		Payload: p,
		Actor:   p.UserID,
	})
	if err != nil {
		return StepResult{}, err
	}

	toState := api.StateCompleted
	var cbErr error
	if flow.OnComplete != nil {
		if cbErr = flow.OnComplete(ctx, claimed, p.CollectedData); cbErr != nil {
			c.logger.WarnContext(ctx, "wizard_completion_failed",
				slog.String("instance_id", id),
				slog.String("flow_id", flow.ID),
				slog.Any("error", cbErr),
			)
			toState = api.StateFailed
		}
	}

	done, err := c.engine.Transition(ctx, id, claimed.Version, api.TransitionRequest{
		ToState: toState,
		Actor:   p.UserID,
	})
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Instance: done, Step: p.CurrentStep, StepID: step.ID, Done: cbErr == nil}, cbErr
}

// Cancel moves the instance to CANCELLED and then runs the flow's
// cancellation callback with the partial data.
func (c *Coordinator) Cancel(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	return c.CancelVersion(ctx, id, 0)
}

// CancelVersion is Cancel guarded by the version the caller last saw. A zero
// expectedVersion cancels whatever version is current. The callback only
// runs once the cancel is stored, and a flow whose completion is already
// claimed cannot be cancelled.
func (c *Coordinator) CancelVersion(ctx context.Context, id string, expectedVersion int64) (*api.WorkflowInstance, error) {
	inst, flow, p, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.State == api.StateAwaitingResponse {
		return nil, fmt.Errorf("%w: %s is completing", api.ErrInvalidTransition, id)
	}
	if expectedVersion == 0 {
		expectedVersion = inst.Version
	}

	cancelled, err := c.engine.Transition(ctx, id, expectedVersion, api.TransitionRequest{
		ToState: api.StateCancelled,
		Actor:   p.UserID,
	})
	if err != nil {
		return nil, err
	}
	if flow.OnCancel != nil {
		flow.OnCancel(ctx, cancelled, p.CollectedData)
	}
	return cancelled, nil
}

// Current returns the instance and the step it is waiting on.
func (c *Coordinator) Current(ctx context.Context, id string) (StepResult, error) {
	inst, flow, p, err := c.load(ctx, id)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Instance: inst, Step: p.CurrentStep, StepID: flow.Steps[p.CurrentStep].ID}, nil
}

func (c *Coordinator) load(ctx context.Context, id string) (*api.WorkflowInstance, Flow, *api.WizardPayload, error) {
	inst, err := c.engine.Get(ctx, id)
	if err != nil {
		return nil, Flow{}, nil, err
	}
	if inst.Type != api.WorkflowTypeWizard {
		return nil, Flow{}, nil, fmt.Errorf("%w: %s is a %s instance", api.ErrInvalidTransition, id, inst.Type)
	}
	if inst.Expired(c.now()) {
		return nil, Flow{}, nil, fmt.Errorf("%w: %s", api.ErrNotFoundOrExpired, id)
	}
	if inst.State.Terminal() {
		return nil, Flow{}, nil, fmt.Errorf("%w: %s is %s", api.ErrInvalidTransition, id, inst.State)
	}
	p, ok := inst.Payload.(*api.WizardPayload)
	if !ok {
		return nil, Flow{}, nil, fmt.Errorf("%w: %s has no wizard payload", api.ErrInvalidTransition, id)
	}
	flow, err := c.registry.Get(p.FlowID)
	if err != nil {
		return nil, Flow{}, nil, err
	}
	if p.CurrentStep >= len(flow.Steps) {
		return nil, Flow{}, nil, fmt.Errorf("%w: step %d beyond flow %s", api.ErrInvalidTransition, p.CurrentStep, flow.ID)
	}
	return inst, flow, p, nil
}

func copyValues(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
