package api

import (
	"context"
	"time"
)

// WorkflowType tags what kind of interaction an instance tracks. It also
// selects the payload shape (see RegisterPayload).
type WorkflowType string

const (
	WorkflowTypeCheckin WorkflowType = "checkin"
	WorkflowTypeWizard  WorkflowType = "wizard"
)

// State represents the lifecycle state of a workflow instance.
type State string

const (
	StateCreated          State = "CREATED"
	StateInProgress       State = "IN_PROGRESS"
	StateAwaitingResponse State = "AWAITING_RESPONSE"
	StateCollecting       State = "COLLECTING"

	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
	StateExpired   State = "EXPIRED"
	StateFailed    State = "FAILED"
)

var knownStates = map[State]bool{
	StateCreated:          false,
	StateInProgress:       false,
	StateAwaitingResponse: false,
	StateCollecting:       false,
	StateCompleted:        true,
	StateCancelled:        true,
	StateExpired:          true,
	StateFailed:           true,
}

// Terminal reports whether no further transition is permitted out of s.
func (s State) Terminal() bool {
	return knownStates[s]
}

// Valid reports whether s is one of the states defined in this package.
func (s State) Valid() bool {
	_, ok := knownStates[s]
	return ok
}

// WorkflowInstance is a persisted, versioned unit of long-running
// interaction state.
type WorkflowInstance struct {
	ID          string
	Type        WorkflowType
	ReferenceID string
	State       State

	// Version starts at 1 and is incremented by every successful
	// transition. Writers must supply the version they read.
	Version int64

	Payload Payload

	ContextKey    string
	CorrelationID string

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the instance TTL has lapsed at now. An instance
// without an expiry never expires.
func (w *WorkflowInstance) Expired(now time.Time) bool {
	return !w.ExpiresAt.IsZero() && !now.Before(w.ExpiresAt)
}

// Active reports whether the instance is neither terminal nor expired.
func (w *WorkflowInstance) Active(now time.Time) bool {
	return !w.State.Terminal() && !w.Expired(now)
}

// Clone returns a copy of the instance. The payload is deep-copied through
// its codec so callers never share mutable state with a store.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	c := *w
	if w.Payload != nil {
		if p, err := ClonePayload(w.Payload); err == nil {
			c.Payload = p
		}
	}
	return &c
}

// StartRequest describes a new workflow instance.
type StartRequest struct {
	Type         WorkflowType
	ReferenceID  string
	InitialState State
	Payload      Payload

	// TTL sets ExpiresAt relative to the creation time. Zero means the
	// instance never expires.
	TTL time.Duration

	ContextKey    string
	CorrelationID string

	// ID, if set, is used verbatim instead of a generated one. Starting
	// twice with the same ID fails with ErrInstanceExists.
	ID string
}

// TransitionRequest describes a compare-and-swap mutation.
type TransitionRequest struct {
	ToState State

	// Payload replaces the stored payload when non-nil. It must carry the
	// same WorkflowType as the instance.
	Payload Payload

	// Actor is recorded in the history event (user id, "scheduler", ...).
	Actor string
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	Type        WorkflowType
	ReferenceID string
	ContextKey  string
	States      []State
}

// Engine is the workflow state store: the single source of truth for
// workflow instances. Conflicting writes are serialized by the underlying
// store's compare-and-swap, never by in-process locks.
type Engine interface {
	// Start creates a new instance at version 1. It does not enforce
	// uniqueness of (Type, ReferenceID); use FindActiveByReference first
	// when at most one active instance is wanted.
	Start(ctx context.Context, req StartRequest) (*WorkflowInstance, error)

	// Transition atomically applies req if the stored version equals
	// expectedVersion. It fails with ErrVersionConflict,
	// ErrNotFoundOrExpired or ErrInvalidTransition.
	Transition(ctx context.Context, id string, expectedVersion int64, req TransitionRequest) (*WorkflowInstance, error)

	// FindActiveByReference returns the newest non-terminal, non-expired
	// instance for (typ, referenceID), or nil when there is none.
	FindActiveByReference(ctx context.Context, typ WorkflowType, referenceID string) (*WorkflowInstance, error)

	// Get looks up an instance by ID regardless of state or expiry.
	Get(ctx context.Context, id string) (*WorkflowInstance, error)

	// List returns instances matching opts.
	List(ctx context.Context, opts InstanceListOptions) ([]*WorkflowInstance, error)

	// History returns the recorded events of an instance in order.
	History(ctx context.Context, id string) ([]WorkflowEvent, error)

	// ExpireStale marks non-terminal instances whose TTL lapsed as EXPIRED.
	// It returns how many instances were updated.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}
