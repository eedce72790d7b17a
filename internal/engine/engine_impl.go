package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/cadence/internal/persistence"
	"github.com/petrijr/cadence/pkg/api"
)

// engineImpl implements api.Engine on top of an InstanceStore. It holds no
// locks: conflicting writers are serialized by the store's compare-and-swap.
type engineImpl struct {
	instances persistence.InstanceStore
	events    persistence.EventStore
	observer  api.Observer
	now       func() time.Time
	newID     func() string
}

// Config describes how to construct an engineImpl.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer

	// Clock defaults to time.Now.
	Clock func() time.Time

	// NewID generates instance IDs when StartRequest.ID is empty. Defaults
	// to random UUIDs.
	NewID func() string
}

func NewInMemoryEngine() api.Engine {
	return NewEngine(persistence.Persistence{
		Instances: persistence.NewInMemoryStore(),
		Events:    persistence.NewInMemoryEventStore(),
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	inst, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngine(persistence.Persistence{
		Instances: inst,
		Events:    events,
	}), nil
}

// NewPostgresEngine keeps instances in Postgres. History stays in memory.
func NewPostgresEngine(ctx context.Context, pool *pgxpool.Pool) (api.Engine, error) {
	inst, err := persistence.NewPostgresInstanceStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	return NewEngine(persistence.Persistence{
		Instances: inst,
		Events:    persistence.NewInMemoryEventStore(),
	}), nil
}

// NewRedisEngine keeps instances in Redis under prefix. History stays in
// memory.
func NewRedisEngine(client *redis.Client, prefix string) api.Engine {
	return NewEngine(persistence.Persistence{
		Instances: persistence.NewRedisInstanceStore(client, prefix),
		Events:    persistence.NewInMemoryEventStore(),
	})
}

// NewMongoEngine keeps instances in the given Mongo database. History stays
// in memory.
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string) (api.Engine, error) {
	store := persistence.NewMongoInstanceStore(client, dbName, "")
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return NewEngine(persistence.Persistence{
		Instances: store,
		Events:    persistence.NewInMemoryEventStore(),
	}), nil
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	events := cfg.Persistence.Events
	if events == nil {
		events = persistence.NoopEventStore{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &engineImpl{
		instances: cfg.Persistence.Instances,
		events:    events,
		observer:  obs,
		now:       clock,
		newID:     newID,
	}
}

// NewEngine returns an Engine over p with default observer and clock.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
	})
}

func (e *engineImpl) Start(ctx context.Context, req api.StartRequest) (*api.WorkflowInstance, error) {
	if req.Type == "" {
		return nil, errors.New("workflow type is required")
	}
	state := req.InitialState
	if state == "" {
		state = api.StateCreated
	}
	if !state.Valid() || state.Terminal() {
		return nil, fmt.Errorf("%w: initial state %q", api.ErrInvalidTransition, state)
	}
	if req.Payload != nil {
		if req.Payload.WorkflowType() != req.Type {
			return nil, fmt.Errorf("payload type %q does not match workflow type %q", req.Payload.WorkflowType(), req.Type)
		}
		if err := req.Payload.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", req.Type, err)
		}
	}

	now := e.now().UTC()
	inst := &api.WorkflowInstance{
		ID:            req.ID,
		Type:          req.Type,
		ReferenceID:   req.ReferenceID,
		State:         state,
		Version:       1,
		Payload:       req.Payload,
		ContextKey:    req.ContextKey,
		CorrelationID: req.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if inst.ID == "" {
		inst.ID = e.newID()
	}
	if req.TTL > 0 {
		inst.ExpiresAt = now.Add(req.TTL)
	}

	if err := e.instances.InsertInstance(ctx, inst); err != nil {
		if errors.Is(err, persistence.ErrInstanceExists) {
			return nil, fmt.Errorf("%w: %s", api.ErrInstanceExists, inst.ID)
		}
		return nil, err
	}

	e.record(ctx, api.WorkflowEvent{
		InstanceID:   inst.ID,
		At:           now,
		Type:         api.EventInstanceStarted,
		WorkflowType: inst.Type,
		ToState:      inst.State,
		Version:      inst.Version,
	})
	e.observer.OnInstanceStarted(ctx, inst)

	return inst.Clone(), nil
}

func (e *engineImpl) Transition(ctx context.Context, id string, expectedVersion int64, req api.TransitionRequest) (*api.WorkflowInstance, error) {
	cur, err := e.instances.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrNotFoundOrExpired, id)
		}
		return nil, err
	}

	now := e.now().UTC()
	if cur.Expired(now) {
		return nil, fmt.Errorf("%w: %s", api.ErrNotFoundOrExpired, id)
	}
	if cur.Version != expectedVersion {
		return nil, e.conflict(ctx, cur, expectedVersion, req.Actor)
	}
	if cur.State.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", api.ErrInvalidTransition, id, cur.State)
	}
	if !req.ToState.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", api.ErrInvalidTransition, req.ToState)
	}

	next := cur.Clone()
	next.State = req.ToState
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	if req.Payload != nil {
		if req.Payload.WorkflowType() != cur.Type {
			return nil, fmt.Errorf("%w: payload type %q on %s instance", api.ErrInvalidTransition, req.Payload.WorkflowType(), cur.Type)
		}
		if err := req.Payload.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", api.ErrInvalidTransition, err)
		}
		p, err := api.ClonePayload(req.Payload)
		if err != nil {
			return nil, err
		}
		next.Payload = p
	}

	if err := e.instances.CompareAndSwap(ctx, next, expectedVersion); err != nil {
		switch {
		case errors.Is(err, persistence.ErrVersionMismatch):
			return nil, e.conflict(ctx, cur, expectedVersion, req.Actor)
		case errors.Is(err, persistence.ErrInstanceNotFound):
			return nil, fmt.Errorf("%w: %s", api.ErrNotFoundOrExpired, id)
		}
		return nil, err
	}

	e.record(ctx, api.WorkflowEvent{
		InstanceID:   id,
		At:           now,
		Type:         api.EventInstanceTransitioned,
		WorkflowType: next.Type,
		FromState:    cur.State,
		ToState:      next.State,
		Version:      next.Version,
		Actor:        req.Actor,
	})
	e.observer.OnTransition(ctx, next, cur.State, req.Actor)

	return next.Clone(), nil
}

func (e *engineImpl) conflict(ctx context.Context, cur *api.WorkflowInstance, expectedVersion int64, actor string) error {
	e.record(ctx, api.WorkflowEvent{
		InstanceID:   cur.ID,
		At:           e.now().UTC(),
		Type:         api.EventVersionConflict,
		WorkflowType: cur.Type,
		FromState:    cur.State,
		Version:      expectedVersion,
		Actor:        actor,
	})
	e.observer.OnConflict(ctx, cur.ID, expectedVersion)
	return fmt.Errorf("%w: %s expected version %d", api.ErrVersionConflict, cur.ID, expectedVersion)
}

func (e *engineImpl) FindActiveByReference(ctx context.Context, typ api.WorkflowType, referenceID string) (*api.WorkflowInstance, error) {
	list, err := e.instances.ListInstances(ctx, persistence.InstanceFilter{
		Type:        typ,
		ReferenceID: referenceID,
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	// Listing is oldest first.
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Active(now) {
			return list[i], nil
		}
	}
	return nil, nil
}

func (e *engineImpl) Get(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	inst, err := e.instances.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrNotFoundOrExpired, id)
		}
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) List(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error) {
	return e.instances.ListInstances(ctx, persistence.InstanceFilter{
		Type:        opts.Type,
		ReferenceID: opts.ReferenceID,
		ContextKey:  opts.ContextKey,
		States:      opts.States,
	})
}

func (e *engineImpl) History(ctx context.Context, id string) ([]api.WorkflowEvent, error) {
	return e.events.ListEvents(ctx, id)
}

func (e *engineImpl) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	list, err := e.instances.ListInstances(ctx, persistence.InstanceFilter{
		States: []api.State{
			api.StateCreated,
			api.StateInProgress,
			api.StateAwaitingResponse,
			api.StateCollecting,
		},
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, cur := range list {
		if !cur.Expired(now) {
			continue
		}
		next := cur.Clone()
		next.State = api.StateExpired
		next.Version = cur.Version + 1
		next.UpdatedAt = now.UTC()

		err := e.instances.CompareAndSwap(ctx, next, cur.Version)
		if errors.Is(err, persistence.ErrVersionMismatch) || errors.Is(err, persistence.ErrInstanceNotFound) {
			// Someone else touched it since the listing.
			continue
		}
		if err != nil {
			return expired, err
		}

		expired++
		e.record(ctx, api.WorkflowEvent{
			InstanceID:   cur.ID,
			At:           now.UTC(),
			Type:         api.EventInstanceExpired,
			WorkflowType: cur.Type,
			FromState:    cur.State,
			ToState:      api.StateExpired,
			Version:      next.Version,
			Actor:        "sweeper",
		})
		e.observer.OnTransition(ctx, next, cur.State, "sweeper")
	}
	return expired, nil
}

// record appends to the history store. History is diagnostic only, so a
// failed append never fails the write that produced it.
func (e *engineImpl) record(ctx context.Context, ev api.WorkflowEvent) {
	_ = e.events.AppendEvent(ctx, ev)
}
