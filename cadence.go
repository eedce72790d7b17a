package cadence

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/cadence/internal/engine"
	"github.com/petrijr/cadence/internal/fanout"
	"github.com/petrijr/cadence/internal/persistence"
	"github.com/petrijr/cadence/pkg/api"
	"github.com/petrijr/cadence/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine              = api.Engine
	WorkflowInstance    = api.WorkflowInstance
	WorkflowType        = api.WorkflowType
	WorkflowEvent       = api.WorkflowEvent
	State               = api.State
	StartRequest        = api.StartRequest
	TransitionRequest   = api.TransitionRequest
	InstanceListOptions = api.InstanceListOptions
	Payload             = api.Payload
	CheckinPayload      = api.CheckinPayload
	WizardPayload       = api.WizardPayload
	RunSummary          = api.RunSummary

	Observer        = api.Observer
	LoggingObserver = api.LoggingObserver
	BasicMetrics    = api.BasicMetrics
	NoopObserver    = api.NoopObserver

	Messenger    = api.Messenger
	Message      = api.Message
	PostResult   = api.PostResult
	ChannelInfo  = api.ChannelInfo
	Planner      = api.Planner
	Plan         = api.Plan
	TicketWriter = api.TicketWriter

	StaleItem    = fanout.StaleItem
	GroupBacklog = fanout.GroupBacklog
	OwnerJob     = fanout.OwnerJob

	WorkerConfig = worker.Config
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export workflow types and states for convenience.

const (
	WorkflowTypeCheckin = api.WorkflowTypeCheckin
	WorkflowTypeWizard  = api.WorkflowTypeWizard

	StateCreated          = api.StateCreated
	StateInProgress       = api.StateInProgress
	StateAwaitingResponse = api.StateAwaitingResponse
	StateCollecting       = api.StateCollecting
	StateCompleted        = api.StateCompleted
	StateCancelled        = api.StateCancelled
	StateExpired          = api.StateExpired
	StateFailed           = api.StateFailed
)

// Re-export sentinel errors.

var (
	ErrVersionConflict   = api.ErrVersionConflict
	ErrNotFoundOrExpired = api.ErrNotFoundOrExpired
	ErrInvalidTransition = api.ErrInvalidTransition
	ErrInstanceExists    = api.ErrInstanceExists
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Instances: persistence.NewInMemoryStore(),
			Events:    persistence.NewInMemoryEventStore(),
		},
		Observer: obs,
	})
}

// NewSQLiteEngine returns an Engine that persists instances and their
// history in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	inst, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{Instances: inst, Events: events},
		Observer:    obs,
	}), nil
}

// NewPostgresEngine returns an Engine that persists instances in PostgreSQL.
func NewPostgresEngine(ctx context.Context, pool *pgxpool.Pool) (Engine, error) {
	return engine.NewPostgresEngine(ctx, pool)
}

// NewRedisEngine returns an Engine that persists instances in Redis under prefix.
func NewRedisEngine(client *redis.Client, prefix string) Engine {
	return engine.NewRedisEngine(client, prefix)
}

// NewMongoEngine returns an Engine that persists instances in the given
// MongoDB database.
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string) (Engine, error) {
	return engine.NewMongoEngine(ctx, client, dbName)
}
