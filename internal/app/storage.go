package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	// SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/petrijr/cadence/internal/config"
	"github.com/petrijr/cadence/internal/persistence"
	"github.com/petrijr/cadence/internal/taskqueue"
)

// backend holds the store and queue opened for one storage configuration
// together with the handles that must be released on shutdown.
type backend struct {
	persistence persistence.Persistence
	queue       taskqueue.Queue
	closers     []func() error
}

func (b *backend) close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// sqliteDSN enables WAL and a busy timeout so the queue poller and the
// engine can share one file.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}
	st := cfg.Storage
	queueBackend := cfg.QueueBackend()

	var (
		db          *sql.DB
		pgPool      *pgxpool.Pool
		redisClient *redis.Client
		mongoClient *mongo.Client
	)

	switch st.Backend {
	case "memory":
		b.persistence = persistence.Persistence{
			Instances: persistence.NewInMemoryStore(),
			Events:    persistence.NewInMemoryEventStore(),
		}

	case "sqlite":
		var err error
		db, err = sql.Open("sqlite", sqliteDSN(st.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("opening sqlite %s: %w", st.SQLitePath, err)
		}
		db.SetMaxOpenConns(1)
		b.closers = append(b.closers, db.Close)

		inst, err := persistence.NewSQLiteInstanceStore(db)
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("initializing sqlite instance store: %w", err)
		}
		events, err := persistence.NewSQLiteEventStore(db)
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("initializing sqlite event store: %w", err)
		}
		b.persistence = persistence.Persistence{Instances: inst, Events: events}

	case "postgres":
		var err error
		pgPool, err = pgxpool.New(ctx, st.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		b.closers = append(b.closers, func() error { pgPool.Close(); return nil })

		inst, err := persistence.NewPostgresInstanceStore(ctx, pgPool)
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("initializing postgres instance store: %w", err)
		}
		b.persistence = persistence.Persistence{Instances: inst, Events: persistence.NewInMemoryEventStore()}

	case "redis":
		redisClient = redis.NewClient(&redis.Options{Addr: st.RedisAddr})
		b.closers = append(b.closers, redisClient.Close)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = b.close()
			return nil, fmt.Errorf("connecting to redis %s: %w", st.RedisAddr, err)
		}
		b.persistence = persistence.Persistence{
			Instances: persistence.NewRedisInstanceStore(redisClient, st.RedisPrefix),
			Events:    persistence.NewInMemoryEventStore(),
		}

	case "mongo":
		var err error
		mongoClient, err = mongo.Connect(ctx, options.Client().ApplyURI(st.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connecting to mongo: %w", err)
		}
		b.closers = append(b.closers, func() error { return mongoClient.Disconnect(context.Background()) })

		store := persistence.NewMongoInstanceStore(mongoClient, st.MongoDatabase, "")
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = b.close()
			return nil, fmt.Errorf("creating mongo indexes: %w", err)
		}
		b.persistence = persistence.Persistence{Instances: store, Events: persistence.NewInMemoryEventStore()}

	default:
		return nil, fmt.Errorf("unknown storage backend %q", st.Backend)
	}

	switch queueBackend {
	case "memory":
		b.queue = taskqueue.NewInMemoryQueue(cfg.Queue.Capacity)
	case "sqlite":
		q, err := taskqueue.NewSQLiteQueue(db)
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("initializing sqlite queue: %w", err)
		}
		b.queue = q
	case "postgres":
		q, err := taskqueue.NewPostgresQueue(ctx, pgPool)
		if err != nil {
			_ = b.close()
			return nil, fmt.Errorf("initializing postgres queue: %w", err)
		}
		b.queue = q
	case "redis":
		b.queue = taskqueue.NewRedisQueue(redisClient, st.RedisPrefix)
	case "mongo":
		b.queue = taskqueue.NewMongoQueue(mongoClient, st.MongoDatabase, "")
	default:
		_ = b.close()
		return nil, fmt.Errorf("unknown queue backend %q", queueBackend)
	}

	logger.Info("storage_opened",
		slog.String("backend", st.Backend),
		slog.String("queue", queueBackend),
	)
	return b, nil
}
