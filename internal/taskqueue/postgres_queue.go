package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueue implements Queue using a PostgreSQL table.
//
// Schema (created automatically if missing):
//
//	CREATE TABLE IF NOT EXISTS queue_tasks (
//	    id          TEXT PRIMARY KEY,
//	    type        TEXT NOT NULL,
//	    payload     BYTEA NOT NULL,
//	    not_before  BIGINT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Rows are claimed with SELECT ... FOR UPDATE SKIP LOCKED so several
// workers can share the table.
type PostgresQueue struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

// NewPostgresQueue creates the required schema if needed and returns a Queue.
func NewPostgresQueue(ctx context.Context, pool *pgxpool.Pool) (*PostgresQueue, error) {
	q := &PostgresQueue{
		pool:         pool,
		pollInterval: 100 * time.Millisecond,
	}
	if err := q.initSchema(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// Ensure PostgresQueue implements Queue.
var _ Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) initSchema(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS queue_tasks (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			payload    BYTEA NOT NULL,
			not_before BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_queue_tasks_not_before ON queue_tasks(not_before, created_at);
	`)
	return err
}

// Enqueue inserts a task into the queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, t Task) error {
	t = stamp(t, time.Now())
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}

	_, err = q.pool.Exec(ctx, `
		INSERT INTO queue_tasks (id, type, payload, not_before)
		VALUES ($1, $2, $3, $4)`,
		t.ID, string(t.Type), data, t.NotBefore.UnixNano(),
	)
	return err
}

// Dequeue blocks (with polling) until a task is available or ctx is cancelled.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		<-tmr.C
	}
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		task, err := q.claim(ctx, time.Now())
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		tmr.Reset(q.pollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
}

// claim locks, deletes and returns the oldest eligible row in one
// transaction. It returns nil when nothing is eligible.
func (q *PostgresQueue) claim(ctx context.Context, now time.Time) (*Task, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		id      string
		payload []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT id, payload
		FROM queue_tasks
		WHERE not_before <= $1
		ORDER BY not_before, created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, now.UnixNano()).Scan(&id, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	task, err := DecodeTask(payload)
	if err != nil {
		return nil, fmt.Errorf("decode task %q failed: %w", id, err)
	}
	return task, nil
}

// Len returns an approximate number of queued tasks.
func (q *PostgresQueue) Len() int {
	var n int
	if err := q.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM queue_tasks`).Scan(&n); err != nil {
		slog.Warn("postgres queue length failed", slog.Any("error", err))
		return 0
	}
	return n
}
