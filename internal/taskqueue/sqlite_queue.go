package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// SQLiteQueue is a persistent task queue implementation backed by SQLite.
// Tasks are claimed in NotBefore order; a task is not visible before its
// NotBefore time.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			type TEXT NOT NULL,
			body BLOB NOT NULL,
			not_before INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_not_before ON tasks(not_before, seq);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	t = stamp(t, time.Now())
	body, err := EncodeTask(t)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, type, body, not_before)
		VALUES (?, ?, ?, ?)`,
		t.ID,
		string(t.Type),
		body,
		t.NotBefore.UnixNano(),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
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

		// Nothing available: sleep a bit and retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim deletes and returns the next eligible task, or nil when none is.
func (q *SQLiteQueue) claim(ctx context.Context, now time.Time) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq  int64
		body []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, body
		FROM tasks
		WHERE not_before <= ?
		ORDER BY not_before, seq
		LIMIT 1`, now.UnixNano()).Scan(&seq, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE seq = ?`, seq); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return DecodeTask(body)
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		slog.Warn("sqlite queue length failed", slog.Any("error", err))
		return 0
	}
	return n
}
