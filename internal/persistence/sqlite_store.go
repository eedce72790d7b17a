package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/petrijr/cadence/pkg/api"
)

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	db *sql.DB
}

// Ensure SQLiteInstanceStore implements InstanceStore.
var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_instances (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			state TEXT NOT NULL,
			version INTEGER NOT NULL,
			payload BLOB,
			context_key TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_instances_ref ON workflow_instances(type, reference_id);
	`)
	return err
}

func (s *SQLiteInstanceStore) InsertInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	rec, err := toRecord(inst)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances
			(id, type, reference_id, state, version, payload, context_key, correlation_id, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Type, rec.ReferenceID, rec.State, rec.Version, rec.Payload,
		rec.ContextKey, rec.CorrelationID, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInstanceExists
	}
	return nil
}

func (s *SQLiteInstanceStore) CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error {
	rec, err := toRecord(inst)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_instances
		SET state = ?, version = ?, payload = ?, context_key = ?, correlation_id = ?, updated_at = ?, expires_at = ?
		WHERE id = ? AND version = ?`,
		rec.State, rec.Version, rec.Payload, rec.ContextKey, rec.CorrelationID, rec.UpdatedAt, rec.ExpiresAt,
		rec.ID, expectedVersion,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missOrConflict(ctx, rec.ID)
	}
	return nil
}

// missOrConflict tells apart the two reasons a conditional UPDATE can
// affect zero rows.
func (s *SQLiteInstanceStore) missOrConflict(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM workflow_instances WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInstanceNotFound
	}
	if err != nil {
		return err
	}
	return ErrVersionMismatch
}

const instanceColumns = `id, type, reference_id, state, version, payload, context_key, correlation_id, created_at, updated_at, expires_at`

func (s *SQLiteInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return rec.toInstance()
}

func (s *SQLiteInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	var args []any
	var clauses []string

	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.ReferenceID != "" {
		clauses = append(clauses, "reference_id = ?")
		args = append(args, filter.ReferenceID)
	}
	if filter.ContextKey != "" {
		clauses = append(clauses, "context_key = ?")
		args = append(args, filter.ContextKey)
	}
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, st := range filter.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "state IN ("+strings.Join(marks, ", ")+")")
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		inst, err := rec.toInstance()
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record, error) {
	var rec record
	err := row.Scan(
		&rec.ID, &rec.Type, &rec.ReferenceID, &rec.State, &rec.Version, &rec.Payload,
		&rec.ContextKey, &rec.CorrelationID, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt,
	)
	return rec, err
}
