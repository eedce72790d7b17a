package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petrijr/cadence/pkg/api"
)

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL through a
// pgx connection pool.
type PostgresInstanceStore struct {
	pool *pgxpool.Pool
}

// Ensure PostgresInstanceStore implements InstanceStore.
var _ InstanceStore = (*PostgresInstanceStore)(nil)

// NewPostgresInstanceStore initializes the required schema in the given
// database and returns a new PostgresInstanceStore.
func NewPostgresInstanceStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresInstanceStore, error) {
	s := &PostgresInstanceStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresInstanceStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_instances (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			state TEXT NOT NULL,
			version BIGINT NOT NULL,
			payload BYTEA,
			context_key TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_instances_ref ON workflow_instances(type, reference_id);
	`)
	return err
}

func (s *PostgresInstanceStore) InsertInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	rec, err := toRecord(inst)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_instances
			(id, type, reference_id, state, version, payload, context_key, correlation_id, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Type, rec.ReferenceID, rec.State, rec.Version, rec.Payload,
		rec.ContextKey, rec.CorrelationID, rec.CreatedAt, rec.UpdatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInstanceExists
	}
	return nil
}

func (s *PostgresInstanceStore) CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error {
	rec, err := toRecord(inst)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances
		SET state          = $1,
		    version        = $2,
		    payload        = $3,
		    context_key    = $4,
		    correlation_id = $5,
		    updated_at     = $6,
		    expires_at     = $7
		WHERE id = $8 AND version = $9`,
		rec.State, rec.Version, rec.Payload, rec.ContextKey, rec.CorrelationID, rec.UpdatedAt, rec.ExpiresAt,
		rec.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM workflow_instances WHERE id = $1`, rec.ID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInstanceNotFound
	}
	if err != nil {
		return err
	}
	return ErrVersionMismatch
}

func (s *PostgresInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return rec.toInstance()
}

func (s *PostgresInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	var args []any
	var clauses []string

	if filter.Type != "" {
		args = append(args, string(filter.Type))
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.ReferenceID != "" {
		args = append(args, filter.ReferenceID)
		clauses = append(clauses, fmt.Sprintf("reference_id = $%d", len(args)))
	}
	if filter.ContextKey != "" {
		args = append(args, filter.ContextKey)
		clauses = append(clauses, fmt.Sprintf("context_key = $%d", len(args)))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		args = append(args, states)
		clauses = append(clauses, fmt.Sprintf("state = ANY($%d)", len(args)))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
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
