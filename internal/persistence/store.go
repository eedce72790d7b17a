package persistence

import (
	"context"
	"errors"

	"github.com/petrijr/cadence/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when a workflow instance is not found.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceExists is returned by InsertInstance for a duplicate ID.
	ErrInstanceExists = errors.New("instance already exists")

	// ErrVersionMismatch is returned by CompareAndSwap when the stored
	// version differs from the expected one. The stored record is untouched.
	ErrVersionMismatch = errors.New("version mismatch")
)

// InstanceFilter is used to select instances from the store.
// Empty fields mean "no filter" for that field.
type InstanceFilter struct {
	Type        api.WorkflowType
	ReferenceID string
	ContextKey  string
	States      []api.State
}

// Match reports whether inst satisfies the filter.
func (f InstanceFilter) Match(inst *api.WorkflowInstance) bool {
	if f.Type != "" && inst.Type != f.Type {
		return false
	}
	if f.ReferenceID != "" && inst.ReferenceID != f.ReferenceID {
		return false
	}
	if f.ContextKey != "" && inst.ContextKey != f.ContextKey {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if inst.State == s {
			return true
		}
	}
	return false
}

// InstanceStore persists workflow instances with version-aware writes.
//
// Implementations must make CompareAndSwap atomic with respect to other
// writers, including writers in other processes sharing the same backend.
type InstanceStore interface {
	// InsertInstance stores a new record. It fails with ErrInstanceExists
	// if the ID is taken.
	InsertInstance(ctx context.Context, inst *api.WorkflowInstance) error

	// CompareAndSwap replaces the stored record with inst only if the
	// stored version equals expectedVersion. inst.Version carries the new
	// version. It fails with ErrVersionMismatch or ErrInstanceNotFound.
	CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error

	// GetInstance returns a copy of the stored record.
	GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error)

	// ListInstances returns copies of all records matching filter, ordered
	// by creation time ascending.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error)
}
