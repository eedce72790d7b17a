package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/cadence/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe InstanceStore backed by a map.
//
// Records are kept in their encoded form, so callers never alias stored
// state and payloads are validated exactly as they are by the durable
// backends.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]record
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]record),
	}
}

// Ensure InMemoryStore implements the interface.
var _ InstanceStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) InsertInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	rec, err := toRecord(inst)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return ErrInstanceExists
	}
	s.instances[inst.ID] = rec
	return nil
}

func (s *InMemoryStore) CompareAndSwap(ctx context.Context, inst *api.WorkflowInstance, expectedVersion int64) error {
	rec, err := toRecord(inst)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.instances[inst.ID]
	if !ok {
		return ErrInstanceNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionMismatch
	}
	s.instances[inst.ID] = rec
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	s.mu.RLock()
	rec, ok := s.instances[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInstanceNotFound
	}
	return rec.toInstance()
}

func (s *InMemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	s.mu.RLock()
	recs := make([]record, 0, len(s.instances))
	for _, rec := range s.instances {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	sortRecords(recs)

	var result []*api.WorkflowInstance
	for _, rec := range recs {
		inst, err := rec.toInstance()
		if err != nil {
			return nil, err
		}
		if filter.Match(inst) {
			result = append(result, inst)
		}
	}
	return result, nil
}

// Reset drops all instances.
func (s *InMemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = make(map[string]record)
}

func sortRecords(recs []record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt < recs[j].CreatedAt
		}
		return recs[i].ID < recs[j].ID
	})
}
