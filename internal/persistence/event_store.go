package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/cadence/pkg/api"
)

// EventStore is an append-only history store for instance events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.WorkflowEvent) error
	ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.WorkflowEvent) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error) {
	return nil, nil
}

// InMemoryEventStore keeps events in a map keyed by instance ID.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]api.WorkflowEvent
}

var _ EventStore = (*InMemoryEventStore)(nil)

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string][]api.WorkflowEvent)}
}

func (s *InMemoryEventStore) AppendEvent(ctx context.Context, ev api.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.InstanceID] = append(s.events[ev.InstanceID], ev)
	return nil
}

func (s *InMemoryEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[instanceID]
	out := make([]api.WorkflowEvent, len(evs))
	copy(out, evs)
	return out, nil
}
