// Package wizard runs multi-step guided forms on top of the workflow
// engine. Progress lives in the instance payload; the coordinator keeps no
// per-user state of its own.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/cadence/pkg/api"
)

// Validator checks raw step input and returns the values to keep. Rejected
// input is reported as *api.ValidationError.
type Validator func(raw map[string]string) (map[string]string, error)

// Step is one screen of a flow.
type Step struct {
	ID       string
	Title    string
	Validate Validator
}

// Flow is a registered wizard definition.
type Flow struct {
	ID    string
	Steps []Step

	// OnComplete receives all collected data after the last step. An
	// error marks the instance FAILED.
	OnComplete func(ctx context.Context, inst *api.WorkflowInstance, data map[string]map[string]string) error

	// OnCancel receives whatever was collected before cancellation.
	OnCancel func(ctx context.Context, inst *api.WorkflowInstance, data map[string]map[string]string)
}

func (f Flow) validate() error {
	if f.ID == "" {
		return errors.New("flow id is required")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %s has no steps", f.ID)
	}
	seen := make(map[string]bool, len(f.Steps))
	for i, s := range f.Steps {
		if s.ID == "" {
			return fmt.Errorf("flow %s: step %d has no id", f.ID, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("flow %s: duplicate step id %q", f.ID, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// ErrUnknownFlow is returned for flow IDs that were never registered.
var ErrUnknownFlow = errors.New("unknown wizard flow")

// Registry holds flow definitions.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]Flow
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]Flow)}
}

// Register adds or replaces a flow.
func (r *Registry) Register(f Flow) error {
	if err := f.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[f.ID] = f
	return nil
}

// Get returns the flow with the given ID.
func (r *Registry) Get(id string) (Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[id]
	if !ok {
		return Flow{}, fmt.Errorf("%w: %s", ErrUnknownFlow, id)
	}
	return f, nil
}

// IDs returns the registered flow IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset removes all flows.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows = make(map[string]Flow)
}

// Required returns a Validator that rejects empty values for fields and
// keeps only those fields.
func Required(stepID string, fields ...string) Validator {
	return func(raw map[string]string) (map[string]string, error) {
		out := make(map[string]string, len(fields))
		for _, f := range fields {
			v := raw[f]
			if v == "" {
				return nil, &api.ValidationError{StepID: stepID, Field: f, Message: "is required"}
			}
			out[f] = v
		}
		return out, nil
	}
}
