// Package summary keeps the most recent RunSummary values in memory for the
// status endpoint.
package summary

import (
	"sync"

	"github.com/petrijr/cadence/pkg/api"
)

// DefaultCapacity is used when a Recorder is created with capacity <= 0.
const DefaultCapacity = 100

// Recorder is a bounded ring of summaries, newest last.
type Recorder struct {
	mu   sync.RWMutex
	buf  []api.RunSummary
	next int
	full bool

	hooks []func(api.RunSummary)
}

// NewRecorder creates a recorder holding at most capacity summaries.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{buf: make([]api.RunSummary, capacity)}
}

// OnRecord registers fn to receive a copy of every recorded summary. Hooks
// run synchronously after the summary is stored.
func (r *Recorder) OnRecord(fn func(api.RunSummary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Record stores a copy of s. Nil is ignored.
func (r *Recorder) Record(s *api.RunSummary) {
	if s == nil {
		return
	}
	c := *s
	c.Groups = append([]api.GroupSummary(nil), s.Groups...)
	c.Errors = append([]string(nil), s.Errors...)
	if s.Counts != nil {
		c.Counts = make(map[string]int, len(s.Counts))
		for k, v := range s.Counts {
			c.Counts[k] = v
		}
	}

	r.mu.Lock()
	r.buf[r.next] = c
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	hooks := r.hooks
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(c)
	}
}

// Recent returns up to limit summaries, newest first, optionally filtered
// by kind. limit <= 0 means all.
func (r *Recorder) Recent(kind api.SummaryKind, limit int) []api.RunSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.full {
		n = len(r.buf)
	}

	var out []api.RunSummary
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		s := r.buf[idx]
		if kind != "" && s.Kind != kind {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len returns how many summaries are stored.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Reset drops all summaries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.buf {
		r.buf[i] = api.RunSummary{}
	}
	r.next = 0
	r.full = false
}
