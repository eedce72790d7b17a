// Package dedupe suppresses repeated postings of the same resource to the
// same channel within a short window.
package dedupe

import (
	"sync"
	"time"
)

// DefaultWindow is used when a Guard is created with a zero window.
const DefaultWindow = 5 * time.Minute

// Key identifies one posting target.
type Key struct {
	ResourceID string
	ChannelID  string
}

// Guard tracks when each key was last posted. It is process-local and
// best-effort; the workflow store remains the source of truth.
type Guard struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	last   map[Key]time.Time
}

// NewGuard creates a guard with the given window.
func NewGuard(window time.Duration) *Guard {
	return NewGuardWithClock(window, time.Now)
}

// NewGuardWithClock creates a guard that reads time from now.
func NewGuardWithClock(window time.Duration, now func() time.Time) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{
		window: window,
		now:    now,
		last:   make(map[Key]time.Time),
	}
}

// IsDuplicate reports whether key was posted less than the window ago.
// When it returns false the current time is recorded for key, so the
// caller is expected to post.
func (g *Guard) IsDuplicate(key Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.last[key]; ok && now.Sub(at) < g.window {
		return true
	}
	g.last[key] = now
	return false
}

// Forget drops key, e.g. after the post it guarded failed.
func (g *Guard) Forget(key Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, key)
}

// Sweep removes keys whose window has passed.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for k, at := range g.last {
		if now.Sub(at) >= g.window {
			delete(g.last, k)
			removed++
		}
	}
	return removed
}

// Reset forgets every key.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[Key]time.Time)
}

// Len returns the number of tracked keys.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}
