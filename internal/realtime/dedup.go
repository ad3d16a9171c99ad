package realtime

import (
	"sync"
	"time"
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type seenID struct {
	id string
	at time.Time
}

// RecentIDs remembers event ids for a fixed window. Entries are evicted
// lazily in insertion order, so no timer is needed.
type RecentIDs struct {
	mu     sync.Mutex
	window time.Duration
	clock  Clock
	seen   map[string]time.Time
	order  []seenID
}

func NewRecentIDs(window time.Duration, clock Clock) *RecentIDs {
	if clock == nil {
		clock = realClock{}
	}
	return &RecentIDs{
		window: window,
		clock:  clock,
		seen:   make(map[string]time.Time),
	}
}

// Seen reports whether id was recorded within the window, recording it if not.
func (r *RecentIDs) Seen(id string) bool {
	if r == nil || r.window <= 0 || id == "" {
		return false
	}
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked(now)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = now
	r.order = append(r.order, seenID{id: id, at: now})
	return false
}

func (r *RecentIDs) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(r.clock.Now())
	return len(r.seen)
}

func (r *RecentIDs) evictLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	n := 0
	for n < len(r.order) && !r.order[n].at.After(cutoff) {
		delete(r.seen, r.order[n].id)
		n++
	}
	if n > 0 {
		r.order = append(r.order[:0], r.order[n:]...)
	}
}
