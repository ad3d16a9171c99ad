// Package apitest builds a fully wired booking service for handler tests.
package apitest

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/api/authz"
	"github.com/codr1/courtside/internal/booking"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/locks"
	"github.com/codr1/courtside/internal/realtime"
	"github.com/codr1/courtside/internal/schedule"
	"github.com/codr1/courtside/internal/testutil"
)

// Day is a Wednesday; NewEnv's club is open 08:00-20:00 UTC and the clock
// starts at 09:00 that morning.
const Day = "2026-05-06"

var Morning = time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC)

type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sink records every event the broadcaster emits.
type Sink struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (s *Sink) Publish(_ context.Context, e realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *Sink) OfType(t realtime.EventType) []realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []realtime.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type Env struct {
	DB       *db.DB
	Fixture  testutil.Fixture
	Clock    *Clock
	Registry *realtime.Registry
	Sink     *Sink
	Service  *booking.Service
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	database := testutil.NewTestDB(t)
	fx := testutil.SeedClub(t, database, "api", 8, 20)
	clock := &Clock{now: Morning}

	store := locks.NewMemoryStore(clock)
	t.Cleanup(store.Close)
	manager := locks.NewManager(store, database.Queries, locks.Config{TTL: 5 * time.Minute, MaxPerHolder: 4, Clock: clock})

	registry := realtime.NewRegistry(16)
	t.Cleanup(registry.Close)
	sink := &Sink{}
	broadcaster := realtime.NewBroadcaster(registry, realtime.NewRecentIDs(30*time.Second, clock), sink)

	svc := booking.NewService(database, schedule.NewResolver(database.Queries), manager, broadcaster, booking.WithClock(clock))
	return &Env{
		DB:       database,
		Fixture:  fx,
		Clock:    clock,
		Registry: registry,
		Sink:     sink,
		Service:  svc,
	}
}

// At returns hour:00 UTC on Day.
func At(hour int) time.Time {
	return time.Date(2026, 5, 6, hour, 0, 0, 0, time.UTC)
}

func AsUser(r *http.Request, user *authz.AuthUser) *http.Request {
	return r.WithContext(authz.ContextWithUser(r.Context(), user))
}

func Player(id string) *authz.AuthUser {
	return &authz.AuthUser{ID: id}
}

func ClubAdmin(id string, clubID int64) *authz.AuthUser {
	return &authz.AuthUser{ID: id, ClubIDs: []int64{clubID}}
}
