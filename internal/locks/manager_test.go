package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// mockClock is a controllable clock for testing.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type booking struct {
	courtID    int64
	start, end time.Time
}

type fakeBookings struct {
	mu       sync.Mutex
	bookings []booking
}

func (f *fakeBookings) add(courtID int64, start, end time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings = append(f.bookings, booking{courtID: courtID, start: start, end: end})
}

func (f *fakeBookings) HasActiveOverlap(_ context.Context, courtID int64, start, end time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.courtID == courtID && b.start.Before(end) && start.Before(b.end) {
			return true, nil
		}
	}
	return false, nil
}

type storeFactory func(t *testing.T, clock Clock) Store

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock Clock) Store {
			s := NewMemoryStore(clock)
			t.Cleanup(s.Close)
			return s
		},
		"redis": func(t *testing.T, _ Clock) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisStore(rdb, "test", 5*time.Minute)
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, m *Manager, clock *mockClock, bookings *fakeBookings)) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			clock := newMockClock()
			bookings := &fakeBookings{}
			m := NewManager(factory(t, clock), bookings, Config{TTL: 5 * time.Minute, MaxPerHolder: 4, Clock: clock})
			fn(t, m, clock, bookings)
		})
	}
}

var slotStart = time.Date(2026, 5, 6, 14, 0, 0, 0, time.UTC)

func TestAcquire_MutualExclusion(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, _ *mockClock, _ *fakeBookings) {
		ctx := context.Background()
		const callers = 8

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			locked    int
		)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(holder string) {
				defer wg.Done()
				_, err := m.Acquire(ctx, 1, slotStart, slotStart.Add(time.Hour), holder)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
					return
				}
				if conflict, ok := AsConflict(err); ok && conflict.Reason == ReasonLocked {
					locked++
					return
				}
				t.Errorf("unexpected error: %v", err)
			}(string(rune('a' + i)))
		}
		wg.Wait()

		if succeeded != 1 {
			t.Fatalf("expected exactly one winner, got %d", succeeded)
		}
		if locked != callers-1 {
			t.Fatalf("expected %d locked conflicts, got %d", callers-1, locked)
		}
	})
}

func TestAcquire_ConflictReasons(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, _ *mockClock, bookings *fakeBookings) {
		ctx := context.Background()

		if _, err := m.Acquire(ctx, 1, slotStart, slotStart.Add(time.Hour), "a"); err != nil {
			t.Fatalf("acquire: %v", err)
		}

		_, err := m.Acquire(ctx, 1, slotStart.Add(30*time.Minute), slotStart.Add(90*time.Minute), "b")
		if !errors.Is(err, ErrAlreadyLocked) {
			t.Fatalf("expected ErrAlreadyLocked, got %v", err)
		}

		bookings.add(1, slotStart.Add(2*time.Hour), slotStart.Add(3*time.Hour))
		_, err = m.Acquire(ctx, 1, slotStart.Add(2*time.Hour), slotStart.Add(3*time.Hour), "b")
		conflict, ok := AsConflict(err)
		if !ok || conflict.Reason != ReasonBooked || !errors.Is(err, ErrAlreadyBooked) {
			t.Fatalf("expected booked conflict, got %v", err)
		}
	})
}

func TestAcquire_NonOverlappingRangesCoexist(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, _ *mockClock, _ *fakeBookings) {
		ctx := context.Background()

		if _, err := m.Acquire(ctx, 1, slotStart, slotStart.Add(time.Hour), "a"); err != nil {
			t.Fatalf("first: %v", err)
		}
		// Adjacent under half-open semantics.
		if _, err := m.Acquire(ctx, 1, slotStart.Add(time.Hour), slotStart.Add(2*time.Hour), "b"); err != nil {
			t.Fatalf("adjacent: %v", err)
		}
		// Same range, different court.
		if _, err := m.Acquire(ctx, 2, slotStart, slotStart.Add(time.Hour), "b"); err != nil {
			t.Fatalf("other court: %v", err)
		}

		active, err := m.ActiveLocks(ctx, 1, slotStart, slotStart.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("active: %v", err)
		}
		if len(active) != 2 || !active[0].Start.Equal(slotStart) {
			t.Fatalf("unexpected active locks: %+v", active)
		}
	})
}

func TestAcquire_ExpiresAfterTTL(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, clock *mockClock, _ *fakeBookings) {
		ctx := context.Background()

		if _, err := m.Acquire(ctx, 1, slotStart, slotStart.Add(time.Hour), "a"); err != nil {
			t.Fatalf("acquire: %v", err)
		}

		clock.Advance(m.TTL() - time.Second)
		if _, err := m.Acquire(ctx, 1, slotStart, slotStart.Add(time.Hour), "b"); !errors.Is(err, ErrAlreadyLocked) {
			t.Fatalf("lock released early: %v", err)
		}

		clock.Advance(time.Second + time.Millisecond)
		if _, err := m.Acquire(ctx, 1, slotStart, slotStart.Add(time.Hour), "b"); err != nil {
			t.Fatalf("expected acquire after TTL, got %v", err)
		}
	})
}

func TestAcquire_HolderLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, clock *mockClock, _ *fakeBookings) {
		ctx := context.Background()

		for i := 0; i < 4; i++ {
			start := slotStart.Add(time.Duration(i) * time.Hour)
			if _, err := m.Acquire(ctx, 1, start, start.Add(time.Hour), "greedy"); err != nil {
				t.Fatalf("acquire %d: %v", i, err)
			}
		}
		if _, err := m.Acquire(ctx, 2, slotStart, slotStart.Add(time.Hour), "greedy"); !errors.Is(err, ErrHolderLimit) {
			t.Fatalf("expected ErrHolderLimit, got %v", err)
		}

		clock.Advance(m.TTL())
		if _, err := m.Acquire(ctx, 2, slotStart, slotStart.Add(time.Hour), "greedy"); err != nil {
			t.Fatalf("expired locks must not count: %v", err)
		}
	})
}

func TestAcquire_InvalidRange(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, _ *mockClock, _ *fakeBookings) {
		_, err := m.Acquire(context.Background(), 1, slotStart, slotStart, "a")
		if !errors.Is(err, ErrInvalidLock) {
			t.Fatalf("expected ErrInvalidLock, got %v", err)
		}
	})
}

func TestValidate_StaleLockIsConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, clock *mockClock, _ *fakeBookings) {
		ctx := context.Background()
		end := slotStart.Add(time.Hour)

		lock, err := m.Acquire(ctx, 1, slotStart, end, "a")
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if _, err := m.Validate(ctx, lock.Token, "a", 1, slotStart, end); err != nil {
			t.Fatalf("validate live lock: %v", err)
		}

		for name, check := range map[string]func() error{
			"other holder": func() error { _, err := m.Validate(ctx, lock.Token, "b", 1, slotStart, end); return err },
			"other range":  func() error { _, err := m.Validate(ctx, lock.Token, "a", 1, slotStart, end.Add(time.Hour)); return err },
			"unknown":      func() error { _, err := m.Validate(ctx, "nope", "a", 1, slotStart, end); return err },
		} {
			conflict, ok := AsConflict(check())
			if !ok || conflict.Reason != ReasonLocked {
				t.Fatalf("%s: expected locked conflict", name)
			}
		}

		clock.Advance(m.TTL())
		_, err = m.Validate(ctx, lock.Token, "a", 1, slotStart, end)
		if conflict, ok := AsConflict(err); !ok || !errors.Is(conflict, ErrLockNotHeld) {
			t.Fatalf("expired lock: expected ErrLockNotHeld conflict, got %v", err)
		}
	})
}

func TestReleaseAndExtend(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, clock *mockClock, _ *fakeBookings) {
		ctx := context.Background()
		end := slotStart.Add(time.Hour)

		lock, err := m.Acquire(ctx, 1, slotStart, end, "a")
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}

		if _, err := m.Release(ctx, lock.Token, "b"); !errors.Is(err, ErrLockNotHeld) {
			t.Fatalf("foreign release: %v", err)
		}

		clock.Advance(4 * time.Minute)
		extended, err := m.Extend(ctx, lock.Token, "a")
		if err != nil {
			t.Fatalf("extend: %v", err)
		}
		if !extended.ExpiresAt.Equal(clock.Now().Add(m.TTL())) {
			t.Fatalf("expiresAt: %s", extended.ExpiresAt)
		}
		if _, err := m.Extend(ctx, lock.Token, "b"); !errors.Is(err, ErrLockNotHeld) {
			t.Fatalf("foreign extend: %v", err)
		}

		clock.Advance(4 * time.Minute)
		if _, err := m.Acquire(ctx, 1, slotStart, end, "b"); !errors.Is(err, ErrAlreadyLocked) {
			t.Fatalf("extended lock must still block: %v", err)
		}

		released, err := m.Release(ctx, lock.Token, "a")
		if err != nil {
			t.Fatalf("release: %v", err)
		}
		if released.Token != lock.Token || released.CourtID != 1 {
			t.Fatalf("released: %+v", released)
		}
		if _, err := m.Acquire(ctx, 1, slotStart, end, "b"); err != nil {
			t.Fatalf("acquire after release: %v", err)
		}
	})
}

func TestEvictExpired(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, clock *mockClock, _ *fakeBookings) {
		ctx := context.Background()

		first, err := m.Acquire(ctx, 1, slotStart, slotStart.Add(time.Hour), "a")
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		clock.Advance(time.Minute)
		if _, err := m.Acquire(ctx, 2, slotStart, slotStart.Add(time.Hour), "b"); err != nil {
			t.Fatalf("acquire: %v", err)
		}

		clock.Advance(m.TTL() - time.Minute)
		evicted, err := m.EvictExpired(ctx)
		if err != nil {
			t.Fatalf("evict: %v", err)
		}
		if len(evicted) != 1 || evicted[0].Token != first.Token || evicted[0].HolderID != "a" {
			t.Fatalf("unexpected evicted: %+v", evicted)
		}

		again, err := m.EvictExpired(ctx)
		if err != nil {
			t.Fatalf("evict again: %v", err)
		}
		if len(again) != 0 {
			t.Fatalf("second eviction returned %d", len(again))
		}
	})
}

func TestEvictExpired_AfterSlotReacquired(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, clock *mockClock, _ *fakeBookings) {
		ctx := context.Background()
		end := slotStart.Add(time.Hour)

		abandoned, err := m.Acquire(ctx, 1, slotStart, end, "alice")
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		clock.Advance(m.TTL() + time.Minute)
		current, err := m.Acquire(ctx, 1, slotStart, end, "bob")
		if err != nil {
			t.Fatalf("acquire over expired lock: %v", err)
		}

		evicted, err := m.EvictExpired(ctx)
		if err != nil {
			t.Fatalf("evict: %v", err)
		}
		if len(evicted) != 1 || evicted[0].Token != abandoned.Token {
			t.Fatalf("expected the abandoned lock to be evicted, got %+v", evicted)
		}
		if _, err := m.Validate(ctx, current.Token, "bob", 1, slotStart, end); err != nil {
			t.Fatalf("current lock lost: %v", err)
		}
	})
}

func TestAcquire_SubSecondRange(t *testing.T) {
	forEachStore(t, func(t *testing.T, m *Manager, _ *mockClock, _ *fakeBookings) {
		ctx := context.Background()
		start := slotStart.Add(200 * time.Millisecond)

		if _, err := m.Acquire(ctx, 1, start, slotStart.Add(800*time.Millisecond), "a"); !errors.Is(err, ErrInvalidLock) {
			t.Fatalf("expected ErrInvalidLock, got %v", err)
		}

		lock, err := m.Acquire(ctx, 1, start, slotStart.Add(time.Hour+500*time.Millisecond), "a")
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if !lock.Start.Equal(slotStart) || !lock.End.Equal(slotStart.Add(time.Hour)) {
			t.Fatalf("range not truncated to seconds: %s-%s", lock.Start, lock.End)
		}
	})
}

func TestLockOverlaps(t *testing.T) {
	l := Lock{Start: slotStart, End: slotStart.Add(time.Hour)}
	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"identical", slotStart, slotStart.Add(time.Hour), true},
		{"inside", slotStart.Add(10 * time.Minute), slotStart.Add(20 * time.Minute), true},
		{"straddles start", slotStart.Add(-time.Hour), slotStart.Add(time.Minute), true},
		{"ends at start", slotStart.Add(-time.Hour), slotStart, false},
		{"starts at end", slotStart.Add(time.Hour), slotStart.Add(2 * time.Hour), false},
	}
	for _, tt := range tests {
		if got := l.Overlaps(tt.start, tt.end); got != tt.want {
			t.Errorf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}
