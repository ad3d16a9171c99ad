package locks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps locks in process. It is correct for a single server
// instance; use RedisStore when several instances share courts.
type MemoryStore struct {
	mu      sync.Mutex
	byToken map[string]Lock
	byCourt map[int64]map[string]struct{}

	clock         Clock
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupOnce   sync.Once
	cleanupWg     sync.WaitGroup
}

// NewMemoryStore creates an empty store. A nil clock uses real time for the
// background cleanup.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryStore{
		byToken:       make(map[string]Lock),
		byCourt:       make(map[int64]map[string]struct{}),
		clock:         clock,
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() {
	s.cleanupCancel()
	s.cleanupWg.Wait()
}

func (s *MemoryStore) Acquire(_ context.Context, lock Lock, maxPerHolder int, now time.Time) error {
	s.startCleanup()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Expired entries stay until EvictExpired so they are reported once.
	for token := range s.byCourt[lock.CourtID] {
		held := s.byToken[token]
		if !held.Expired(now) && held.Overlaps(lock.Start, lock.End) {
			return ErrAlreadyLocked
		}
	}

	if maxPerHolder > 0 {
		count := 0
		for _, held := range s.byToken {
			if held.HolderID == lock.HolderID && !held.Expired(now) {
				count++
			}
		}
		if count >= maxPerHolder {
			return ErrHolderLimit
		}
	}

	s.byToken[lock.Token] = lock
	court := s.byCourt[lock.CourtID]
	if court == nil {
		court = make(map[string]struct{})
		s.byCourt[lock.CourtID] = court
	}
	court[lock.Token] = struct{}{}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string, now time.Time) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.byToken[token]
	if !ok || lock.Expired(now) {
		return Lock{}, ErrLockNotHeld
	}
	return lock, nil
}

func (s *MemoryStore) Release(_ context.Context, token string) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.byToken[token]
	if !ok {
		return Lock{}, ErrLockNotHeld
	}
	s.removeLocked(token)
	return lock, nil
}

func (s *MemoryStore) Extend(_ context.Context, token, holderID string, expiresAt, now time.Time) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.byToken[token]
	if !ok || lock.Expired(now) || lock.HolderID != holderID {
		return Lock{}, ErrLockNotHeld
	}
	lock.ExpiresAt = expiresAt
	s.byToken[token] = lock
	return lock, nil
}

func (s *MemoryStore) ListActive(_ context.Context, courtID int64, start, end, now time.Time) ([]Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []Lock
	for token := range s.byCourt[courtID] {
		lock := s.byToken[token]
		if !lock.Expired(now) && lock.Overlaps(start, end) {
			active = append(active, lock)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Start.Before(active[j].Start) })
	return active, nil
}

func (s *MemoryStore) EvictExpired(_ context.Context, now time.Time) ([]Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(now), nil
}

func (s *MemoryStore) evictLocked(now time.Time) []Lock {
	var evicted []Lock
	for token, lock := range s.byToken {
		if lock.Expired(now) {
			s.removeLocked(token)
			evicted = append(evicted, lock)
		}
	}
	return evicted
}

func (s *MemoryStore) removeLocked(token string) {
	lock, ok := s.byToken[token]
	if !ok {
		return
	}
	delete(s.byToken, token)
	if court := s.byCourt[lock.CourtID]; court != nil {
		delete(court, token)
		if len(court) == 0 {
			delete(s.byCourt, lock.CourtID)
		}
	}
}

// DisableCleanup turns off the background cleanup. Call it when an eviction
// job runs EvictExpired, so every expired lock is returned by that job
// instead of being dropped silently.
func (s *MemoryStore) DisableCleanup() {
	s.cleanupOnce.Do(func() {})
}

// startCleanup bounds memory when no eviction job is scheduled. Expired
// entries are already ignored by every read, so this only frees space.
func (s *MemoryStore) startCleanup() {
	s.cleanupOnce.Do(func() {
		s.cleanupWg.Add(1)
		go func() {
			defer s.cleanupWg.Done()
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-s.cleanupCtx.Done():
					return
				case <-ticker.C:
					s.mu.Lock()
					s.evictLocked(s.clock.Now())
					s.mu.Unlock()
				}
			}
		}()
	})
}
