package locks

import (
	"context"
	"time"
)

// Store is the shared lock table. Acquire must be atomic with respect to
// every other Acquire on the same court: it is the only linearization point
// for overlapping checkouts.
type Store interface {
	// Acquire stores lock unless an unexpired lock on the same court overlaps
	// it. Returns ErrAlreadyLocked or ErrHolderLimit. maxPerHolder <= 0
	// disables the cap.
	Acquire(ctx context.Context, lock Lock, maxPerHolder int, now time.Time) error
	// Get returns ErrLockNotHeld for unknown or expired tokens.
	Get(ctx context.Context, token string, now time.Time) (Lock, error)
	// Release removes the token and returns what it held, expired or not.
	Release(ctx context.Context, token string) (Lock, error)
	// Extend moves ExpiresAt for a live lock owned by holderID.
	Extend(ctx context.Context, token, holderID string, expiresAt, now time.Time) (Lock, error)
	// ListActive returns unexpired locks on courtID overlapping [start, end).
	ListActive(ctx context.Context, courtID int64, start, end, now time.Time) ([]Lock, error)
	// EvictExpired drops expired entries and returns them.
	EvictExpired(ctx context.Context, now time.Time) ([]Lock, error)
}
