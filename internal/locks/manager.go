package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/codr1/courtside/internal/locks")

// BookingChecker reports committed bookings. *db.Queries satisfies it.
type BookingChecker interface {
	HasActiveOverlap(ctx context.Context, courtID int64, start, end time.Time) (bool, error)
}

// Config holds lock manager configuration.
type Config struct {
	TTL          time.Duration // Lock lifetime without Extend (default: 5m)
	MaxPerHolder int           // Concurrent locks per holder, 0 disables (default: 4)

	// Clock for testing (nil uses real time)
	Clock Clock
}

func DefaultConfig() Config {
	return Config{
		TTL:          5 * time.Minute,
		MaxPerHolder: 4,
	}
}

type Manager struct {
	store    Store
	bookings BookingChecker
	config   Config
	clock    Clock
}

// NewManager wires a lock store to the booking table. bookings may be nil,
// in which case only locks are considered.
func NewManager(store Store, bookings BookingChecker, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Manager{
		store:    store,
		bookings: bookings,
		config:   cfg,
		clock:    clock,
	}
}

func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// normalize truncates to the second, the precision bookings are stored at,
// so a held range always commits as the same range.
func normalize(start, end time.Time) (time.Time, time.Time) {
	return start.UTC().Truncate(time.Second), end.UTC().Truncate(time.Second)
}

func validRange(courtID int64, start, end time.Time) error {
	if courtID <= 0 {
		return fmt.Errorf("%w: court id required", ErrInvalidLock)
	}
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return fmt.Errorf("%w: start must be before end", ErrInvalidLock)
	}
	return nil
}

func (m *Manager) checkBooked(ctx context.Context, courtID int64, start, end time.Time) (bool, error) {
	if m.bookings == nil {
		return false, nil
	}
	booked, err := m.bookings.HasActiveOverlap(ctx, courtID, start, end)
	if err != nil {
		return false, fmt.Errorf("check bookings: %w", err)
	}
	return booked, nil
}

// Acquire holds [start, end) on courtID for holderID. Conflicts are returned
// as *ConflictError wrapping ErrAlreadyLocked or ErrAlreadyBooked.
//
// Bookings are checked before and after the store insert: the store decides
// lock-vs-lock races, and the second check catches a booking committed by a
// holder whose lock expired while we were acquiring.
func (m *Manager) Acquire(ctx context.Context, courtID int64, start, end time.Time, holderID string) (Lock, error) {
	ctx, span := tracer.Start(ctx, "locks.Acquire")
	defer span.End()
	span.SetAttributes(attribute.Int64("court_id", courtID))

	start, end = normalize(start, end)
	if err := validRange(courtID, start, end); err != nil {
		return Lock{}, err
	}
	if holderID == "" {
		return Lock{}, fmt.Errorf("%w: holder required", ErrInvalidLock)
	}

	conflict := func(reason Reason, err error) error {
		span.SetAttributes(attribute.String("conflict", string(reason)))
		return &ConflictError{Reason: reason, CourtID: courtID, Start: start, End: end, Err: err}
	}

	booked, err := m.checkBooked(ctx, courtID, start, end)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Lock{}, err
	}
	if booked {
		return Lock{}, conflict(ReasonBooked, ErrAlreadyBooked)
	}

	now := m.clock.Now().UTC()
	lock := Lock{
		Token:     uuid.NewString(),
		CourtID:   courtID,
		Start:     start,
		End:       end,
		HolderID:  holderID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.TTL),
	}

	switch err := m.store.Acquire(ctx, lock, m.config.MaxPerHolder, now); {
	case err == nil:
	case errors.Is(err, ErrAlreadyLocked):
		return Lock{}, conflict(ReasonLocked, ErrAlreadyLocked)
	case errors.Is(err, ErrHolderLimit):
		return Lock{}, err
	default:
		span.SetStatus(codes.Error, err.Error())
		return Lock{}, fmt.Errorf("acquire lock: %w", err)
	}

	booked, err = m.checkBooked(ctx, courtID, start, end)
	if err != nil || booked {
		if _, relErr := m.store.Release(ctx, lock.Token); relErr != nil {
			log.Ctx(ctx).Warn().Err(relErr).Str("lock_token", lock.Token).Msg("Failed to release lock after booking recheck")
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Lock{}, err
		}
		return Lock{}, conflict(ReasonBooked, ErrAlreadyBooked)
	}

	return lock, nil
}

// Validate confirms token is a live lock owned by holderID for exactly this
// court and range. Anything else is a fresh locked conflict.
func (m *Manager) Validate(ctx context.Context, token, holderID string, courtID int64, start, end time.Time) (Lock, error) {
	start, end = normalize(start, end)
	stale := &ConflictError{Reason: ReasonLocked, CourtID: courtID, Start: start, End: end, Err: ErrLockNotHeld}

	lock, err := m.store.Get(ctx, token, m.clock.Now())
	if errors.Is(err, ErrLockNotHeld) {
		return Lock{}, stale
	}
	if err != nil {
		return Lock{}, fmt.Errorf("get lock: %w", err)
	}
	if lock.HolderID != holderID || !lock.Covers(courtID, start, end) {
		return Lock{}, stale
	}
	return lock, nil
}

// Release drops token. A non-empty holderID must own the lock.
func (m *Manager) Release(ctx context.Context, token, holderID string) (Lock, error) {
	if holderID != "" {
		held, err := m.store.Get(ctx, token, m.clock.Now())
		if err != nil {
			return Lock{}, err
		}
		if held.HolderID != holderID {
			return Lock{}, ErrLockNotHeld
		}
	}
	return m.store.Release(ctx, token)
}

// Extend renews a live lock for another full TTL.
func (m *Manager) Extend(ctx context.Context, token, holderID string) (Lock, error) {
	now := m.clock.Now().UTC()
	return m.store.Extend(ctx, token, holderID, now.Add(m.config.TTL), now)
}

func (m *Manager) ActiveLocks(ctx context.Context, courtID int64, start, end time.Time) ([]Lock, error) {
	return m.store.ListActive(ctx, courtID, start, end, m.clock.Now())
}

// EvictExpired is a best-effort sweep; expired locks are already ignored by
// every other operation.
func (m *Manager) EvictExpired(ctx context.Context) ([]Lock, error) {
	return m.store.EvictExpired(ctx, m.clock.Now())
}
