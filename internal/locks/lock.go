// Package locks provides short-lived exclusive holds on a court time range
// that serialize concurrent checkouts before a booking is written.
package locks

import (
	"errors"
	"fmt"
	"time"
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Reason tells a client why a slot could not be locked.
type Reason string

const (
	ReasonLocked Reason = "locked"
	ReasonBooked Reason = "booked"
)

var (
	ErrAlreadyLocked = errors.New("slot is being checked out by someone else")
	ErrAlreadyBooked = errors.New("slot is already booked")
	// ErrLockNotHeld covers unknown, released, expired and foreign tokens.
	ErrLockNotHeld = errors.New("lock not held")
	ErrHolderLimit = errors.New("too many active locks for holder")
	ErrInvalidLock = errors.New("invalid lock request")
)

// ConflictError is the structured result of a failed acquire or commit.
type ConflictError struct {
	Reason  Reason
	CourtID int64
	Start   time.Time
	End     time.Time
	Err     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("court %d %s-%s: %v", e.CourtID,
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339), e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// AsConflict reports whether err carries a ConflictError.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// Lock is an ephemeral hold on [Start, End) of one court.
type Lock struct {
	Token     string    `json:"token"`
	CourtID   int64     `json:"courtId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	HolderID  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Overlaps uses half-open semantics: adjacent ranges do not overlap.
func (l Lock) Overlaps(start, end time.Time) bool {
	return l.Start.Before(end) && start.Before(l.End)
}

// Covers reports whether the lock is for exactly this court and range.
func (l Lock) Covers(courtID int64, start, end time.Time) bool {
	return l.CourtID == courtID && l.Start.Equal(start) && l.End.Equal(end)
}
