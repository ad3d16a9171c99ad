package models

import (
	"errors"
	"fmt"
	"time"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusPaid      BookingStatus = "paid"
	StatusReserved  BookingStatus = "reserved"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
	StatusNoShow    BookingStatus = "no_show"

	// StatusInProgress is derived at read time and never persisted.
	StatusInProgress BookingStatus = "in_progress"
)

var (
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrUnknownStatus     = errors.New("unknown booking status")
)

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusConfirmed, StatusReserved, StatusCompleted, StatusCancelled},
	StatusReserved:  {StatusConfirmed, StatusCompleted, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// TerminalStatuses never transition further.
var TerminalStatuses = []BookingStatus{StatusCompleted, StatusCancelled, StatusNoShow}

func ParseBookingStatus(raw string) (BookingStatus, error) {
	status := BookingStatus(raw)
	switch status {
	case StatusPending, StatusPaid, StatusReserved, StatusConfirmed,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return status, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownStatus, raw)
	}
}

func (s BookingStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	default:
		return false
	}
}

// BlocksSlot reports whether a booking in this status occupies its court range.
func (s BookingStatus) BlocksSlot() bool {
	return s != StatusCancelled && s != StatusNoShow
}

func (s BookingStatus) CanTransition(to BookingStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with both states.
func CheckTransition(from, to BookingStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// DisplayStatus derives what a client should see. Terminal states are shown
// as persisted; ended bookings show completed before the sweep persists it.
func DisplayStatus(start, end time.Time, persisted BookingStatus, now time.Time) BookingStatus {
	if persisted.IsTerminal() {
		return persisted
	}
	if !now.Before(end) {
		return StatusCompleted
	}
	if !now.Before(start) {
		return StatusInProgress
	}
	return persisted
}

type Booking struct {
	ID               int64
	CourtID          int64
	ClubID           int64
	RequesterID      string
	CoachID          *string
	ContactEmail     string
	Start            time.Time
	End              time.Time
	Status           BookingStatus
	PriceCents       int64
	PaymentReference *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (b Booking) DisplayStatus(now time.Time) BookingStatus {
	return DisplayStatus(b.Start, b.End, b.Status, now)
}

// Overlaps uses half-open interval semantics.
func Overlaps(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}
