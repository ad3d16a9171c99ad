// Package booking orchestrates availability, slot locks, booking commits and
// status changes, and emits the matching realtime events.
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/locks"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/realtime"
	"github.com/codr1/courtside/internal/schedule"
)

var tracer = otel.Tracer("github.com/codr1/courtside/internal/booking")

var (
	ErrNotFound            = errors.New("not found")
	ErrOutsideOpeningHours = errors.New("range is outside opening hours")
	ErrInvalidRange        = errors.New("invalid time range")
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Emitter is satisfied by *realtime.Broadcaster.
type Emitter interface {
	Emit(ctx context.Context, e realtime.Event)
}

// Notifier is told about bookings whose payment succeeded and bookings that
// were cancelled, by the requester or by a failed payment.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b models.Booking) error
	BookingCancelled(ctx context.Context, b models.Booking) error
}

type Service struct {
	db       *db.DB
	resolver *schedule.Resolver
	locks    *locks.Manager
	events   Emitter
	notifier Notifier
	clock    Clock
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(database *db.DB, resolver *schedule.Resolver, lockManager *locks.Manager, events Emitter, opts ...Option) *Service {
	s := &Service{
		db:       database,
		resolver: resolver,
		locks:    lockManager,
		events:   events,
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) emit(ctx context.Context, e realtime.Event) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, e)
}

func bookingEvent(t realtime.EventType, b models.Booking, data any) realtime.Event {
	entityID := strconv.FormatInt(b.ID, 10)
	return realtime.Event{
		ID:       realtime.EventID(t, entityID, string(b.Status)),
		Type:     t,
		ClubID:   b.ClubID,
		CourtID:  b.CourtID,
		EntityID: entityID,
		Data:     data,
	}
}

func lockEvent(t realtime.EventType, clubID int64, l locks.Lock) realtime.Event {
	return realtime.Event{
		ID:       realtime.EventID(t, l.Token),
		Type:     t,
		ClubID:   clubID,
		CourtID:  l.CourtID,
		EntityID: l.Token,
		Data: map[string]any{
			"start":     l.Start,
			"end":       l.End,
			"expiresAt": l.ExpiresAt,
		},
	}
}

// Court loads a court, mapping a missing row to ErrNotFound.
func (s *Service) Court(ctx context.Context, courtID int64) (models.Court, error) {
	court, err := s.db.Queries.GetCourt(ctx, courtID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Court{}, fmt.Errorf("court %d: %w", courtID, ErrNotFound)
	}
	if err != nil {
		return models.Court{}, fmt.Errorf("load court %d: %w", courtID, err)
	}
	return court, nil
}

// Club loads a club, mapping a missing row to ErrNotFound.
func (s *Service) Club(ctx context.Context, clubID int64) (models.Club, error) {
	club, err := s.db.Queries.GetClub(ctx, clubID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Club{}, fmt.Errorf("club %d: %w", clubID, ErrNotFound)
	}
	if err != nil {
		return models.Club{}, fmt.Errorf("load club %d: %w", clubID, err)
	}
	return club, nil
}

func (s *Service) clubLocation(ctx context.Context, club models.Club) *time.Location {
	loc, err := club.Location()
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("club_id", club.ID).Msg("Unknown club timezone, using UTC")
	}
	return loc
}

// checkOpen verifies [start, end) lies inside the court's resolved hours on
// the club-local date of start.
func (s *Service) checkOpen(ctx context.Context, court models.Court, start, end time.Time) error {
	if !start.Before(end) {
		return ErrInvalidRange
	}
	club, err := s.Club(ctx, court.ClubID)
	if err != nil {
		return err
	}
	loc := s.clubLocation(ctx, club)
	day := start.In(loc)
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)

	hours := s.resolver.Resolve(ctx, court.ClubID, court.ID, date)
	opens, closes, ok := hours.Window(date, loc)
	if !ok || start.Before(opens) || end.After(closes) {
		return ErrOutsideOpeningHours
	}
	return nil
}

// AcquireLock holds a slot for holderID after checking it is within opening
// hours. Conflicts come back as *locks.ConflictError.
func (s *Service) AcquireLock(ctx context.Context, holderID string, courtID int64, start, end time.Time) (locks.Lock, error) {
	court, err := s.Court(ctx, courtID)
	if err != nil {
		return locks.Lock{}, err
	}
	if err := s.checkOpen(ctx, court, start, end); err != nil {
		return locks.Lock{}, err
	}

	lock, err := s.locks.Acquire(ctx, courtID, start, end, holderID)
	if err != nil {
		return locks.Lock{}, err
	}

	log.Ctx(ctx).Info().
		Int64("court_id", courtID).
		Str("lock_token", lock.Token).
		Str("holder_id", holderID).
		Time("expires_at", lock.ExpiresAt).
		Msg("Slot locked")
	s.emit(ctx, lockEvent(realtime.EventSlotLocked, court.ClubID, lock))
	return lock, nil
}

// ReleaseLock drops a lock owned by holderID.
func (s *Service) ReleaseLock(ctx context.Context, holderID, token string) error {
	lock, err := s.locks.Release(ctx, token, holderID)
	if err != nil {
		return err
	}
	s.emitUnlocked(ctx, lock)
	return nil
}

func (s *Service) emitUnlocked(ctx context.Context, lock locks.Lock) {
	court, err := s.Court(ctx, lock.CourtID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("lock_token", lock.Token).Msg("Cannot route slot_unlocked event")
		return
	}
	s.emit(ctx, lockEvent(realtime.EventSlotUnlocked, court.ClubID, lock))
}

func (s *Service) ExtendLock(ctx context.Context, holderID, token string) (locks.Lock, error) {
	return s.locks.Extend(ctx, token, holderID)
}

type CreateBookingRequest struct {
	HolderID     string
	ContactEmail string
	LockToken    string
	CourtID      int64
	Start        time.Time
	End          time.Time
	CoachID      *string
}

// CreateBooking commits a booking for a range the caller holds a lock on and
// consumes the lock. If the commit fails the lock is released so the slot is
// free again immediately.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (models.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.CreateBooking")
	defer span.End()
	span.SetAttributes(attribute.Int64("court_id", req.CourtID))

	logger := log.Ctx(ctx).With().
		Int64("court_id", req.CourtID).
		Str("holder_id", req.HolderID).
		Logger()

	held, err := s.locks.Validate(ctx, req.LockToken, req.HolderID, req.CourtID, req.Start, req.End)
	if err != nil {
		return models.Booking{}, err
	}
	req.Start, req.End = held.Start, held.End

	b, err := s.commit(ctx, req)
	if err != nil {
		if lock, relErr := s.locks.Release(ctx, req.LockToken, ""); relErr == nil {
			s.emitUnlocked(ctx, lock)
		} else if !errors.Is(relErr, locks.ErrLockNotHeld) {
			logger.Warn().Err(relErr).Msg("Failed to release lock after failed booking")
		}
		return models.Booking{}, err
	}

	if _, err := s.locks.Release(ctx, req.LockToken, ""); err != nil && !errors.Is(err, locks.ErrLockNotHeld) {
		// The booking row already blocks the range; the lock will expire.
		logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("Failed to release consumed lock")
	}

	logger.Info().Int64("booking_id", b.ID).Msg("Booking created")
	s.emit(ctx, bookingEvent(realtime.EventBookingCreated, b, bookingPayload(b, s.clock.Now(), req.LockToken)))
	return b, nil
}

func (s *Service) commit(ctx context.Context, req CreateBookingRequest) (models.Booking, error) {
	court, err := s.Court(ctx, req.CourtID)
	if err != nil {
		return models.Booking{}, err
	}

	id, err := s.db.Queries.CreateBookingIfFree(ctx, db.CreateBookingParams{
		CourtID:      req.CourtID,
		RequesterID:  req.HolderID,
		CoachID:      req.CoachID,
		ContactEmail: req.ContactEmail,
		Start:        req.Start,
		End:          req.End,
		Status:       models.StatusPending,
		PriceCents:   priceFor(court, req.Start, req.End),
	})
	if errors.Is(err, db.ErrSlotTaken) {
		return models.Booking{}, &locks.ConflictError{
			Reason:  locks.ReasonBooked,
			CourtID: req.CourtID,
			Start:   req.Start,
			End:     req.End,
			Err:     locks.ErrAlreadyBooked,
		}
	}
	if err != nil {
		return models.Booking{}, fmt.Errorf("create booking: %w", err)
	}

	return s.GetBooking(ctx, id)
}

// priceFor charges the court's hourly price pro rata by minute.
func priceFor(court models.Court, start, end time.Time) int64 {
	minutes := int64(end.Sub(start) / time.Minute)
	return court.DefaultPriceCents * minutes / 60
}

func (s *Service) GetBooking(ctx context.Context, id int64) (models.Booking, error) {
	b, err := s.db.Queries.GetBooking(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Booking{}, fmt.Errorf("load booking %d: %w", id, err)
	}
	return b, nil
}

// Now is the service clock, for display status derivation by callers.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// BookingView is the wire form of a booking with its derived status.
type BookingView struct {
	ID               int64                `json:"id"`
	ClubID           int64                `json:"clubId"`
	CourtID          int64                `json:"courtId"`
	RequesterID      string               `json:"requesterId"`
	CoachID          *string              `json:"coachId,omitempty"`
	Start            time.Time            `json:"start"`
	End              time.Time            `json:"end"`
	Status           models.BookingStatus `json:"status"`
	DisplayStatus    models.BookingStatus `json:"displayStatus"`
	PriceCents       int64                `json:"priceCents"`
	PaymentReference *string              `json:"paymentReference,omitempty"`
	LockToken        string               `json:"lockToken,omitempty"`
}

func bookingPayload(b models.Booking, now time.Time, lockToken string) BookingView {
	v := NewBookingView(b, now)
	v.LockToken = lockToken
	return v
}

func NewBookingView(b models.Booking, now time.Time) BookingView {
	return BookingView{
		ID:               b.ID,
		ClubID:           b.ClubID,
		CourtID:          b.CourtID,
		RequesterID:      b.RequesterID,
		CoachID:          b.CoachID,
		Start:            b.Start.UTC(),
		End:              b.End.UTC(),
		Status:           b.Status,
		DisplayStatus:    b.DisplayStatus(now),
		PriceCents:       b.PriceCents,
		PaymentReference: b.PaymentReference,
	}
}

// transition moves a booking from its current status to to, checking the
// state machine and guarding the write with a compare-and-set.
func (s *Service) transition(ctx context.Context, id int64, to models.BookingStatus) (models.Booking, error) {
	current, err := s.GetBooking(ctx, id)
	if err != nil {
		return models.Booking{}, err
	}
	if err := models.CheckTransition(current.Status, to); err != nil {
		return models.Booking{}, err
	}
	ok, err := s.db.Queries.TransitionBookingStatus(ctx, id, current.Status, to)
	if err != nil {
		return models.Booking{}, fmt.Errorf("update booking %d: %w", id, err)
	}
	if !ok {
		// Someone else moved it first; report against the fresh status.
		fresh, err := s.GetBooking(ctx, id)
		if err != nil {
			return models.Booking{}, err
		}
		return models.Booking{}, fmt.Errorf("%w: booking is now %s", models.ErrInvalidTransition, fresh.Status)
	}
	return s.GetBooking(ctx, id)
}

// CancelBooking cancels a non-terminal booking.
func (s *Service) CancelBooking(ctx context.Context, id int64) (models.Booking, error) {
	b, err := s.transition(ctx, id, models.StatusCancelled)
	if err != nil {
		return models.Booking{}, err
	}
	logger := log.Ctx(ctx)
	logger.Info().Int64("booking_id", id).Msg("Booking cancelled")
	s.emit(ctx, bookingEvent(realtime.EventBookingCancelled, b, NewBookingView(b, s.clock.Now())))
	if s.notifier != nil {
		if err := s.notifier.BookingCancelled(ctx, b); err != nil {
			logger.Warn().Err(err).Int64("booking_id", id).Msg("Failed to send cancellation notice")
		}
	}
	return b, nil
}

// staffTargets are the statuses club staff may set directly. Payment and
// completion have their own paths.
var staffTargets = map[models.BookingStatus]bool{
	models.StatusConfirmed: true,
	models.StatusReserved:  true,
	models.StatusNoShow:    true,
}

// UpdateStatus applies a staff transition.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to models.BookingStatus) (models.Booking, error) {
	if !staffTargets[to] {
		return models.Booking{}, fmt.Errorf("%w: %s cannot be set directly", models.ErrInvalidTransition, to)
	}
	b, err := s.transition(ctx, id, to)
	if err != nil {
		return models.Booking{}, err
	}
	log.Ctx(ctx).Info().Int64("booking_id", id).Str("status", string(to)).Msg("Booking status updated")
	s.emit(ctx, bookingEvent(realtime.EventBookingUpdated, b, NewBookingView(b, s.clock.Now())))
	return b, nil
}
