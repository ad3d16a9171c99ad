package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/realtime"
)

var ErrInvalidPayment = errors.New("payment reference and booking id are required")

const (
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

// PaymentResult is a provider's verdict on one booking payment.
type PaymentResult struct {
	BookingID int64
	Reference string
	Succeeded bool
}

func (p PaymentResult) outcome() string {
	if p.Succeeded {
		return PaymentSucceeded
	}
	return PaymentFailed
}

// ApplyPayment moves a pending booking to paid or cancelled. The reference
// is recorded in the same transaction, so a repeated callback is a no-op and
// reports applied=false. Payments for bookings that already left pending are
// recorded and ignored.
func (s *Service) ApplyPayment(ctx context.Context, p PaymentResult) (bool, error) {
	if p.BookingID <= 0 || p.Reference == "" {
		return false, ErrInvalidPayment
	}
	ctx, span := tracer.Start(ctx, "booking.ApplyPayment")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("booking_id", p.BookingID),
		attribute.String("payment.outcome", p.outcome()),
	)

	logger := log.Ctx(ctx).With().
		Int64("booking_id", p.BookingID).
		Str("payment_reference", p.Reference).
		Str("outcome", p.outcome()).
		Logger()

	target := models.StatusCancelled
	if p.Succeeded {
		target = models.StatusPaid
	}

	applied := false
	err := s.db.RunInTx(ctx, func(tx *db.DB) error {
		current, err := tx.Queries.GetBooking(ctx, p.BookingID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("booking %d: %w", p.BookingID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load booking: %w", err)
		}

		fresh, err := tx.Queries.RecordPaymentEvent(ctx, p.Reference, p.BookingID, p.outcome())
		if err != nil {
			return fmt.Errorf("record payment event: %w", err)
		}
		if !fresh {
			logger.Info().Msg("Duplicate payment callback ignored")
			return nil
		}
		if current.Status != models.StatusPending {
			logger.Warn().Str("status", string(current.Status)).Msg("Payment for booking that is no longer pending ignored")
			return nil
		}

		ok, err := tx.Queries.TransitionBookingStatus(ctx, p.BookingID, models.StatusPending, target)
		if err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}
		if !ok {
			return nil
		}
		if p.Succeeded {
			if err := tx.Queries.SetBookingPaymentReference(ctx, p.BookingID, p.Reference); err != nil {
				return fmt.Errorf("set payment reference: %w", err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	b, err := s.GetBooking(ctx, p.BookingID)
	if err != nil {
		// Committed; only the notifications are lost.
		logger.Error().Err(err).Msg("Failed to reload booking after payment")
		return true, nil
	}
	logger.Info().Msg("Payment applied")

	view := NewBookingView(b, s.clock.Now())
	if p.Succeeded {
		s.emit(ctx, bookingEvent(realtime.EventPaymentConfirmed, b, view))
		s.emit(ctx, bookingEvent(realtime.EventBookingUpdated, b, view))
		if s.notifier != nil {
			if err := s.notifier.BookingConfirmed(ctx, b); err != nil {
				logger.Warn().Err(err).Msg("Failed to send booking confirmation")
			}
		}
	} else {
		s.emit(ctx, bookingEvent(realtime.EventPaymentFailed, b, view))
		s.emit(ctx, bookingEvent(realtime.EventBookingCancelled, b, view))
		if s.notifier != nil {
			if err := s.notifier.BookingCancelled(ctx, b); err != nil {
				logger.Warn().Err(err).Msg("Failed to send cancellation notice")
			}
		}
	}
	return true, nil
}
