package booking

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/realtime"
)

// CompleteEnded persists completed for every ended, non-terminal booking in
// one set-based update. A failed run changes nothing and the next run covers
// the same rows.
func (s *Service) CompleteEnded(ctx context.Context) (int, error) {
	now := s.clock.Now()
	rows, err := s.db.Queries.CompleteEndedBookings(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("complete ended bookings: %w", err)
	}

	clubs := s.courtClubs(ctx)
	for _, row := range rows {
		clubID, ok := clubs(row.CourtID)
		if !ok {
			continue
		}
		b := models.Booking{ID: row.ID, CourtID: row.CourtID, ClubID: clubID, Status: models.StatusCompleted}
		s.emit(ctx, bookingEvent(realtime.EventBookingUpdated, b, map[string]any{
			"status":        models.StatusCompleted,
			"displayStatus": models.StatusCompleted,
		}))
	}
	return len(rows), nil
}

// ExpireLocks evicts expired locks and announces each as lock_expired.
func (s *Service) ExpireLocks(ctx context.Context) (int, error) {
	expired, err := s.locks.EvictExpired(ctx)
	clubs := s.courtClubs(ctx)
	for _, lock := range expired {
		clubID, ok := clubs(lock.CourtID)
		if !ok {
			continue
		}
		s.emit(ctx, lockEvent(realtime.EventLockExpired, clubID, lock))
	}
	if err != nil {
		return len(expired), fmt.Errorf("evict expired locks: %w", err)
	}
	return len(expired), nil
}

// courtClubs memoizes court -> club lookups for one sweep.
func (s *Service) courtClubs(ctx context.Context) func(courtID int64) (int64, bool) {
	cache := make(map[int64]int64)
	return func(courtID int64) (int64, bool) {
		if clubID, ok := cache[courtID]; ok {
			return clubID, true
		}
		court, err := s.Court(ctx, courtID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Int64("court_id", courtID).Msg("Cannot route sweep event")
			return 0, false
		}
		cache[courtID] = court.ClubID
		return court.ClubID, true
	}
}
