package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/testutil"
)

func TestCreateBookingIfFreeRejectsOverlap(t *testing.T) {
	database := testutil.NewTestDB(t)
	fx := testutil.SeedClub(t, database, "overlap", 8, 20)
	ctx := context.Background()
	start := time.Date(2026, 5, 6, 14, 0, 0, 0, time.UTC)

	id, err := database.Queries.CreateBookingIfFree(ctx, db.CreateBookingParams{
		CourtID:     fx.CourtID,
		RequesterID: "user-a",
		Start:       start,
		End:         start.Add(time.Hour),
		Status:      models.StatusPending,
		PriceCents:  2500,
	})
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}

	_, err = database.Queries.CreateBookingIfFree(ctx, db.CreateBookingParams{
		CourtID:     fx.CourtID,
		RequesterID: "user-b",
		Start:       start.Add(30 * time.Minute),
		End:         start.Add(90 * time.Minute),
		Status:      models.StatusPending,
	})
	if !errors.Is(err, db.ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}

	// Adjacent range is free under half-open semantics.
	if _, err := database.Queries.CreateBookingIfFree(ctx, db.CreateBookingParams{
		CourtID:     fx.CourtID,
		RequesterID: "user-b",
		Start:       start.Add(time.Hour),
		End:         start.Add(2 * time.Hour),
		Status:      models.StatusPending,
	}); err != nil {
		t.Fatalf("adjacent booking: %v", err)
	}

	booking, err := database.Queries.GetBooking(ctx, id)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if booking.ClubID != fx.ClubID || !booking.Start.Equal(start) || booking.Status != models.StatusPending {
		t.Fatalf("unexpected booking: %+v", booking)
	}
}

func TestCancelledBookingFreesSlot(t *testing.T) {
	database := testutil.NewTestDB(t)
	fx := testutil.SeedClub(t, database, "cancelled", 8, 20)
	ctx := context.Background()
	start := time.Date(2026, 5, 6, 10, 0, 0, 0, time.UTC)

	testutil.InsertBooking(t, database, fx.CourtID, "user-a", start, start.Add(time.Hour), "cancelled")

	taken, err := database.Queries.HasActiveOverlap(ctx, fx.CourtID, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("overlap: %v", err)
	}
	if taken {
		t.Fatalf("cancelled booking must not block the slot")
	}
}

func TestTransitionBookingStatusIsCompareAndSet(t *testing.T) {
	database := testutil.NewTestDB(t)
	fx := testutil.SeedClub(t, database, "cas", 8, 20)
	ctx := context.Background()
	start := time.Date(2026, 5, 6, 10, 0, 0, 0, time.UTC)
	id := testutil.InsertBooking(t, database, fx.CourtID, "user-a", start, start.Add(time.Hour), "pending")

	ok, err := database.Queries.TransitionBookingStatus(ctx, id, models.StatusPending, models.StatusPaid)
	if err != nil || !ok {
		t.Fatalf("first transition: %v %v", ok, err)
	}
	ok, err = database.Queries.TransitionBookingStatus(ctx, id, models.StatusPending, models.StatusCancelled)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if ok {
		t.Fatalf("stale expected status must not update")
	}
}

func TestCompleteEndedBookingsIsIdempotent(t *testing.T) {
	database := testutil.NewTestDB(t)
	fx := testutil.SeedClub(t, database, "sweep", 8, 20)
	ctx := context.Background()
	now := time.Date(2026, 5, 6, 18, 0, 0, 0, time.UTC)

	ended := testutil.InsertBooking(t, database, fx.CourtID, "a", now.Add(-3*time.Hour), now.Add(-2*time.Hour), "paid")
	endsNow := testutil.InsertBooking(t, database, fx.CourtID, "b", now.Add(-time.Hour), now, "confirmed")
	cancelled := testutil.InsertBooking(t, database, fx.CourtID, "c", now.Add(-5*time.Hour), now.Add(-4*time.Hour), "cancelled")
	upcoming := testutil.InsertBooking(t, database, fx.CourtID, "d", now.Add(time.Hour), now.Add(2*time.Hour), "paid")

	completed, err := database.Queries.CompleteEndedBookings(ctx, now)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed, got %d", len(completed))
	}

	again, err := database.Queries.CompleteEndedBookings(ctx, now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second sweep changed %d rows", len(again))
	}

	want := map[int64]models.BookingStatus{
		ended:     models.StatusCompleted,
		endsNow:   models.StatusCompleted,
		cancelled: models.StatusCancelled,
		upcoming:  models.StatusPaid,
	}
	for id, status := range want {
		b, err := database.Queries.GetBooking(ctx, id)
		if err != nil {
			t.Fatalf("get %d: %v", id, err)
		}
		if b.Status != status {
			t.Fatalf("booking %d: got %s want %s", id, b.Status, status)
		}
	}
}

func TestRecordPaymentEventDeduplicates(t *testing.T) {
	database := testutil.NewTestDB(t)
	fx := testutil.SeedClub(t, database, "payments", 8, 20)
	ctx := context.Background()
	start := time.Date(2026, 5, 6, 10, 0, 0, 0, time.UTC)
	id := testutil.InsertBooking(t, database, fx.CourtID, "a", start, start.Add(time.Hour), "pending")

	first, err := database.Queries.RecordPaymentEvent(ctx, "pi_123", id, "succeeded")
	if err != nil || !first {
		t.Fatalf("first record: %v %v", first, err)
	}
	second, err := database.Queries.RecordPaymentEvent(ctx, "pi_123", id, "succeeded")
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if second {
		t.Fatalf("duplicate reference must not be recorded twice")
	}
}

func TestGetClubSpecialDateMissing(t *testing.T) {
	database := testutil.NewTestDB(t)
	fx := testutil.SeedClub(t, database, "special", 8, 20)

	_, err := database.Queries.GetClubSpecialDate(context.Background(), fx.ClubID, "2026-05-06")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}
