package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/db"
)

// NewTestDB creates a temporary SQLite database with migrations applied.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath)
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// Fixture holds the ids created by SeedClub.
type Fixture struct {
	OrganizationID int64
	ClubID         int64
	CourtID        int64
}

// SeedClub inserts an organization, a club, and one court. Every weekday
// gets openHour-closeHour; pass a negative openHour to leave the week empty.
func SeedClub(t *testing.T, database *db.DB, slug string, openHour, closeHour int) Fixture {
	t.Helper()
	ctx := context.Background()

	orgResult, err := database.ExecContext(ctx,
		"INSERT INTO organizations (name, slug) VALUES (?, ?)",
		"Org "+slug,
		"org-"+slug,
	)
	if err != nil {
		t.Fatalf("insert organization: %v", err)
	}
	orgID, err := orgResult.LastInsertId()
	if err != nil {
		t.Fatalf("organization id: %v", err)
	}

	clubID := InsertClub(t, database, orgID, slug)
	if openHour >= 0 {
		for day := 0; day < 7; day++ {
			SetClubHours(t, database, clubID, time.Weekday(day), &openHour, &closeHour)
		}
	}

	return Fixture{
		OrganizationID: orgID,
		ClubID:         clubID,
		CourtID:        InsertCourt(t, database, clubID, nil, nil),
	}
}

func InsertClub(t *testing.T, database *db.DB, organizationID int64, slug string) int64 {
	t.Helper()

	result, err := database.ExecContext(context.Background(),
		"INSERT INTO clubs (organization_id, name, slug, timezone) VALUES (?, ?, ?, ?)",
		organizationID,
		"Club "+slug,
		slug,
		"UTC",
	)
	if err != nil {
		t.Fatalf("insert club: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("club id: %v", err)
	}
	return id
}

func InsertCourt(t *testing.T, database *db.DB, clubID int64, openHour, closeHour *int) int64 {
	t.Helper()

	result, err := database.ExecContext(context.Background(),
		"INSERT INTO courts (club_id, name, sport_type, default_price_cents, open_hour, close_hour) VALUES (?, ?, ?, ?, ?, ?)",
		clubID,
		"Court",
		"padel",
		2500,
		openHour,
		closeHour,
	)
	if err != nil {
		t.Fatalf("insert court: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("court id: %v", err)
	}
	return id
}

func SetClubHours(t *testing.T, database *db.DB, clubID int64, day time.Weekday, openHour, closeHour *int) {
	t.Helper()

	_, err := database.ExecContext(context.Background(),
		`INSERT INTO club_hours (club_id, day_of_week, open_hour, close_hour) VALUES (?, ?, ?, ?)
		 ON CONFLICT (club_id, day_of_week) DO UPDATE SET open_hour = excluded.open_hour, close_hour = excluded.close_hour`,
		clubID,
		int(day),
		openHour,
		closeHour,
	)
	if err != nil {
		t.Fatalf("upsert club hours: %v", err)
	}
}

func InsertSpecialDate(t *testing.T, database *db.DB, clubID int64, date string, openHour, closeHour *int, isClosed bool) {
	t.Helper()

	_, err := database.ExecContext(context.Background(),
		"INSERT INTO club_special_dates (club_id, date, open_hour, close_hour, is_closed, reason) VALUES (?, ?, ?, ?, ?, ?)",
		clubID,
		date,
		openHour,
		closeHour,
		isClosed,
		"",
	)
	if err != nil {
		t.Fatalf("insert special date: %v", err)
	}
}

// InsertBooking writes a booking row directly, bypassing lock checks.
func InsertBooking(t *testing.T, database *db.DB, courtID int64, requesterID string, start, end time.Time, status string) int64 {
	t.Helper()

	result, err := database.ExecContext(context.Background(),
		"INSERT INTO bookings (court_id, requester_id, start_time, end_time, status, price_cents) VALUES (?, ?, ?, ?, ?, ?)",
		courtID,
		requesterID,
		db.DBTime(start),
		db.DBTime(end),
		status,
		2500,
	)
	if err != nil {
		t.Fatalf("insert booking: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("booking id: %v", err)
	}
	return id
}

func Hour(h int) *int {
	return &h
}
