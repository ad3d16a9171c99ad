package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/codr1/courtside/internal/models"
)

// ErrSlotTaken is returned by CreateBookingIfFree when an active booking
// already overlaps the requested range.
var ErrSlotTaken = errors.New("slot already booked")

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// DBTime normalizes a timestamp to the form stored in DATETIME columns so
// string comparison in SQLite matches chronological order.
func DBTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func toNullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

const getClub = `SELECT id, organization_id, name, slug, timezone FROM clubs WHERE id = ?`

func (q *Queries) GetClub(ctx context.Context, id int64) (models.Club, error) {
	var c models.Club
	err := q.db.QueryRowContext(ctx, getClub, id).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Slug, &c.Timezone)
	return c, err
}

const listClubIDs = `SELECT id FROM clubs ORDER BY id`

func (q *Queries) ListClubIDs(ctx context.Context) ([]int64, error) {
	return q.queryIDs(ctx, listClubIDs)
}

const listClubIDsForOrganization = `SELECT id FROM clubs WHERE organization_id = ? ORDER BY id`

func (q *Queries) ListClubIDsForOrganization(ctx context.Context, organizationID int64) ([]int64, error) {
	return q.queryIDs(ctx, listClubIDsForOrganization, organizationID)
}

func (q *Queries) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const listClubHours = `SELECT day_of_week, open_hour, close_hour FROM club_hours WHERE club_id = ? ORDER BY day_of_week`

func (q *Queries) ListClubHours(ctx context.Context, clubID int64) (models.WeeklySchedule, error) {
	rows, err := q.db.QueryContext(ctx, listClubHours, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedule := make(models.WeeklySchedule, 7)
	for rows.Next() {
		var (
			day           int64
			openH, closeH sql.NullInt64
		)
		if err := rows.Scan(&day, &openH, &closeH); err != nil {
			return nil, err
		}
		weekday := time.Weekday(day)
		schedule[weekday] = models.DayHours{
			DayOfWeek: weekday,
			OpenHour:  nullIntPtr(openH),
			CloseHour: nullIntPtr(closeH),
		}
	}
	return schedule, rows.Err()
}

const getClubSpecialDate = `SELECT club_id, date, open_hour, close_hour, is_closed, reason
FROM club_special_dates WHERE club_id = ? AND date = ?`

// GetClubSpecialDate returns sql.ErrNoRows when no override exists.
func (q *Queries) GetClubSpecialDate(ctx context.Context, clubID int64, date string) (models.SpecialDate, error) {
	var (
		sd            models.SpecialDate
		openH, closeH sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, getClubSpecialDate, clubID, date).
		Scan(&sd.ClubID, &sd.Date, &openH, &closeH, &sd.IsClosed, &sd.Reason)
	if err != nil {
		return models.SpecialDate{}, err
	}
	sd.OpenHour = nullIntPtr(openH)
	sd.CloseHour = nullIntPtr(closeH)
	return sd, nil
}

const getCourt = `SELECT id, club_id, name, sport_type, default_price_cents, open_hour, close_hour
FROM courts WHERE id = ?`

func (q *Queries) GetCourt(ctx context.Context, id int64) (models.Court, error) {
	var (
		c             models.Court
		openH, closeH sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, getCourt, id).
		Scan(&c.ID, &c.ClubID, &c.Name, &c.SportType, &c.DefaultPriceCents, &openH, &closeH)
	if err != nil {
		return models.Court{}, err
	}
	c.OpenHour = nullIntPtr(openH)
	c.CloseHour = nullIntPtr(closeH)
	return c, nil
}

const bookingColumns = `b.id, b.court_id, c.club_id, b.requester_id, b.coach_id, b.contact_email,
b.start_time, b.end_time, b.status, b.price_cents, b.payment_reference, b.created_at, b.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (models.Booking, error) {
	var (
		b         models.Booking
		coachID   sql.NullString
		reference sql.NullString
		status    string
	)
	err := row.Scan(&b.ID, &b.CourtID, &b.ClubID, &b.RequesterID, &coachID, &b.ContactEmail,
		&b.Start, &b.End, &status, &b.PriceCents, &reference, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return models.Booking{}, err
	}
	b.Status = models.BookingStatus(status)
	b.CoachID = nullStringPtr(coachID)
	b.PaymentReference = nullStringPtr(reference)
	return b, nil
}

const getBooking = `SELECT ` + bookingColumns + `
FROM bookings b JOIN courts c ON c.id = b.court_id
WHERE b.id = ?`

func (q *Queries) GetBooking(ctx context.Context, id int64) (models.Booking, error) {
	return scanBooking(q.db.QueryRowContext(ctx, getBooking, id))
}

const listActiveBookingsForCourt = `SELECT ` + bookingColumns + `
FROM bookings b JOIN courts c ON c.id = b.court_id
WHERE b.court_id = ?
  AND b.status NOT IN ('cancelled', 'no_show')
  AND b.start_time < ?
  AND b.end_time > ?
ORDER BY b.start_time`

// ListActiveBookingsForCourt returns slot-blocking bookings overlapping [start, end).
func (q *Queries) ListActiveBookingsForCourt(ctx context.Context, courtID int64, start, end time.Time) ([]models.Booking, error) {
	rows, err := q.db.QueryContext(ctx, listActiveBookingsForCourt, courtID, DBTime(end), DBTime(start))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

const hasActiveOverlap = `SELECT EXISTS (
    SELECT 1 FROM bookings
    WHERE court_id = ?
      AND status NOT IN ('cancelled', 'no_show')
      AND start_time < ?
      AND end_time > ?
)`

func (q *Queries) HasActiveOverlap(ctx context.Context, courtID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, hasActiveOverlap, courtID, DBTime(end), DBTime(start)).Scan(&exists)
	return exists, err
}

type CreateBookingParams struct {
	CourtID      int64
	RequesterID  string
	CoachID      *string
	ContactEmail string
	Start        time.Time
	End          time.Time
	Status       models.BookingStatus
	PriceCents   int64
}

// The NOT EXISTS guard makes the overlap check and the insert one atomic
// statement, so concurrent commits for the same range cannot both succeed.
const createBookingIfFree = `INSERT INTO bookings (court_id, requester_id, coach_id, contact_email, start_time, end_time, status, price_cents)
SELECT ?, ?, ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (
    SELECT 1 FROM bookings
    WHERE court_id = ?
      AND status NOT IN ('cancelled', 'no_show')
      AND start_time < ?
      AND end_time > ?
)`

func (q *Queries) CreateBookingIfFree(ctx context.Context, arg CreateBookingParams) (int64, error) {
	start, end := DBTime(arg.Start), DBTime(arg.End)
	result, err := q.db.ExecContext(ctx, createBookingIfFree,
		arg.CourtID, arg.RequesterID, toNullString(arg.CoachID), arg.ContactEmail, start, end, string(arg.Status), arg.PriceCents,
		arg.CourtID, end, start,
	)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrSlotTaken
	}
	return result.LastInsertId()
}

const transitionBookingStatus = `UPDATE bookings
SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = ?`

// TransitionBookingStatus is an optimistic compare-and-set on status. It
// reports false when the row no longer has the expected status.
func (q *Queries) TransitionBookingStatus(ctx context.Context, id int64, from, to models.BookingStatus) (bool, error) {
	result, err := q.db.ExecContext(ctx, transitionBookingStatus, string(to), id, string(from))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

const setBookingPaymentReference = `UPDATE bookings
SET payment_reference = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`

func (q *Queries) SetBookingPaymentReference(ctx context.Context, id int64, reference string) error {
	_, err := q.db.ExecContext(ctx, setBookingPaymentReference, reference, id)
	return err
}

type CompletedBookingRow struct {
	ID      int64
	CourtID int64
}

const completeEndedBookings = `UPDATE bookings
SET status = 'completed', updated_at = CURRENT_TIMESTAMP
WHERE end_time <= ?
  AND status NOT IN ('cancelled', 'no_show', 'completed')
RETURNING id, court_id`

// CompleteEndedBookings promotes every ended, non-terminal booking in one
// statement and returns the rows it changed.
func (q *Queries) CompleteEndedBookings(ctx context.Context, now time.Time) ([]CompletedBookingRow, error) {
	rows, err := q.db.QueryContext(ctx, completeEndedBookings, DBTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var completed []CompletedBookingRow
	for rows.Next() {
		var row CompletedBookingRow
		if err := rows.Scan(&row.ID, &row.CourtID); err != nil {
			return nil, err
		}
		completed = append(completed, row)
	}
	return completed, rows.Err()
}

const insertPaymentEvent = `INSERT INTO payment_events (reference, booking_id, outcome) VALUES (?, ?, ?)
ON CONFLICT (reference) DO NOTHING`

// RecordPaymentEvent reports false when the reference was already processed.
func (q *Queries) RecordPaymentEvent(ctx context.Context, reference string, bookingID int64, outcome string) (bool, error) {
	result, err := q.db.ExecContext(ctx, insertPaymentEvent, reference, bookingID, outcome)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
