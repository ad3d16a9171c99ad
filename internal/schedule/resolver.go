// Package schedule resolves the effective opening hours of a court on a date
// from the club's weekly template, the club's special-date overrides and the
// court's own narrower window.
package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/models"
)

const DateLayout = "2006-01-02"

const (
	ReasonSpecialDateClosed = "special_date_closed"
	ReasonWeeklyClosed      = "weekly_closed"
	ReasonCourtWindowEmpty  = "court_window_empty"
	ReasonUnresolvable      = "unresolvable"
)

// ErrUnresolvable marks missing or malformed schedule data.
var ErrUnresolvable = errors.New("schedule unresolvable")

// Result is either open with Hours, or closed with a Reason.
type Result struct {
	Open   bool
	Hours  models.Hours
	Reason string
}

func Closed(reason string) Result {
	return Result{Reason: reason}
}

func OpenFor(h models.Hours) Result {
	return Result{Open: true, Hours: h}
}

// Window returns the absolute [start, end) of the result on date in loc.
// A close hour of 24 ends at the following midnight.
func (r Result) Window(date time.Time, loc *time.Location) (time.Time, time.Time, bool) {
	if !r.Open {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, r.Hours.Open, 0, 0, 0, loc), time.Date(y, m, d, r.Hours.Close, 0, 0, 0, loc), true
}

// Merge applies the layering rules to already-loaded data. special and court
// may be nil. Malformed data returns ErrUnresolvable.
func Merge(date time.Time, weekly models.WeeklySchedule, special *models.SpecialDate, court *models.Court) (Result, error) {
	var base models.Hours

	switch {
	case special != nil:
		if special.IsClosed {
			return Closed(ReasonSpecialDateClosed), nil
		}
		h, ok, err := models.HoursFromPair(special.OpenHour, special.CloseHour)
		if err != nil {
			return Closed(ReasonUnresolvable), fmt.Errorf("%w: special date %s: %v", ErrUnresolvable, special.Date, err)
		}
		if !ok {
			return Closed(ReasonUnresolvable), fmt.Errorf("%w: special date %s has no hours and is not closed", ErrUnresolvable, special.Date)
		}
		base = h
	default:
		entry, found := weekly[date.Weekday()]
		if !found {
			return Closed(ReasonWeeklyClosed), nil
		}
		h, ok, err := models.HoursFromPair(entry.OpenHour, entry.CloseHour)
		if err != nil {
			return Closed(ReasonUnresolvable), fmt.Errorf("%w: weekday %s: %v", ErrUnresolvable, date.Weekday(), err)
		}
		if !ok {
			return Closed(ReasonWeeklyClosed), nil
		}
		base = h
	}

	if court == nil {
		return OpenFor(base), nil
	}
	override, ok, err := models.HoursFromPair(court.OpenHour, court.CloseHour)
	if err != nil {
		return Closed(ReasonUnresolvable), fmt.Errorf("%w: court %d: %v", ErrUnresolvable, court.ID, err)
	}
	if !ok {
		return OpenFor(base), nil
	}

	narrowed := models.Hours{
		Open:  max(base.Open, override.Open),
		Close: min(base.Close, override.Close),
	}
	if !narrowed.Valid() {
		return Closed(ReasonCourtWindowEmpty), nil
	}
	return OpenFor(narrowed), nil
}

// Source is the read side of the schedule store. *db.Queries satisfies it.
type Source interface {
	GetClub(ctx context.Context, id int64) (models.Club, error)
	ListClubHours(ctx context.Context, clubID int64) (models.WeeklySchedule, error)
	GetClubSpecialDate(ctx context.Context, clubID int64, date string) (models.SpecialDate, error)
	GetCourt(ctx context.Context, id int64) (models.Court, error)
}

type Resolver struct {
	source Source
}

func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// Resolve never returns an error: anything it cannot load or validate
// resolves to closed and is logged. date is a calendar date in the club's
// timezone. A courtID of 0 resolves club-level hours only.
func (r *Resolver) Resolve(ctx context.Context, clubID, courtID int64, date time.Time) Result {
	logger := log.Ctx(ctx).With().
		Int64("club_id", clubID).
		Int64("court_id", courtID).
		Str("date", date.Format(DateLayout)).
		Logger()

	result, err := r.load(ctx, clubID, courtID, date)
	if err != nil {
		logger.Warn().Err(err).Msg("Schedule unresolvable, treating as closed")
		return Closed(ReasonUnresolvable)
	}
	return result
}

func (r *Resolver) load(ctx context.Context, clubID, courtID int64, date time.Time) (Result, error) {
	if r == nil || r.source == nil {
		return Result{}, fmt.Errorf("%w: no schedule source", ErrUnresolvable)
	}

	var court *models.Court
	if courtID != 0 {
		c, err := r.source.GetCourt(ctx, courtID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: load court: %v", ErrUnresolvable, err)
		}
		if c.ClubID != clubID {
			return Result{}, fmt.Errorf("%w: court %d does not belong to club %d", ErrUnresolvable, courtID, clubID)
		}
		court = &c
	} else if _, err := r.source.GetClub(ctx, clubID); err != nil {
		return Result{}, fmt.Errorf("%w: load club: %v", ErrUnresolvable, err)
	}

	var special *models.SpecialDate
	sd, err := r.source.GetClubSpecialDate(ctx, clubID, date.Format(DateLayout))
	switch {
	case err == nil:
		special = &sd
	case errors.Is(err, sql.ErrNoRows):
	default:
		return Result{}, fmt.Errorf("%w: load special date: %v", ErrUnresolvable, err)
	}

	var weekly models.WeeklySchedule
	if special == nil {
		weekly, err = r.source.ListClubHours(ctx, clubID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: load weekly hours: %v", ErrUnresolvable, err)
		}
	}

	return Merge(date, weekly, special, court)
}
