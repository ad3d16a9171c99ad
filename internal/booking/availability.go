package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/codr1/courtside/internal/models"
	"github.com/codr1/courtside/internal/schedule"
)

var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

type SlotState string

const (
	SlotAvailable SlotState = "available"
	SlotBooked    SlotState = "booked"
	SlotLocked    SlotState = "locked"
)

type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	State SlotState `json:"state"`
}

type Availability struct {
	ClubID    int64   `json:"clubId"`
	CourtID   int64   `json:"courtId"`
	Date      string  `json:"date"`
	Timezone  string  `json:"timezone"`
	Open      bool    `json:"open"`
	OpenHour  *int    `json:"openHour,omitempty"`
	CloseHour *int    `json:"closeHour,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Ranges    []Range `json:"ranges"`
}

// Availability partitions the court's open window on date into ranges tagged
// available, booked or locked. Unresolvable schedules come back closed, not
// as errors.
func (s *Service) Availability(ctx context.Context, clubID, courtID int64, date string) (Availability, error) {
	ctx, span := tracer.Start(ctx, "booking.Availability")
	defer span.End()
	span.SetAttributes(attribute.Int64("club_id", clubID), attribute.Int64("court_id", courtID))

	day, err := time.Parse(schedule.DateLayout, date)
	if err != nil {
		return Availability{}, ErrInvalidDate
	}
	view := Availability{ClubID: clubID, CourtID: courtID, Date: date, Timezone: "UTC", Ranges: []Range{}}

	club, err := s.Club(ctx, clubID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Int64("club_id", clubID).Msg("Availability for unknown club, treating as closed")
		view.Reason = schedule.ReasonUnresolvable
		return view, nil
	}
	loc := s.clubLocation(ctx, club)
	view.Timezone = loc.String()
	local := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)

	hours := s.resolver.Resolve(ctx, clubID, courtID, local)
	opens, closes, ok := hours.Window(local, loc)
	if !ok {
		view.Reason = hours.Reason
		return view, nil
	}
	view.Open = true
	view.OpenHour, view.CloseHour = &hours.Hours.Open, &hours.Hours.Close

	bookings, err := s.db.Queries.ListActiveBookingsForCourt(ctx, courtID, opens, closes)
	if err != nil {
		return Availability{}, fmt.Errorf("list bookings: %w", err)
	}
	held, err := s.locks.ActiveLocks(ctx, courtID, opens, closes)
	if err != nil {
		return Availability{}, fmt.Errorf("list locks: %w", err)
	}

	var booked, locked []interval
	for _, b := range bookings {
		booked = append(booked, interval{b.Start, b.End})
	}
	for _, l := range held {
		locked = append(locked, interval{l.Start, l.End})
	}
	view.Ranges = partition(opens, closes, booked, locked, loc)
	return view, nil
}

type interval struct {
	start, end time.Time
}

func (iv interval) overlaps(start, end time.Time) bool {
	return models.Overlaps(iv.start, iv.end, start, end)
}

// partition splits [opens, closes) at every booking and lock boundary and
// tags each piece; booked wins over locked. Adjacent pieces with the same
// state are merged.
func partition(opens, closes time.Time, booked, locked []interval, loc *time.Location) []Range {
	points := []time.Time{opens, closes}
	clip := func(t time.Time) {
		if t.After(opens) && t.Before(closes) {
			points = append(points, t)
		}
	}
	for _, iv := range append(append([]interval(nil), booked...), locked...) {
		clip(iv.start)
		clip(iv.end)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })

	var ranges []Range
	for i := 0; i+1 < len(points); i++ {
		start, end := points[i], points[i+1]
		if !start.Before(end) {
			continue
		}
		state := SlotAvailable
		if anyOverlap(booked, start, end) {
			state = SlotBooked
		} else if anyOverlap(locked, start, end) {
			state = SlotLocked
		}

		if n := len(ranges); n > 0 && ranges[n-1].State == state && ranges[n-1].End.Equal(start.In(loc)) {
			ranges[n-1].End = end.In(loc)
			continue
		}
		ranges = append(ranges, Range{Start: start.In(loc), End: end.In(loc), State: state})
	}
	return ranges
}

func anyOverlap(intervals []interval, start, end time.Time) bool {
	for _, iv := range intervals {
		if iv.overlaps(start, end) {
			return true
		}
	}
	return false
}
