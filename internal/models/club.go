package models

import (
	"fmt"
	"time"
)

const (
	MinHour = 0
	MaxHour = 24
)

type Organization struct {
	ID   int64
	Name string
	Slug string
}

type Club struct {
	ID             int64
	OrganizationID int64
	Name           string
	Slug           string
	Timezone       string
}

// Location returns the club's timezone, falling back to UTC when unset or unknown.
func (c Club) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC, fmt.Errorf("load club timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DayHours is one weekday entry of a club's weekly template. Nil pointers
// mean the club is closed that day.
type DayHours struct {
	DayOfWeek time.Weekday
	OpenHour  *int
	CloseHour *int
}

// WeeklySchedule maps weekday to its template entry. Missing weekdays are closed.
type WeeklySchedule map[time.Weekday]DayHours

type SpecialDate struct {
	ClubID    int64
	Date      string // YYYY-MM-DD in the club's timezone
	OpenHour  *int
	CloseHour *int
	IsClosed  bool
	Reason    string
}

type Court struct {
	ID                int64
	ClubID            int64
	Name              string
	SportType         string
	DefaultPriceCents int64
	OpenHour          *int
	CloseHour         *int
}

// Hours is a half-open [Open, Close) window of whole hours within one day.
type Hours struct {
	Open  int
	Close int
}

func (h Hours) Valid() bool {
	return h.Open >= MinHour && h.Close <= MaxHour && h.Open < h.Close
}

// Contains reports whether other lies entirely within h.
func (h Hours) Contains(other Hours) bool {
	return other.Open >= h.Open && other.Close <= h.Close
}

func (h Hours) String() string {
	return fmt.Sprintf("%02d:00-%02d:00", h.Open, h.Close)
}

// HoursFromPair validates an (open, close) pair read from storage. Both nil
// means closed; exactly one nil or an invalid range is malformed.
func HoursFromPair(openHour, closeHour *int) (Hours, bool, error) {
	if openHour == nil && closeHour == nil {
		return Hours{}, false, nil
	}
	if openHour == nil || closeHour == nil {
		return Hours{}, false, fmt.Errorf("open and close hours must both be set")
	}
	h := Hours{Open: *openHour, Close: *closeHour}
	if !h.Valid() {
		return Hours{}, false, fmt.Errorf("invalid hours %d-%d", *openHour, *closeHour)
	}
	return h, true, nil
}
