package models

import (
	"errors"
	"testing"
	"time"
)

var allPersisted = []BookingStatus{
	StatusPending, StatusPaid, StatusReserved, StatusConfirmed,
	StatusCompleted, StatusCancelled, StatusNoShow,
}

func TestDisplayStatusTerminalIgnoresTime(t *testing.T) {
	start := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	instants := []time.Time{
		start.Add(-24 * time.Hour),
		start,
		start.Add(30 * time.Minute),
		end,
		end.Add(72 * time.Hour),
	}

	for _, status := range TerminalStatuses {
		for _, now := range instants {
			if got := DisplayStatus(start, end, status, now); got != status {
				t.Fatalf("status %s at %s: got %s", status, now, got)
			}
		}
	}
}

func TestDisplayStatusEndedNonTerminalIsCompleted(t *testing.T) {
	start := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)

	for _, status := range allPersisted {
		if status.IsTerminal() {
			continue
		}
		for _, now := range []time.Time{end, end.Add(time.Second), end.Add(48 * time.Hour)} {
			if got := DisplayStatus(start, end, status, now); got != StatusCompleted {
				t.Fatalf("status %s at %s: got %s", status, now, got)
			}
		}
	}
}

func TestDisplayStatusInProgressAndUpcoming(t *testing.T) {
	start := time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	if got := DisplayStatus(start, end, StatusPaid, start); got != StatusInProgress {
		t.Fatalf("at start: got %s", got)
	}
	if got := DisplayStatus(start, end, StatusConfirmed, end.Add(-time.Nanosecond)); got != StatusInProgress {
		t.Fatalf("just before end: got %s", got)
	}
	if got := DisplayStatus(start, end, StatusPending, start.Add(-time.Minute)); got != StatusPending {
		t.Fatalf("upcoming: got %s", got)
	}
}

func TestTransitions(t *testing.T) {
	allowed := []struct {
		from, to BookingStatus
	}{
		{StatusPending, StatusPaid},
		{StatusPending, StatusCancelled},
		{StatusPaid, StatusConfirmed},
		{StatusPaid, StatusReserved},
		{StatusPaid, StatusCompleted},
		{StatusReserved, StatusConfirmed},
		{StatusReserved, StatusCompleted},
		{StatusConfirmed, StatusCompleted},
		{StatusConfirmed, StatusNoShow},
		{StatusReserved, StatusCancelled},
	}
	for _, tc := range allowed {
		if err := CheckTransition(tc.from, tc.to); err != nil {
			t.Fatalf("%s -> %s: %v", tc.from, tc.to, err)
		}
	}

	denied := []struct {
		from, to BookingStatus
	}{
		{StatusPending, StatusConfirmed},
		{StatusPaid, StatusNoShow},
		{StatusReserved, StatusNoShow},
		{StatusConfirmed, StatusReserved},
		{StatusReserved, StatusPaid},
		{StatusPending, StatusInProgress},
	}
	for _, tc := range denied {
		if err := CheckTransition(tc.from, tc.to); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
		}
	}

	for _, terminal := range TerminalStatuses {
		for _, to := range allPersisted {
			if terminal.CanTransition(to) {
				t.Fatalf("terminal %s must not transition to %s", terminal, to)
			}
		}
	}
}

func TestParseBookingStatusRejectsDisplayOnly(t *testing.T) {
	if _, err := ParseBookingStatus(string(StatusInProgress)); err == nil {
		t.Fatalf("in_progress must not parse as a persisted status")
	}
	if got, err := ParseBookingStatus("no_show"); err != nil || got != StatusNoShow {
		t.Fatalf("no_show: %v %v", got, err)
	}
}

func TestOverlapsHalfOpen(t *testing.T) {
	base := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

	if Overlaps(at(14), at(15), at(15), at(16)) {
		t.Fatalf("adjacent ranges must not overlap")
	}
	if !Overlaps(at(14), at(16), at(15), at(17)) {
		t.Fatalf("partial overlap not detected")
	}
	if !Overlaps(at(14), at(18), at(15), at(16)) {
		t.Fatalf("containment not detected")
	}
}

func TestHoursFromPair(t *testing.T) {
	nine, eighteen, twentyFive := 9, 18, 25

	if _, ok, err := HoursFromPair(nil, nil); ok || err != nil {
		t.Fatalf("nil pair should be closed without error")
	}
	if _, _, err := HoursFromPair(&nine, nil); err == nil {
		t.Fatalf("half-set pair should be malformed")
	}
	if _, _, err := HoursFromPair(&eighteen, &nine); err == nil {
		t.Fatalf("reversed pair should be malformed")
	}
	if _, _, err := HoursFromPair(&nine, &twentyFive); err == nil {
		t.Fatalf("close past 24 should be malformed")
	}
	h, ok, err := HoursFromPair(&nine, &eighteen)
	if err != nil || !ok || h != (Hours{Open: 9, Close: 18}) {
		t.Fatalf("valid pair: %+v %v %v", h, ok, err)
	}
}
