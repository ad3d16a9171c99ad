package email

import (
	"fmt"
	"strings"
	"time"
)

type Message struct {
	Subject string
	Body    string
}

type BookingDetails struct {
	BookingID int64
	ClubName  string
	CourtName string
	Date      string
	TimeRange string
	Price     string
}

func FormatDateTimeRange(start, end time.Time) (string, string) {
	date := start.Format("Monday, Jan 2, 2006")
	timeRange := fmt.Sprintf("%s - %s %s", start.Format("3:04 PM"), end.Format("3:04 PM"), start.Format("MST"))
	return date, timeRange
}

func BuildConfirmationEmail(details BookingDetails) Message {
	d := details.withDefaults()
	lines := []string{
		"Your court booking is confirmed.",
		"",
		fmt.Sprintf("Booking: #%d", d.BookingID),
		fmt.Sprintf("Club: %s", d.ClubName),
		fmt.Sprintf("Court: %s", d.CourtName),
		fmt.Sprintf("Date: %s", d.Date),
		fmt.Sprintf("Time: %s", d.TimeRange),
	}
	if d.Price != "" {
		lines = append(lines, fmt.Sprintf("Paid: %s", d.Price))
	}

	return Message{
		Subject: fmt.Sprintf("Booking Confirmed - %s", d.ClubName),
		Body:    strings.Join(lines, "\n"),
	}
}

func BuildCancellationEmail(details BookingDetails) Message {
	d := details.withDefaults()
	lines := []string{
		"Your court booking has been cancelled.",
		"",
		fmt.Sprintf("Booking: #%d", d.BookingID),
		fmt.Sprintf("Club: %s", d.ClubName),
		fmt.Sprintf("Court: %s", d.CourtName),
		fmt.Sprintf("Date: %s", d.Date),
		fmt.Sprintf("Time: %s", d.TimeRange),
	}

	return Message{
		Subject: fmt.Sprintf("Booking Cancelled - %s", d.ClubName),
		Body:    strings.Join(lines, "\n"),
	}
}

func (d BookingDetails) withDefaults() BookingDetails {
	d.ClubName = orDefault(d.ClubName, "your club")
	d.CourtName = orDefault(d.CourtName, "TBD")
	d.Date = orDefault(d.Date, "TBD")
	d.TimeRange = orDefault(d.TimeRange, "TBD")
	d.Price = strings.TrimSpace(d.Price)
	return d
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
