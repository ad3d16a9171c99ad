package apiutil

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func ParsePositiveInt64Field(raw string, field string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, FieldError{Field: field, Reason: "is required"}
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return 0, FieldError{Field: field, Reason: "must be greater than 0"}
	}
	return value, nil
}

// PathID parses a positive int64 path value such as {id}.
func PathID(r *http.Request, name string) (int64, error) {
	return ParsePositiveInt64Field(r.PathValue(name), name)
}

func QueryID(r *http.Request, name string) (int64, error) {
	return ParsePositiveInt64Field(r.URL.Query().Get(name), name)
}

// ParseTimeField accepts RFC 3339 timestamps and returns them in UTC.
func ParseTimeField(raw string, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, FieldError{Field: field, Reason: "is required"}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, FieldError{Field: field, Reason: "must be an RFC 3339 timestamp"}
	}
	return parsed.UTC(), nil
}

// ParseRange parses a start/end pair on whole minutes and checks start < end.
func ParseRange(rawStart, rawEnd string) (time.Time, time.Time, error) {
	start, err := parseMinuteField(rawStart, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseMinuteField(rawEnd, "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, FieldError{Field: "end", Reason: "must be after start"}
	}
	return start, end, nil
}

func parseMinuteField(raw string, field string) (time.Time, error) {
	t, err := ParseTimeField(raw, field)
	if err != nil {
		return time.Time{}, err
	}
	if !t.Truncate(time.Minute).Equal(t) {
		return time.Time{}, FieldError{Field: field, Reason: "must be on a whole minute"}
	}
	return t, nil
}

func FormatPriceCents(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}

func FormatHour(hour *int) string {
	if hour == nil {
		return "--:--"
	}
	return fmt.Sprintf("%02d:00", *hour)
}
