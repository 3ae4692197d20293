// Package timeutil provides calendar-day helpers in a configurable location.
// Streaks and date cutoffs are decided on calendar days, so every helper takes
// the location the day boundaries are drawn in.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)

// LoadLocation resolves a location name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown location %q: %w", name, err)
	}
	return loc, nil
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// StartOfDay returns 00:00:00 of the day t falls on in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	loc = orUTC(loc)
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns the last nanosecond of the day t falls on in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	loc = orUTC(loc)
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 23, 59, 59, 999999999, loc)
}

// IsSameDay checks if two times are on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return StartOfDay(t1, loc).Equal(StartOfDay(t2, loc))
}

// DaysBetween returns the signed number of calendar days from t1 to t2 in loc.
// Days shortened or lengthened by DST still count as one.
func DaysBetween(t1, t2 time.Time, loc *time.Location) int {
	a1 := StartOfDay(t1, loc)
	a2 := StartOfDay(t2, loc)
	hours := a2.Sub(a1).Hours()
	if hours >= 0 {
		return int(hours/24 + 0.5)
	}
	return -int(-hours/24 + 0.5)
}

// ParseDate parses a YYYY-MM-DD string as midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, orUTC(loc))
}

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in loc.
func FormatDateStr(t time.Time, loc *time.Location) string {
	return t.In(orUTC(loc)).Format(FormatDate)
}
