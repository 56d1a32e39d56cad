// Package timeutil provides experiment-clock utilities: everything in the
// engine runs on UTC, and several components need to discretize or round time
// (switchback windows, duration estimates rounded to whole days or weeks).
// No external dependencies - uses only standard library.
package timeutil

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidWindow is returned when a window width is not positive.
var ErrInvalidWindow = errors.New("timeutil: window width must be positive")

// ErrBeforeStart is returned when a timestamp precedes the experiment start.
var ErrBeforeStart = errors.New("timeutil: timestamp precedes experiment start")

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// ToUTC converts a time to UTC.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// StartOfDay returns the start of the UTC day (00:00:00).
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfWeek returns the start of the UTC week (Monday 00:00:00).
func StartOfWeek(t time.Time) time.Time {
	u := t.UTC()
	weekday := int(u.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return StartOfDay(u.AddDate(0, 0, -(weekday - 1)))
}

// WindowIndex returns the zero-based index of the switchback window that
// contains t, counting windows of the given width from start.
func WindowIndex(t, start time.Time, width time.Duration) (int64, error) {
	if width <= 0 {
		return 0, ErrInvalidWindow
	}
	if t.Before(start) {
		return 0, ErrBeforeStart
	}
	return int64(t.Sub(start) / width), nil
}

// WindowStart returns the start time of the window with the given index.
func WindowStart(start time.Time, width time.Duration, index int64) time.Time {
	return start.Add(time.Duration(index) * width)
}

// CeilDays converts a fractional day count to whole days, rounding up.
func CeilDays(days float64) int {
	if days <= 0 {
		return 0
	}
	return int(math.Ceil(days))
}

// CeilToWholeWeeks rounds a day count up to the next multiple of seven.
// Used for metrics with weekly seasonality, where runs must cover whole
// weekly cycles.
func CeilToWholeWeeks(days int) int {
	if days <= 0 {
		return 0
	}
	weeks := (days + 6) / 7
	return weeks * 7
}

// DaysBetween returns the whole days from a to b (start-of-day aligned).
func DaysBetween(a, b time.Time) int {
	from := StartOfDay(a)
	to := StartOfDay(b)
	return int(to.Sub(from).Hours() / 24)
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
)

// FormatDateStr formats a time as a UTC date string (YYYY-MM-DD).
func FormatDateStr(t time.Time) string {
	return t.UTC().Format(FormatDate)
}

// FormatDuration renders a duration as a compact human-readable string.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}
