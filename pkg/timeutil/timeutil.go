// Package timeutil provides day-granularity time utilities for streak and
// window calculations. All streak accounting is done on UTC calendar days so
// that an activity date means the same thing regardless of server timezone.
// No external dependencies - uses only standard library.
package timeutil

import (
	"time"
)

// DayFormat is the canonical format for activity-date keys.
const DayFormat = "2006-01-02"

// StartOfDay returns the start of the UTC calendar day containing t.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last nanosecond of the UTC calendar day containing t.
func EndOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 999999999, time.UTC)
}

// DayKey returns the canonical string key for the UTC day containing t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// ParseDayKey parses a canonical day key back into the start of that UTC day.
func ParseDayKey(key string) (time.Time, error) {
	return time.ParseInLocation(DayFormat, key, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b
// (negative when b is before a). Both are truncated to UTC days first.
func DaysBetween(a, b time.Time) int {
	return int(StartOfDay(b).Sub(StartOfDay(a)).Hours() / 24)
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return DayKey(a) == DayKey(b)
}

// IsConsecutiveDay reports whether b is exactly the day after a.
func IsConsecutiveDay(a, b time.Time) bool {
	return DaysBetween(a, b) == 1
}

// WindowCutoff returns the inclusive lower bound for a sliding window
// ending at "now". Samples at or after the cutoff are inside the window.
func WindowCutoff(now time.Time, window time.Duration) time.Time {
	return now.Add(-window)
}

// InWindow reports whether ts falls inside the window ending at now.
func InWindow(ts, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	return !ts.Before(WindowCutoff(now, window)) && !ts.After(now)
}
