package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKeyRoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 29, 23, 59, 59, 0, time.UTC)
	key := DayKey(ts)
	assert.Equal(t, "2026-08-29", key)

	parsed, err := ParseDayKey(key)
	require.NoError(t, err)
	assert.Equal(t, StartOfDay(ts), parsed)

	_, err = ParseDayKey("29/08/2026")
	assert.Error(t, err)
}

func TestStartEndOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+6", 6*3600)
	ts := time.Date(2026, 8, 29, 2, 30, 0, 0, loc)

	start := StartOfDay(ts)
	assert.Equal(t, time.UTC, start.Location())
	assert.Equal(t, 0, start.Hour())

	end := EndOfDay(ts)
	assert.Equal(t, 23, end.Hour())
	assert.True(t, end.After(start))
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 8, 27, 23, 0, 0, 0, time.UTC)
	b := time.Date(2026, 8, 29, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 2, DaysBetween(a, b))
	assert.Equal(t, -2, DaysBetween(b, a), "the count is signed")
	assert.Equal(t, 0, DaysBetween(a, a))
}

func TestSameDayAndConsecutive(t *testing.T) {
	morning := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 8, 29, 22, 0, 0, 0, time.UTC)
	nextDay := time.Date(2026, 8, 30, 0, 30, 0, 0, time.UTC)

	assert.True(t, SameDay(morning, evening))
	assert.False(t, SameDay(evening, nextDay))

	assert.True(t, IsConsecutiveDay(evening, nextDay))
	assert.False(t, IsConsecutiveDay(morning, evening))
	assert.False(t, IsConsecutiveDay(morning, nextDay.AddDate(0, 0, 1)))
}

func TestInWindow(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	assert.True(t, InWindow(now.Add(-time.Hour), now, 2*time.Hour))
	assert.False(t, InWindow(now.Add(-3*time.Hour), now, 2*time.Hour))

	// A non-positive window means "no window": everything counts.
	assert.True(t, InWindow(now.AddDate(-1, 0, 0), now, 0))
}

func TestWindowCutoff(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(-time.Hour), WindowCutoff(now, time.Hour))
}
