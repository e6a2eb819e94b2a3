package achievement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2026, 8, d, 12, 0, 0, 0, time.UTC)
}

func TestProgressPercentage(t *testing.T) {
	p := NewProgress(1, 10, 200)
	assert.Equal(t, float64(0), p.Percentage())

	p.CurrentValue = 50
	assert.Equal(t, float64(25), p.Percentage())

	p.CurrentValue = 500
	assert.Equal(t, float64(100), p.Percentage())

	// Zero-target achievements read as complete.
	zero := NewProgress(1, 11, 0)
	assert.Equal(t, float64(100), zero.Percentage())
	assert.True(t, zero.Complete())
}

func TestProgressValidate(t *testing.T) {
	p := NewProgress(1, 10, 5)
	require.NoError(t, p.Validate())

	p.CurrentValue = -1
	assert.Error(t, p.Validate())

	assert.Error(t, NewProgress(0, 10, 5).Validate())
	assert.Error(t, NewProgress(1, 0, 5).Validate())
}

func TestWindowSamples(t *testing.T) {
	var d ProgressData
	now := day(29)

	d.AppendWindowSample(now.Add(-3*time.Hour), 5, 10)
	d.AppendWindowSample(now.Add(-90*time.Minute), 3, 10)
	d.AppendWindowSample(now.Add(-10*time.Minute), 2, 10)

	cutoff := now.Add(-2 * time.Hour)
	assert.Equal(t, float64(5), d.WindowTotal(cutoff))

	d.PruneWindow(cutoff)
	require.Len(t, d.Window, 2)
	assert.Equal(t, float64(3), d.Window[0].Value)
}

func TestWindowSampleTrim(t *testing.T) {
	var d ProgressData
	for i := 0; i < 8; i++ {
		d.AppendWindowSample(day(20).Add(time.Duration(i)*time.Hour), float64(i), 5)
	}
	require.Len(t, d.Window, 5)
	// Oldest samples dropped first.
	assert.Equal(t, float64(3), d.Window[0].Value)
	assert.Equal(t, float64(7), d.Window[4].Value)
}

func TestRecordActivityDateDedup(t *testing.T) {
	var d ProgressData

	assert.True(t, d.RecordActivityDate(day(27)))
	assert.True(t, d.RecordActivityDate(day(28)))
	assert.False(t, d.RecordActivityDate(day(28).Add(5*time.Hour)))
	require.Len(t, d.StreakDates, 2)
}

func TestCurrentStreak(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var d ProgressData
		assert.Equal(t, 0, d.CurrentStreak())
	})

	t.Run("consecutive run", func(t *testing.T) {
		var d ProgressData
		for _, n := range []int{25, 26, 27, 28} {
			d.RecordActivityDate(day(n))
		}
		assert.Equal(t, 4, d.CurrentStreak())
	})

	t.Run("gap resets the run", func(t *testing.T) {
		var d ProgressData
		for _, n := range []int{20, 21, 24, 25, 26} {
			d.RecordActivityDate(day(n))
		}
		assert.Equal(t, 3, d.CurrentStreak())
	})

	t.Run("out of order arrival", func(t *testing.T) {
		var d ProgressData
		d.RecordActivityDate(day(28))
		d.RecordActivityDate(day(26))
		d.RecordActivityDate(day(27))
		assert.Equal(t, 3, d.CurrentStreak())
	})
}

func TestEventHistory(t *testing.T) {
	var d ProgressData

	d.AppendEvent("joined", 4)
	d.AppendEvent("message_sent", 4)
	d.AppendEvent("reaction_added", 4)

	required := []string{"joined", "reaction_added", "boosted"}
	assert.Equal(t, 2, d.SequenceProgress(required))
	assert.False(t, d.MatchesSequence(required))

	d.AppendEvent("boosted", 4)
	assert.True(t, d.MatchesSequence(required))

	// History is bounded; the oldest entries fall off.
	d.AppendEvent("left", 4)
	require.Len(t, d.EventHistory, 4)
	assert.Equal(t, "message_sent", d.EventHistory[0])
}

func TestMatchesSequenceOrderMatters(t *testing.T) {
	var d ProgressData
	d.AppendEvent("b", 0)
	d.AppendEvent("a", 0)

	assert.False(t, d.MatchesSequence([]string{"a", "b"}))
	assert.True(t, d.MatchesSequence([]string{"b", "a"}))
	assert.False(t, d.MatchesSequence(nil))
}
