package achievement

import (
	"sort"
	"time"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Progress tracks one user's advancement toward one achievement. The engine
// mutates it during a check and persists it whether or not the check
// triggered an award.
type Progress struct {
	UserID        int64
	AchievementID int64
	CurrentValue  int64
	TargetValue   int64
	Data          ProgressData
	LastUpdated   time.Time
}

// NewProgress creates an empty progress record for a user/achievement pair.
func NewProgress(userID, achievementID, target int64) *Progress {
	return &Progress{
		UserID:        userID,
		AchievementID: achievementID,
		TargetValue:   target,
		LastUpdated:   time.Now().UTC(),
	}
}

// Percentage returns completion in [0, 100]. A zero target reads as
// complete: such achievements are award-on-first-qualifying-event.
func (p *Progress) Percentage() float64 {
	if p.TargetValue <= 0 {
		return 100
	}
	pct := float64(p.CurrentValue) / float64(p.TargetValue) * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Complete reports whether the current value reached the target.
func (p *Progress) Complete() bool {
	return p.CurrentValue >= p.TargetValue
}

// Touch updates the last-modified timestamp.
func (p *Progress) Touch(now time.Time) {
	p.LastUpdated = now.UTC()
}

// Validate checks invariants before persisting.
func (p *Progress) Validate() error {
	if p.UserID <= 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidID,
			"progress requires a positive user id", nil)
	}
	if p.AchievementID <= 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidID,
			"progress requires a positive achievement id", nil)
	}
	if p.CurrentValue < 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrNegativeValue,
			"progress current value cannot be negative", nil)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS DATA (typed per-achievement-type state)
// ══════════════════════════════════════════════════════════════════════════════

// WindowSample is one timestamped contribution to a windowed counter.
type WindowSample struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// ProgressData carries the type-specific evaluation state of a progress
// record. Only the fields matching the achievement type are populated;
// the struct serializes to JSON for storage and caching.
type ProgressData struct {
	// Window holds timestamped samples for windowed counters, oldest
	// first, trimmed to a bounded length.
	Window []WindowSample `json:"window,omitempty"`

	// CurrentStage is the index of the next milestone stage to complete.
	CurrentStage int `json:"current_stage,omitempty"`

	// StreakDates holds the distinct activity day keys (YYYY-MM-DD, UTC)
	// for time-based achievements, sorted ascending.
	StreakDates []string `json:"streak_dates,omitempty"`

	// EventHistory holds the ordered trigger-event names observed, for
	// event-sequence milestones, trimmed to a bounded length.
	EventHistory []string `json:"event_history,omitempty"`

	// Accumulated is the exact running total of a non-windowed counter.
	// CurrentValue is its integer floor; fractional contributions keep
	// their remainder here across events.
	Accumulated float64 `json:"accumulated,omitempty"`
}

// AppendWindowSample records a contribution and drops samples beyond
// maxSamples, oldest first.
func (d *ProgressData) AppendWindowSample(at time.Time, value float64, maxSamples int) {
	d.Window = append(d.Window, WindowSample{At: at.UTC(), Value: value})
	if maxSamples > 0 && len(d.Window) > maxSamples {
		d.Window = d.Window[len(d.Window)-maxSamples:]
	}
}

// PruneWindow drops samples at or before the cutoff.
func (d *ProgressData) PruneWindow(cutoff time.Time) {
	kept := d.Window[:0]
	for _, s := range d.Window {
		if s.At.After(cutoff) {
			kept = append(kept, s)
		}
	}
	d.Window = kept
}

// WindowTotal sums the samples newer than the cutoff.
func (d *ProgressData) WindowTotal(cutoff time.Time) float64 {
	var total float64
	for _, s := range d.Window {
		if s.At.After(cutoff) {
			total += s.Value
		}
	}
	return total
}

// RecordActivityDate adds the day key of t to the streak set. Duplicate
// days are ignored. Returns true when a new day was recorded.
func (d *ProgressData) RecordActivityDate(t time.Time) bool {
	key := timeutil.DayKey(t)
	for _, existing := range d.StreakDates {
		if existing == key {
			return false
		}
	}
	d.StreakDates = append(d.StreakDates, key)
	sort.Strings(d.StreakDates)
	return true
}

// CurrentStreak returns the length of the consecutive-day run ending at
// the most recent activity day. A gap of more than one day resets the
// run to the days after the gap.
func (d *ProgressData) CurrentStreak() int {
	if len(d.StreakDates) == 0 {
		return 0
	}

	streak := 1
	for i := len(d.StreakDates) - 1; i > 0; i-- {
		cur, err := timeutil.ParseDayKey(d.StreakDates[i])
		if err != nil {
			break
		}
		prev, err := timeutil.ParseDayKey(d.StreakDates[i-1])
		if err != nil {
			break
		}
		if !timeutil.IsConsecutiveDay(prev, cur) {
			break
		}
		streak++
	}
	return streak
}

// AppendEvent records a trigger-event name, trimming the history to
// maxEvents entries, oldest first.
func (d *ProgressData) AppendEvent(event string, maxEvents int) {
	d.EventHistory = append(d.EventHistory, event)
	if maxEvents > 0 && len(d.EventHistory) > maxEvents {
		d.EventHistory = d.EventHistory[len(d.EventHistory)-maxEvents:]
	}
}

// MatchesSequence reports whether the required events appear in the
// history in order, not necessarily adjacent.
func (d *ProgressData) MatchesSequence(required []string) bool {
	if len(required) == 0 {
		return false
	}
	next := 0
	for _, e := range d.EventHistory {
		if e == required[next] {
			next++
			if next == len(required) {
				return true
			}
		}
	}
	return false
}

// SequenceProgress returns how many of the required events have been
// matched in order so far.
func (d *ProgressData) SequenceProgress(required []string) int {
	next := 0
	for _, e := range d.EventHistory {
		if next < len(required) && e == required[next] {
			next++
		}
	}
	return next
}
