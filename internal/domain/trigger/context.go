package trigger

import (
	"time"
)

// EventContext carries the data of one user event into condition
// evaluation. It is read-only for the evaluator and the engine.
type EventContext struct {
	// UserID is the user the event belongs to.
	UserID int64

	// Event is the trigger event name (e.g. "message_sent", "level_up").
	Event string

	// GuildID identifies the guild the event originated from.
	GuildID string

	// ChannelID identifies the channel the event originated from.
	ChannelID string

	// Metrics holds the numeric values carried by the event,
	// keyed by metric name.
	Metrics map[string]float64

	// Roles lists the guild roles held by the user at event time.
	Roles []string

	// Timestamp is when the event occurred. Zero means "use wall clock".
	Timestamp time.Time
}

// Metric returns the named metric value and whether it is present.
func (ec EventContext) Metric(name string) (float64, bool) {
	v, ok := ec.Metrics[name]
	return v, ok
}

// HasRole reports whether the user carries the given role.
func (ec EventContext) HasRole(roleID string) bool {
	for _, r := range ec.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// Now returns the evaluation reference time: the event timestamp when
// set, otherwise the current wall clock. Keeps evaluation deterministic
// for replayed events.
func (ec EventContext) Now() time.Time {
	if !ec.Timestamp.IsZero() {
		return ec.Timestamp
	}
	return time.Now().UTC()
}
