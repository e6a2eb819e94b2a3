// Package achievement contains the achievement aggregate: definitions with
// typed completion criteria, per-user progress records, and the award record
// that is the durable idempotency guard.
package achievement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/internal/domain/trigger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Type determines which evaluation algorithm applies to an achievement.
type Type string

const (
	// TypeCounter accumulates a metric toward a target, optionally within
	// a sliding time window or gated by a compound condition list.
	TypeCounter Type = "counter"

	// TypeMilestone triggers on a single threshold, an ordered stage list,
	// or an ordered required-event sequence.
	TypeMilestone Type = "milestone"

	// TypeTimeBased triggers on N consecutive units of activity (days).
	TypeTimeBased Type = "time_based"

	// TypeConditional triggers on a heterogeneous condition list combined
	// with AND/OR.
	TypeConditional Type = "conditional"
)

// Valid reports whether t is a known achievement type.
func (t Type) Valid() bool {
	switch t {
	case TypeCounter, TypeMilestone, TypeTimeBased, TypeConditional:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Achievement is an achievement definition. Created and updated by the
// external admin service; read-only to the engine. Criteria is always a
// validated variant matching Type (malformed criteria are rejected at load,
// never at check time).
type Achievement struct {
	ID           int64
	Name         string
	Description  string
	Type         Type
	Criteria     Criteria
	Points       int
	IsActive     bool
	Dependencies []int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Target returns the completion target encoded by the criteria.
func (a *Achievement) Target() int64 {
	if a.Criteria == nil {
		return 0
	}
	return a.Criteria.Target()
}

// ══════════════════════════════════════════════════════════════════════════════
// CRITERIA (closed variant set, one per achievement type)
// ══════════════════════════════════════════════════════════════════════════════

// Criteria is the type-specific completion specification of an achievement.
// Exactly four implementations exist, one per Type.
type Criteria interface {
	// Validate checks the criteria at load time. A validation failure is
	// a configuration error fatal to loading this achievement only.
	Validate() error

	// Target returns the completion target (count, stage count, or days).
	Target() int64
}

// CounterCriteria configures a TypeCounter achievement.
type CounterCriteria struct {
	// CounterField names the event metric accumulated toward the target.
	CounterField string `json:"counter_field"`

	// TargetValue is the accumulated total required to trigger.
	TargetValue int64 `json:"target_value"`

	// TimeWindow, when positive, restricts accumulation to a sliding
	// window; contributions outside the window never count.
	TimeWindow time.Duration `json:"time_window,omitempty"`

	// Conditions optionally gates accumulation with a compound
	// multi-field condition list.
	Conditions []trigger.Condition `json:"conditions,omitempty"`

	// LogicOperator combines Conditions. Defaults to AND.
	LogicOperator trigger.LogicOperator `json:"logic_operator,omitempty"`
}

// Validate implements Criteria.
func (c *CounterCriteria) Validate() error {
	if c.CounterField == "" {
		return shared.WrapError("achievement", "Validate", shared.ErrValidation,
			"counter criteria requires counter_field", nil)
	}
	if c.TargetValue < 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrNegativeValue,
			"counter target_value cannot be negative", nil)
	}
	if c.TimeWindow < 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrNegativeValue,
			"counter time_window cannot be negative", nil)
	}
	if c.LogicOperator == "" {
		c.LogicOperator = trigger.LogicAnd
	}
	if !c.LogicOperator.Valid() {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("invalid logic operator %q", c.LogicOperator), nil)
	}
	if len(c.Conditions) > 0 {
		if err := trigger.ValidateConditions(c.Conditions); err != nil {
			return fmt.Errorf("counter conditions: %w", err)
		}
	}
	return nil
}

// Target implements Criteria.
func (c *CounterCriteria) Target() int64 { return c.TargetValue }

// MilestoneCriteria configures a TypeMilestone achievement. Exactly one of
// the three modes is used: single threshold (Metric+TargetValue), ordered
// Stages, or an ordered RequiredEvents sequence (EventSequence=true).
type MilestoneCriteria struct {
	// Metric and TargetValue configure single-threshold mode.
	Metric      string `json:"metric,omitempty"`
	TargetValue int64  `json:"target_value,omitempty"`

	// Stages is the ordered stage condition list. Progress advances one
	// stage per qualifying event and triggers on completing the final one.
	Stages []trigger.Condition `json:"stages,omitempty"`

	// RequiredEvents is the ordered event-name sequence for
	// event-sequence mode.
	RequiredEvents []string `json:"required_events,omitempty"`

	// EventSequence selects event-sequence mode.
	EventSequence bool `json:"event_sequence,omitempty"`
}

// Validate implements Criteria.
func (c *MilestoneCriteria) Validate() error {
	modes := 0
	if c.Metric != "" {
		modes++
	}
	if len(c.Stages) > 0 {
		modes++
	}
	if c.EventSequence {
		modes++
	}
	if modes != 1 {
		return shared.WrapError("achievement", "Validate", shared.ErrValidation,
			fmt.Sprintf("milestone criteria must use exactly one mode, got %d", modes), nil)
	}

	switch {
	case c.Metric != "":
		if c.TargetValue <= 0 {
			return shared.WrapError("achievement", "Validate", shared.ErrValueOutOfRange,
				"milestone threshold mode requires target_value >= 1", nil)
		}
	case len(c.Stages) > 0:
		if err := trigger.ValidateConditions(c.Stages); err != nil {
			return fmt.Errorf("milestone stages: %w", err)
		}
	case c.EventSequence:
		if len(c.RequiredEvents) == 0 {
			return shared.WrapError("achievement", "Validate", shared.ErrEmptyValue,
				"milestone sequence mode requires required_events", nil)
		}
		for i, e := range c.RequiredEvents {
			if e == "" {
				return shared.WrapError("achievement", "Validate", shared.ErrEmptyValue,
					fmt.Sprintf("required_events[%d] is empty", i), nil)
			}
		}
	}
	return nil
}

// Target implements Criteria.
func (c *MilestoneCriteria) Target() int64 {
	switch {
	case len(c.Stages) > 0:
		return int64(len(c.Stages))
	case c.EventSequence:
		return int64(len(c.RequiredEvents))
	default:
		return c.TargetValue
	}
}

// TimeBasedCriteria configures a TypeTimeBased achievement.
type TimeBasedCriteria struct {
	// TargetValue is the number of consecutive units required.
	TargetValue int64 `json:"target_value"`

	// Unit is the time unit of the streak. Only "days" is supported.
	Unit string `json:"unit,omitempty"`
}

// Validate implements Criteria.
func (c *TimeBasedCriteria) Validate() error {
	if c.TargetValue <= 0 {
		return shared.WrapError("achievement", "Validate", shared.ErrValueOutOfRange,
			"time_based criteria requires target_value >= 1", nil)
	}
	if c.Unit == "" {
		c.Unit = "days"
	}
	if c.Unit != "days" {
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unsupported time unit %q", c.Unit), nil)
	}
	return nil
}

// Target implements Criteria.
func (c *TimeBasedCriteria) Target() int64 { return c.TargetValue }

// ConditionalCriteria configures a TypeConditional achievement.
type ConditionalCriteria struct {
	// Conditions is the heterogeneous condition list.
	Conditions []trigger.Condition `json:"conditions"`

	// RequireAll combines Conditions with AND when true, OR otherwise.
	RequireAll bool `json:"require_all"`
}

// Validate implements Criteria.
func (c *ConditionalCriteria) Validate() error {
	if err := trigger.ValidateConditions(c.Conditions); err != nil {
		return fmt.Errorf("conditional criteria: %w", err)
	}
	return nil
}

// Target implements Criteria.
func (c *ConditionalCriteria) Target() int64 { return int64(len(c.Conditions)) }

// LogicOperator returns the trigger logic operator matching RequireAll.
func (c *ConditionalCriteria) LogicOperator() trigger.LogicOperator {
	if c.RequireAll {
		return trigger.LogicAnd
	}
	return trigger.LogicOr
}

// ══════════════════════════════════════════════════════════════════════════════
// CRITERIA CODEC
// ══════════════════════════════════════════════════════════════════════════════

// DecodeCriteria deserializes and validates stored criteria for the given
// achievement type. Any failure here is a configuration error fatal to
// loading that achievement only; check time assumes validated criteria.
func DecodeCriteria(t Type, raw []byte) (Criteria, error) {
	var c Criteria
	switch t {
	case TypeCounter:
		c = &CounterCriteria{}
	case TypeMilestone:
		c = &MilestoneCriteria{}
	case TypeTimeBased:
		c = &TimeBasedCriteria{}
	case TypeConditional:
		c = &ConditionalCriteria{}
	default:
		return nil, shared.WrapError("achievement", "Decode", shared.ErrInvalidInput,
			fmt.Sprintf("unknown achievement type %q", t), nil)
	}

	if err := json.Unmarshal(raw, c); err != nil {
		return nil, shared.WrapError("achievement", "Decode", shared.ErrInvalidFormat,
			fmt.Sprintf("malformed criteria for type %q", t), err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeCriteria serializes criteria for storage.
func EncodeCriteria(c Criteria) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, shared.WrapError("achievement", "Encode", shared.ErrInvalidFormat,
			"failed to serialize criteria", err)
	}
	return data, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER ACHIEVEMENT (award record)
// ══════════════════════════════════════════════════════════════════════════════

// UserAchievement records one award. The (UserID, AchievementID) pair is
// unique in the durable store; that constraint, not in-process locking, is
// what makes awarding at-most-once under concurrency. Created exactly once,
// never mutated.
type UserAchievement struct {
	ID            uuid.UUID
	UserID        int64
	AchievementID int64
	EarnedAt      time.Time
}

// NewUserAchievement creates an award record timestamped now (UTC).
func NewUserAchievement(userID, achievementID int64) *UserAchievement {
	return &UserAchievement{
		ID:            uuid.New(),
		UserID:        userID,
		AchievementID: achievementID,
		EarnedAt:      time.Now().UTC(),
	}
}
