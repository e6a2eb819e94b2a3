// Package trigger defines declarative trigger conditions and per-achievement
// trigger configuration. Conditions are immutable once loaded and are
// validated exhaustively at load time; the evaluator assumes it only ever
// sees validated instances.
package trigger

import (
	"fmt"
	"time"

	"github.com/guildforge/achievement-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONDITION TYPES
// ══════════════════════════════════════════════════════════════════════════════

// ConditionType identifies which predicate a condition encodes.
type ConditionType string

const (
	// ConditionMetricThreshold compares an event metric (or a windowed
	// accumulation of it) against a threshold.
	ConditionMetricThreshold ConditionType = "metric_threshold"

	// ConditionAchievementDependency passes iff the user already holds
	// another achievement.
	ConditionAchievementDependency ConditionType = "achievement_dependency"

	// ConditionTimeRange passes iff the event time falls within a range.
	ConditionTimeRange ConditionType = "time_range"

	// ConditionConsecutiveActivity passes iff the user's activity-day
	// streak reaches a target with no gap larger than one day.
	ConditionConsecutiveActivity ConditionType = "consecutive_activity"

	// ConditionGuildRole passes iff the event carries a given guild role.
	ConditionGuildRole ConditionType = "guild_role"

	// ConditionChannelActivity passes iff the event's channel activity
	// count reaches a minimum, optionally scoped to one channel.
	ConditionChannelActivity ConditionType = "channel_activity"
)

// knownConditionTypes is the closed set used for validation.
var knownConditionTypes = map[ConditionType]bool{
	ConditionMetricThreshold:       true,
	ConditionAchievementDependency: true,
	ConditionTimeRange:             true,
	ConditionConsecutiveActivity:   true,
	ConditionGuildRole:             true,
	ConditionChannelActivity:       true,
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPARISON OPERATORS
// ══════════════════════════════════════════════════════════════════════════════

// Operator is a comparison operator for metric thresholds.
type Operator string

const (
	OpGTE Operator = ">="
	OpGT  Operator = ">"
	OpLTE Operator = "<="
	OpLT  Operator = "<"
	OpEQ  Operator = "=="
	OpNEQ Operator = "!="
)

// DefaultOperator is applied when a metric threshold omits its operator.
const DefaultOperator = OpGTE

// Valid reports whether the operator is one of the supported comparisons.
func (o Operator) Valid() bool {
	switch o {
	case OpGTE, OpGT, OpLTE, OpLT, OpEQ, OpNEQ:
		return true
	default:
		return false
	}
}

// Compare applies the operator to (value, threshold).
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGTE:
		return value >= threshold
	case OpGT:
		return value > threshold
	case OpLTE:
		return value <= threshold
	case OpLT:
		return value < threshold
	case OpEQ:
		return value == threshold
	case OpNEQ:
		return value != threshold
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGIC OPERATORS
// ══════════════════════════════════════════════════════════════════════════════

// LogicOperator combines a list of conditions.
type LogicOperator string

const (
	// LogicAnd requires every condition to pass.
	LogicAnd LogicOperator = "AND"
	// LogicOr requires at least one condition to pass.
	LogicOr LogicOperator = "OR"
)

// Valid reports whether the logic operator is supported.
func (l LogicOperator) Valid() bool {
	return l == LogicAnd || l == LogicOr
}

// ══════════════════════════════════════════════════════════════════════════════
// CONDITION (tagged union)
// ══════════════════════════════════════════════════════════════════════════════

// Condition is one declarative predicate. Exactly one of the params fields
// must be set, matching Type. The zero value is invalid.
type Condition struct {
	// Type selects the predicate and which params field is read.
	Type ConditionType `json:"condition_type"`

	// Description is a human-readable label used in diagnostic reasons.
	Description string `json:"description,omitempty"`

	MetricThreshold     *MetricThresholdParams     `json:"metric_threshold,omitempty"`
	Dependency          *DependencyParams          `json:"achievement_dependency,omitempty"`
	TimeRange           *TimeRangeParams           `json:"time_range,omitempty"`
	ConsecutiveActivity *ConsecutiveActivityParams `json:"consecutive_activity,omitempty"`
	GuildRole           *GuildRoleParams           `json:"guild_role,omitempty"`
	ChannelActivity     *ChannelActivityParams     `json:"channel_activity,omitempty"`
}

// MetricThresholdParams configures a metric_threshold condition.
type MetricThresholdParams struct {
	// Metric names the event-context metric to compare.
	Metric string `json:"metric"`

	// Threshold is the comparison boundary.
	Threshold float64 `json:"threshold"`

	// Operator defaults to ">=" when empty.
	Operator Operator `json:"operator,omitempty"`

	// TimeWindow, when positive, restricts accumulation to samples whose
	// timestamp falls within the window ending at the event time.
	TimeWindow time.Duration `json:"time_window,omitempty"`
}

// DependencyParams configures an achievement_dependency condition.
type DependencyParams struct {
	// AchievementID is the achievement the user must already hold.
	AchievementID int64 `json:"achievement_id"`
}

// TimeRangeParams configures a time_range condition.
// Either bound may be nil for an open range.
type TimeRangeParams struct {
	Start *time.Time `json:"start_time,omitempty"`
	End   *time.Time `json:"end_time,omitempty"`
}

// ConsecutiveActivityParams configures a consecutive_activity condition.
type ConsecutiveActivityParams struct {
	// TargetDays is the streak length required to pass.
	TargetDays int `json:"target_days"`
}

// GuildRoleParams configures a guild_role condition.
type GuildRoleParams struct {
	// RoleID is the role the event context must carry.
	RoleID string `json:"role_id"`
}

// ChannelActivityParams configures a channel_activity condition.
type ChannelActivityParams struct {
	// ChannelID, when non-empty, requires the event to come from this channel.
	ChannelID string `json:"channel_id,omitempty"`

	// Metric names the count metric in the event context.
	// Defaults to "channel_message_count" at validation time.
	Metric string `json:"metric,omitempty"`

	// MinCount is the minimum count required to pass.
	MinCount float64 `json:"min_count"`
}

// defaultChannelActivityMetric is filled in by Normalize when a
// channel_activity condition omits its metric name.
const defaultChannelActivityMetric = "channel_message_count"

// Validate checks the condition exhaustively. Conditions that fail
// validation are rejected at configuration load; the evaluator never
// re-validates.
func (c *Condition) Validate() error {
	if !knownConditionTypes[c.Type] {
		return shared.WrapError("trigger", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown condition type %q", c.Type), nil)
	}

	if n := c.paramsSet(); n != 1 {
		return shared.WrapError("trigger", "Validate", shared.ErrValidation,
			fmt.Sprintf("condition %q must set exactly one params block, got %d", c.Type, n), nil)
	}

	switch c.Type {
	case ConditionMetricThreshold:
		p := c.MetricThreshold
		if p == nil {
			return paramsMismatch(c.Type)
		}
		if p.Metric == "" {
			return shared.WrapError("trigger", "Validate", shared.ErrEmptyValue,
				"metric_threshold requires a metric name", nil)
		}
		if p.Operator != "" && !p.Operator.Valid() {
			return shared.WrapError("trigger", "Validate", shared.ErrInvalidInput,
				fmt.Sprintf("invalid operator %q", p.Operator), nil)
		}
		if p.TimeWindow < 0 {
			return shared.WrapError("trigger", "Validate", shared.ErrNegativeValue,
				"time_window cannot be negative", nil)
		}

	case ConditionAchievementDependency:
		p := c.Dependency
		if p == nil {
			return paramsMismatch(c.Type)
		}
		if p.AchievementID <= 0 {
			return shared.WrapError("trigger", "Validate", shared.ErrInvalidID,
				"achievement_dependency requires a positive achievement_id", nil)
		}

	case ConditionTimeRange:
		p := c.TimeRange
		if p == nil {
			return paramsMismatch(c.Type)
		}
		if p.Start == nil && p.End == nil {
			return shared.WrapError("trigger", "Validate", shared.ErrEmptyValue,
				"time_range requires at least one bound", nil)
		}
		if p.Start != nil && p.End != nil && p.End.Before(*p.Start) {
			return shared.WrapError("trigger", "Validate", shared.ErrValueOutOfRange,
				"time_range end is before start", nil)
		}

	case ConditionConsecutiveActivity:
		p := c.ConsecutiveActivity
		if p == nil {
			return paramsMismatch(c.Type)
		}
		if p.TargetDays <= 0 {
			return shared.WrapError("trigger", "Validate", shared.ErrValueOutOfRange,
				"consecutive_activity requires target_days >= 1", nil)
		}

	case ConditionGuildRole:
		p := c.GuildRole
		if p == nil {
			return paramsMismatch(c.Type)
		}
		if p.RoleID == "" {
			return shared.WrapError("trigger", "Validate", shared.ErrEmptyValue,
				"guild_role requires a role_id", nil)
		}

	case ConditionChannelActivity:
		p := c.ChannelActivity
		if p == nil {
			return paramsMismatch(c.Type)
		}
		if p.MinCount <= 0 {
			return shared.WrapError("trigger", "Validate", shared.ErrValueOutOfRange,
				"channel_activity requires min_count >= 1", nil)
		}
	}

	return nil
}

// Normalize fills in defaults (operator, channel metric name).
// Call after Validate, at load time only.
func (c *Condition) Normalize() {
	if c.MetricThreshold != nil && c.MetricThreshold.Operator == "" {
		c.MetricThreshold.Operator = DefaultOperator
	}
	if c.ChannelActivity != nil && c.ChannelActivity.Metric == "" {
		c.ChannelActivity.Metric = defaultChannelActivityMetric
	}
}

// Label returns the diagnostic name for this condition: the description
// when present, otherwise the condition type.
func (c *Condition) Label() string {
	if c.Description != "" {
		return c.Description
	}
	return string(c.Type)
}

// paramsSet counts how many params blocks are non-nil.
func (c *Condition) paramsSet() int {
	n := 0
	if c.MetricThreshold != nil {
		n++
	}
	if c.Dependency != nil {
		n++
	}
	if c.TimeRange != nil {
		n++
	}
	if c.ConsecutiveActivity != nil {
		n++
	}
	if c.GuildRole != nil {
		n++
	}
	if c.ChannelActivity != nil {
		n++
	}
	return n
}

func paramsMismatch(t ConditionType) error {
	return shared.WrapError("trigger", "Validate", shared.ErrValidation,
		fmt.Sprintf("condition type %q has no matching params block", t), nil)
}

// ValidateConditions validates and normalizes a full condition list.
func ValidateConditions(conds []Condition) error {
	if len(conds) == 0 {
		return shared.ErrEmptyConditionList
	}
	for i := range conds {
		if err := conds[i].Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
		conds[i].Normalize()
	}
	return nil
}
