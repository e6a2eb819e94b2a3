// Package evaluator decides whether declarative trigger conditions hold for
// a given user event. It is pure decision logic: persistence and caching
// stay behind the small interfaces it accepts.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/guildforge/achievement-engine/internal/domain/achievement"
	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/internal/domain/trigger"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// DependencyChecker answers "has this user already earned achievement X".
// Satisfied by the repository and by the cached engine lookup.
type DependencyChecker interface {
	HasUserAchievement(ctx context.Context, userID, achievementID int64) (bool, error)
}

// Result is the outcome of evaluating one condition or a full list.
// Reason is a short diagnostic string, filled for failures and for OR
// lists that pass (naming the condition that carried the list).
type Result struct {
	Passed bool
	Reason string
}

// Evaluator evaluates trigger conditions against event contexts.
type Evaluator struct {
	deps DependencyChecker
	log  *logger.Logger
}

// New creates an evaluator. deps may be nil if no achievement_dependency
// conditions will ever be evaluated; hitting one then fails the condition
// with a diagnostic reason rather than panicking.
func New(deps DependencyChecker, log *logger.Logger) *Evaluator {
	return &Evaluator{
		deps: deps,
		log:  log.With(logger.Component("evaluator")),
	}
}

// Evaluate evaluates one condition. Unknown condition types fail closed:
// the condition evaluates to false with an error, never to true.
// data supplies accumulated state (streak days, windows) for conditions
// that need history; it may be nil.
func (e *Evaluator) Evaluate(ctx context.Context, cond *trigger.Condition, ec trigger.EventContext, data *achievement.ProgressData) (Result, error) {
	switch cond.Type {
	case trigger.ConditionMetricThreshold:
		return e.evalMetricThreshold(cond, ec, data), nil

	case trigger.ConditionAchievementDependency:
		return e.evalDependency(ctx, cond, ec)

	case trigger.ConditionTimeRange:
		return evalTimeRange(cond, ec), nil

	case trigger.ConditionConsecutiveActivity:
		return evalConsecutiveActivity(cond, data), nil

	case trigger.ConditionGuildRole:
		return evalGuildRole(cond, ec), nil

	case trigger.ConditionChannelActivity:
		return evalChannelActivity(cond, ec), nil

	default:
		err := shared.WrapError("evaluator", "Evaluate", shared.ErrUnknownConditionType,
			fmt.Sprintf("unknown condition type %q", cond.Type), nil)
		return Result{Passed: false, Reason: err.Error()}, err
	}
}

// EvaluateAll evaluates a condition list under the given logic operator.
// AND fails fast on the first failing condition and reports it; OR passes
// on the first passing condition. Evaluation errors fail the affected
// condition (and an AND list with it) rather than aborting the check.
func (e *Evaluator) EvaluateAll(ctx context.Context, conds []trigger.Condition, op trigger.LogicOperator, ec trigger.EventContext, data *achievement.ProgressData) Result {
	if len(conds) == 0 {
		return Result{Passed: false, Reason: "empty condition list"}
	}

	if op == trigger.LogicOr {
		reasons := make([]string, 0, len(conds))
		for i := range conds {
			res, err := e.Evaluate(ctx, &conds[i], ec, data)
			if err != nil {
				e.log.Warn("condition evaluation failed",
					logger.UserID(ec.UserID),
					logger.Reason(conds[i].Label()),
					logger.Err(err))
			}
			if res.Passed {
				return Result{Passed: true, Reason: conds[i].Label()}
			}
			reasons = append(reasons, res.Reason)
		}
		return Result{Passed: false, Reason: "no condition passed: " + strings.Join(reasons, "; ")}
	}

	for i := range conds {
		res, err := e.Evaluate(ctx, &conds[i], ec, data)
		if err != nil {
			e.log.Warn("condition evaluation failed",
				logger.UserID(ec.UserID),
				logger.Reason(conds[i].Label()),
				logger.Err(err))
		}
		if !res.Passed {
			return res
		}
	}
	return Result{Passed: true}
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-TYPE PREDICATES
// ══════════════════════════════════════════════════════════════════════════════

func (e *Evaluator) evalMetricThreshold(cond *trigger.Condition, ec trigger.EventContext, data *achievement.ProgressData) Result {
	p := cond.MetricThreshold

	var value float64
	if p.TimeWindow > 0 {
		// Windowed comparison reads accumulated history, not the single
		// event value. The current event's contribution is expected to
		// already be in the window.
		if data == nil {
			return fail(cond, "no accumulated history for windowed metric %q", p.Metric)
		}
		value = data.WindowTotal(ec.Now().Add(-p.TimeWindow))
	} else {
		v, ok := ec.Metric(p.Metric)
		if !ok {
			return fail(cond, "metric %q not present in event", p.Metric)
		}
		value = v
	}

	op := p.Operator
	if op == "" {
		op = trigger.DefaultOperator
	}
	if !op.Compare(value, p.Threshold) {
		return fail(cond, "metric %q is %g, needs %s %g", p.Metric, value, op, p.Threshold)
	}
	return Result{Passed: true}
}

func (e *Evaluator) evalDependency(ctx context.Context, cond *trigger.Condition, ec trigger.EventContext) (Result, error) {
	p := cond.Dependency
	if e.deps == nil {
		return fail(cond, "dependency check unavailable"), nil
	}

	earned, err := e.deps.HasUserAchievement(ctx, ec.UserID, p.AchievementID)
	if err != nil {
		// Fail closed: an unreadable dependency never unlocks anything.
		return fail(cond, "dependency lookup failed for achievement %d", p.AchievementID), err
	}
	if !earned {
		return fail(cond, "achievement %d not yet earned", p.AchievementID), nil
	}
	return Result{Passed: true}, nil
}

func evalTimeRange(cond *trigger.Condition, ec trigger.EventContext) Result {
	p := cond.TimeRange
	now := ec.Now()

	if p.Start != nil && now.Before(*p.Start) {
		return fail(cond, "event at %s is before range start %s",
			now.Format("2006-01-02 15:04:05"), p.Start.Format("2006-01-02 15:04:05"))
	}
	if p.End != nil && now.After(*p.End) {
		return fail(cond, "event at %s is after range end %s",
			now.Format("2006-01-02 15:04:05"), p.End.Format("2006-01-02 15:04:05"))
	}
	return Result{Passed: true}
}

func evalConsecutiveActivity(cond *trigger.Condition, data *achievement.ProgressData) Result {
	p := cond.ConsecutiveActivity
	streak := 0
	if data != nil {
		streak = data.CurrentStreak()
	}
	if streak < p.TargetDays {
		return fail(cond, "streak is %d days, needs %d", streak, p.TargetDays)
	}
	return Result{Passed: true}
}

func evalGuildRole(cond *trigger.Condition, ec trigger.EventContext) Result {
	p := cond.GuildRole
	if !ec.HasRole(p.RoleID) {
		return fail(cond, "user lacks role %s", p.RoleID)
	}
	return Result{Passed: true}
}

func evalChannelActivity(cond *trigger.Condition, ec trigger.EventContext) Result {
	p := cond.ChannelActivity
	if p.ChannelID != "" && ec.ChannelID != p.ChannelID {
		return fail(cond, "event is from channel %s, not %s", ec.ChannelID, p.ChannelID)
	}

	metric := p.Metric
	if metric == "" {
		metric = "channel_message_count"
	}
	count, ok := ec.Metric(metric)
	if !ok {
		return fail(cond, "metric %q not present in event", metric)
	}
	if count < p.MinCount {
		return fail(cond, "channel count is %g, needs at least %g", count, p.MinCount)
	}
	return Result{Passed: true}
}

func fail(cond *trigger.Condition, format string, args ...any) Result {
	return Result{
		Passed: false,
		Reason: cond.Label() + ": " + fmt.Sprintf(format, args...),
	}
}
