package engine

import (
	"context"
	"fmt"

	"github.com/guildforge/achievement-engine/internal/domain/achievement"
	"github.com/guildforge/achievement-engine/internal/domain/trigger"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// advance applies one event to a progress record, per achievement type.
// Returns whether the criteria completed and a diagnostic reason when it
// did not. Criteria were validated at load; an unexpected variant means a
// corrupted definition and never triggers.
func (e *Engine) advance(ctx context.Context, ach *achievement.Achievement, prog *achievement.Progress, ec trigger.EventContext) (bool, string) {
	switch c := ach.Criteria.(type) {
	case *achievement.CounterCriteria:
		return e.advanceCounter(ctx, c, prog, ec)
	case *achievement.MilestoneCriteria:
		return e.advanceMilestone(ctx, c, prog, ec)
	case *achievement.TimeBasedCriteria:
		return e.advanceTimeBased(c, prog, ec)
	case *achievement.ConditionalCriteria:
		return e.advanceConditional(ctx, c, prog, ec)
	default:
		e.log.Error("achievement has unexpected criteria variant",
			logger.AchievementID(ach.ID))
		return false, "invalid criteria"
	}
}

// advanceCounter accumulates the counter metric. With a time window, the
// current value is always recomputed from the surviving window samples,
// so contributions age out even on the event that triggers.
func (e *Engine) advanceCounter(ctx context.Context, c *achievement.CounterCriteria, prog *achievement.Progress, ec trigger.EventContext) (bool, string) {
	if len(c.Conditions) > 0 {
		gate := e.eval.EvaluateAll(ctx, c.Conditions, c.LogicOperator, ec, &prog.Data)
		if !gate.Passed {
			return false, gate.Reason
		}
	}

	delta, ok := ec.Metric(c.CounterField)
	if !ok {
		return false, fmt.Sprintf("metric %q not present in event", c.CounterField)
	}
	if delta <= 0 {
		return false, fmt.Sprintf("metric %q carries no positive contribution", c.CounterField)
	}

	now := ec.Now()
	if c.TimeWindow > 0 {
		prog.Data.AppendWindowSample(now, delta, e.cfg.WindowMaxSamples)
		cutoff := now.Add(-c.TimeWindow)
		prog.Data.PruneWindow(cutoff)
		prog.CurrentValue = int64(prog.Data.WindowTotal(cutoff))
	} else {
		// Records written before fractional accounting carry only the
		// integer total.
		if prog.Data.Accumulated < float64(prog.CurrentValue) {
			prog.Data.Accumulated = float64(prog.CurrentValue)
		}
		prog.Data.Accumulated += delta
		prog.CurrentValue = int64(prog.Data.Accumulated)
	}

	if prog.Complete() {
		return true, ""
	}
	return false, fmt.Sprintf("counter at %d of %d", prog.CurrentValue, prog.TargetValue)
}

// advanceMilestone handles the three milestone modes.
func (e *Engine) advanceMilestone(ctx context.Context, c *achievement.MilestoneCriteria, prog *achievement.Progress, ec trigger.EventContext) (bool, string) {
	switch {
	case c.EventSequence:
		prog.Data.AppendEvent(ec.Event, e.cfg.EventHistoryMax)
		prog.CurrentValue = int64(prog.Data.SequenceProgress(c.RequiredEvents))
		if prog.Data.MatchesSequence(c.RequiredEvents) {
			return true, ""
		}
		return false, fmt.Sprintf("sequence at step %d of %d", prog.CurrentValue, len(c.RequiredEvents))

	case len(c.Stages) > 0:
		// One stage may complete per event; a single burst never skips
		// intermediate stages.
		stage := prog.Data.CurrentStage
		if stage >= len(c.Stages) {
			return true, ""
		}
		res, err := e.eval.Evaluate(ctx, &c.Stages[stage], ec, &prog.Data)
		if err != nil || !res.Passed {
			return false, res.Reason
		}
		prog.Data.CurrentStage = stage + 1
		prog.CurrentValue = int64(stage + 1)
		if prog.Data.CurrentStage == len(c.Stages) {
			return true, ""
		}
		return false, fmt.Sprintf("completed stage %d of %d", prog.Data.CurrentStage, len(c.Stages))

	default:
		value, ok := ec.Metric(c.Metric)
		if !ok {
			return false, fmt.Sprintf("metric %q not present in event", c.Metric)
		}
		// Milestones track a high-water mark, they never regress.
		if int64(value) > prog.CurrentValue {
			prog.CurrentValue = int64(value)
		}
		if prog.Complete() {
			return true, ""
		}
		return false, fmt.Sprintf("metric %q at %d of %d", c.Metric, prog.CurrentValue, prog.TargetValue)
	}
}

// advanceTimeBased records the activity day and re-derives the streak. A
// gap larger than one day collapses the streak back to the recent run.
func (e *Engine) advanceTimeBased(c *achievement.TimeBasedCriteria, prog *achievement.Progress, ec trigger.EventContext) (bool, string) {
	prog.Data.RecordActivityDate(ec.Now())
	prog.CurrentValue = int64(prog.Data.CurrentStreak())

	if prog.Complete() {
		return true, ""
	}
	return false, fmt.Sprintf("streak at %d of %d days", prog.CurrentValue, c.TargetValue)
}

// tracksConsecutiveActivity reports whether any condition list evaluated
// during a check of ach reads the activity-day streak. Time-based
// achievements record their day in advanceTimeBased instead.
func tracksConsecutiveActivity(ach *achievement.Achievement, cfg *trigger.Config) bool {
	switch c := ach.Criteria.(type) {
	case *achievement.CounterCriteria:
		if hasStreakCondition(c.Conditions) {
			return true
		}
	case *achievement.MilestoneCriteria:
		if hasStreakCondition(c.Stages) {
			return true
		}
	case *achievement.ConditionalCriteria:
		if hasStreakCondition(c.Conditions) {
			return true
		}
	}
	return cfg != nil && hasStreakCondition(cfg.Conditions)
}

func hasStreakCondition(conds []trigger.Condition) bool {
	for i := range conds {
		if conds[i].Type == trigger.ConditionConsecutiveActivity {
			return true
		}
	}
	return false
}

// advanceConditional evaluates the full condition list. Progress reflects
// how many conditions held on this event, which makes partial progress
// visible even though only the composite outcome can trigger.
func (e *Engine) advanceConditional(ctx context.Context, c *achievement.ConditionalCriteria, prog *achievement.Progress, ec trigger.EventContext) (bool, string) {
	passed := 0
	var firstReason string
	for i := range c.Conditions {
		res, _ := e.eval.Evaluate(ctx, &c.Conditions[i], ec, &prog.Data)
		if res.Passed {
			passed++
		} else if firstReason == "" {
			firstReason = res.Reason
		}
	}
	prog.CurrentValue = int64(passed)

	if c.RequireAll {
		if passed == len(c.Conditions) {
			return true, ""
		}
		return false, firstReason
	}
	if passed > 0 {
		return true, ""
	}
	return false, firstReason
}
