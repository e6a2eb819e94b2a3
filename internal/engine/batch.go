package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guildforge/achievement-engine/internal/domain/achievement"
	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/internal/domain/trigger"
	"github.com/guildforge/achievement-engine/internal/monitor"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// UnitFailure captures one failed (user, achievement) check inside a
// batch. The batch continues past it.
type UnitFailure struct {
	UserID        int64
	AchievementID int64
	Err           error
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	// Awards maps user ID to the awards granted during the batch.
	Awards map[int64][]*achievement.UserAchievement

	// Failures lists the units that errored.
	Failures []UnitFailure

	// Checked is the number of units evaluated.
	Checked int

	// Duration is the wall time of the batch.
	Duration time.Duration
}

// BatchProcessor fans one event out across many users with bounded
// concurrency.
type BatchProcessor struct {
	engine      *Engine
	concurrency int
	log         *logger.Logger
}

// NewBatchProcessor creates a processor running at most concurrency
// checks at once.
func NewBatchProcessor(e *Engine, concurrency int, log *logger.Logger) *BatchProcessor {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &BatchProcessor{
		engine:      e,
		concurrency: concurrency,
		log:         log.With(logger.Component("batch")),
	}
}

// Process checks every relevant achievement for every user against the
// event. Relevance comes from the trigger registry; with no registry (or
// no matching configs) every active achievement is checked. One failing
// unit never aborts the batch, and cancelling ctx stops new units while
// in-flight ones finish.
func (bp *BatchProcessor) Process(ctx context.Context, userIDs []int64, base trigger.EventContext) (*BatchResult, error) {
	start := time.Now()

	achievements, err := bp.relevantAchievements(ctx, base.Event)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Awards: make(map[int64][]*achievement.UserAchievement)}
	if len(achievements) == 0 || len(userIDs) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, bp.concurrency)
	)

	for _, userID := range userIDs {
		for _, ach := range achievements {
			select {
			case <-ctx.Done():
				wg.Wait()
				result.Duration = time.Since(start)
				return result, ctx.Err()
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func(userID, achievementID int64) {
				defer wg.Done()
				defer func() { <-sem }()

				ec := base
				ec.UserID = userID

				res, err := bp.engine.AwardIfTriggered(ctx, achievementID, ec)

				mu.Lock()
				defer mu.Unlock()
				result.Checked++
				if err != nil {
					result.Failures = append(result.Failures, UnitFailure{
						UserID:        userID,
						AchievementID: achievementID,
						Err:           err,
					})
					return
				}
				if res.Award != nil {
					result.Awards[userID] = append(result.Awards[userID], res.Award)
				}
			}(userID, ach.ID)
		}
	}

	wg.Wait()
	result.Duration = time.Since(start)

	bp.log.Info("batch completed",
		logger.TriggerEvent(base.Event),
		logger.BatchSize(result.Checked),
		logger.Int("awards", len(result.Awards)),
		logger.Int("failures", len(result.Failures)),
		logger.Latency(result.Duration))

	if bp.engine.monitor != nil {
		bp.engine.monitor.Record(monitor.MetricBatchDuration, float64(result.Duration.Milliseconds()))
	}
	if bp.engine.bus != nil {
		_ = bp.engine.bus.Publish(shared.NewGenericEvent(shared.EventBatchCompleted,
			base.Event, map[string]any{
				"trigger_event": base.Event,
				"checked":       result.Checked,
				"users":         len(userIDs),
				"awards":        len(result.Awards),
				"failures":      len(result.Failures),
				"duration_ms":   result.Duration.Milliseconds(),
			}))
	}

	return result, nil
}

// relevantAchievements resolves which active achievements can react to
// the event.
func (bp *BatchProcessor) relevantAchievements(ctx context.Context, event string) ([]*achievement.Achievement, error) {
	all, err := bp.engine.repo.ListAchievements(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}

	reg := bp.engine.registry
	if reg == nil || reg.Len() == 0 {
		return all, nil
	}

	reactive := make(map[string]bool)
	for _, cfg := range reg.ForEvent(event) {
		reactive[cfg.AchievementType] = true
	}

	var out []*achievement.Achievement
	for _, a := range all {
		if reactive[string(a.Type)] {
			out = append(out, a)
		}
	}
	return out, nil
}
