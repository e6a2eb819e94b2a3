// Package engine implements the trigger engine: given a user event, it
// decides which achievements advance, persists their progress, and awards
// completions exactly once.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/guildforge/achievement-engine/internal/cache"
	"github.com/guildforge/achievement-engine/internal/domain/achievement"
	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/internal/domain/trigger"
	"github.com/guildforge/achievement-engine/internal/evaluator"
	"github.com/guildforge/achievement-engine/internal/monitor"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// Cache types and key schemes used by the engine.
const (
	CacheTypeAchievement = "achievement"
	CacheTypeProgress    = "progress"
)

func achievementKey(id int64) string {
	return fmt.Sprintf("achievement:%d", id)
}

func progressKey(userID, achievementID int64) string {
	return fmt.Sprintf("user:%d:progress:%d", userID, achievementID)
}

func userPattern(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Config holds engine tuning knobs.
type Config struct {
	// WindowMaxSamples bounds the per-progress sliding window ring.
	WindowMaxSamples int

	// EventHistoryMax bounds the per-progress event history.
	EventHistoryMax int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		WindowMaxSamples: 256,
		EventHistoryMax:  128,
	}
}

// CheckResult is the outcome of one trigger check.
type CheckResult struct {
	// Triggered reports whether the achievement's criteria completed on
	// this event.
	Triggered bool

	// AlreadyEarned reports the idempotency short-circuit: the user
	// holds the achievement, nothing was evaluated or persisted.
	AlreadyEarned bool

	// Reason explains a non-triggering outcome.
	Reason string

	// Progress is the post-check progress record, nil when short-circuited.
	Progress *achievement.Progress

	// Award is the persisted award record when AwardIfTriggered awarded.
	Award *achievement.UserAchievement
}

// Engine checks and awards achievements.
type Engine struct {
	cfg      Config
	repo     achievement.Repository
	eval     *evaluator.Evaluator
	cache    *cache.Manager
	registry *trigger.Registry
	monitor  *monitor.Monitor
	bus      shared.EventPublisher
	log      *logger.Logger
}

// New creates an engine. registry, monitor, and bus may be nil; the
// corresponding behavior (config gating, metrics, events) is skipped.
func New(cfg Config, repo achievement.Repository, eval *evaluator.Evaluator, cm *cache.Manager, registry *trigger.Registry, mon *monitor.Monitor, bus shared.EventPublisher, log *logger.Logger) *Engine {
	if cfg.WindowMaxSamples <= 0 {
		cfg.WindowMaxSamples = 256
	}
	if cfg.EventHistoryMax <= 0 {
		cfg.EventHistoryMax = 128
	}

	return &Engine{
		cfg:      cfg,
		repo:     repo,
		eval:     eval,
		cache:    cm,
		registry: registry,
		monitor:  mon,
		bus:      bus,
		log:      log.With(logger.Component("engine")),
	}
}

// Check evaluates one achievement against one event for one user. It
// mutates and persists progress but never awards; pair it with
// AwardIfTriggered for the full flow. The idempotency short-circuit runs
// before any evaluation.
func (e *Engine) Check(ctx context.Context, achievementID int64, ec trigger.EventContext) (res CheckResult, err error) {
	start := time.Now()
	defer func() {
		if e.monitor != nil {
			e.monitor.RecordCheck(time.Since(start), err)
		}
	}()

	earned, err := e.repo.HasUserAchievement(ctx, ec.UserID, achievementID)
	if err != nil {
		return res, shared.WrapError("engine", "Check", shared.ErrExternalService,
			"failed to check award record", err)
	}
	if earned {
		return CheckResult{AlreadyEarned: true, Reason: "already earned"}, nil
	}

	ach, err := e.loadAchievement(ctx, achievementID)
	if err != nil {
		return res, err
	}
	if !ach.IsActive {
		return CheckResult{Reason: "achievement inactive"}, nil
	}

	if reason, ok, derr := e.dependenciesMet(ctx, ec.UserID, ach.Dependencies); derr != nil {
		return res, derr
	} else if !ok {
		return CheckResult{Reason: reason}, nil
	}

	prog, err := e.loadProgress(ctx, ec.UserID, ach)
	if err != nil {
		return res, err
	}

	cfg := e.configFor(ach)
	if cfg != nil && !cfg.AppliesTo(ec.Event) {
		return CheckResult{Reason: fmt.Sprintf("event %q does not apply", ec.Event), Progress: prog}, nil
	}

	// Streak conditions read accumulated activity days; the event's day
	// lands in the progress data before any condition list sees it.
	dayRecorded := false
	if tracksConsecutiveActivity(ach, cfg) {
		dayRecorded = prog.Data.RecordActivityDate(ec.Now())
	}

	if cfg != nil {
		if reason, ok, derr := e.dependenciesMet(ctx, ec.UserID, cfg.Dependencies); derr != nil {
			return res, derr
		} else if !ok {
			return e.finishGated(ctx, prog, ec, reason, dayRecorded)
		}
		if len(cfg.Conditions) > 0 {
			gate := e.eval.EvaluateAll(ctx, cfg.Conditions, cfg.LogicOperator, ec, &prog.Data)
			if !gate.Passed {
				return e.finishGated(ctx, prog, ec, gate.Reason, dayRecorded)
			}
		}
	}

	triggered, reason := e.advance(ctx, ach, prog, ec)

	prog.Touch(ec.Now())
	if err := e.persistProgress(ctx, prog); err != nil {
		return res, err
	}

	e.publishProgress(ach, prog, ec)

	return CheckResult{Triggered: triggered, Reason: reason, Progress: prog}, nil
}

// finishGated ends a check that a gate blocked. A newly recorded
// activity day still persists, so streaks keep building across gated
// events.
func (e *Engine) finishGated(ctx context.Context, prog *achievement.Progress, ec trigger.EventContext, reason string, dayRecorded bool) (CheckResult, error) {
	if dayRecorded {
		prog.Touch(ec.Now())
		if err := e.persistProgress(ctx, prog); err != nil {
			return CheckResult{}, err
		}
	}
	return CheckResult{Reason: reason, Progress: prog}, nil
}

// AwardIfTriggered runs Check and, on a trigger, persists the award. A
// duplicate award (lost race or replayed event) is normalized to the
// "already earned" non-error outcome; the winner's record stands.
func (e *Engine) AwardIfTriggered(ctx context.Context, achievementID int64, ec trigger.EventContext) (CheckResult, error) {
	res, err := e.Check(ctx, achievementID, ec)
	if err != nil || !res.Triggered {
		return res, err
	}

	ua := achievement.NewUserAchievement(ec.UserID, achievementID)
	if err := e.repo.AwardAchievement(ctx, ua); err != nil {
		if shared.IsDuplicateAward(err) {
			e.log.Info("duplicate award normalized",
				logger.UserID(ec.UserID), logger.AchievementID(achievementID))
			if e.bus != nil {
				_ = e.bus.Publish(shared.NewGenericEvent(shared.EventDuplicateNormalized,
					fmt.Sprintf("%d", ec.UserID), map[string]any{
						"user_id":        ec.UserID,
						"achievement_id": achievementID,
					}))
			}
			res.Triggered = false
			res.AlreadyEarned = true
			res.Reason = "already earned"
			return res, nil
		}
		return res, err
	}
	res.Award = ua

	// Everything cached about this user is now stale.
	e.invalidateUser(ctx, ec.UserID)

	e.log.Info("achievement awarded",
		logger.UserID(ec.UserID),
		logger.AchievementID(achievementID),
		logger.TriggerEvent(ec.Event))
	if e.bus != nil {
		_ = e.bus.Publish(shared.NewGenericEvent(shared.EventAchievementAwarded,
			fmt.Sprintf("%d", ec.UserID), map[string]any{
				"user_id":        ec.UserID,
				"achievement_id": achievementID,
				"award_id":       ua.ID.String(),
				"earned_at":      ua.EarnedAt,
			}))
	}

	return res, nil
}

// WarmUp preloads every active achievement definition into the cache so
// the first wave of checks after a restart skips the definition reads.
// Returns the number of definitions cached.
func (e *Engine) WarmUp(ctx context.Context) (int, error) {
	if e.cache == nil {
		return 0, nil
	}

	achievements, err := e.repo.ListAchievements(ctx, true)
	if err != nil {
		return 0, err
	}

	cached := 0
	for _, a := range achievements {
		row, err := toCachedAchievement(a)
		if err != nil {
			e.log.Warn("skipping achievement during warm-up",
				logger.AchievementID(a.ID), logger.Err(err))
			continue
		}
		e.cache.Set(ctx, CacheTypeAchievement, achievementKey(a.ID), row)
		cached++
	}

	e.log.Info("achievement definitions preloaded", logger.Int("count", cached))
	return cached, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING AND PERSISTENCE (cache-aware)
// ══════════════════════════════════════════════════════════════════════════════

// loadAchievement reads the definition through the cache. Cached rows
// store the raw criteria; decoding re-runs on promotion so a cached entry
// can never smuggle invalid criteria past load validation.
func (e *Engine) loadAchievement(ctx context.Context, id int64) (*achievement.Achievement, error) {
	if e.cache != nil {
		var row cachedAchievement
		if e.cache.Get(ctx, CacheTypeAchievement, achievementKey(id), &row) {
			if a, err := row.toDomain(); err == nil {
				return a, nil
			}
			e.cache.Delete(ctx, CacheTypeAchievement, achievementKey(id))
		}
	}

	a, err := e.repo.GetAchievementByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if row, err := toCachedAchievement(a); err == nil {
			e.cache.Set(ctx, CacheTypeAchievement, achievementKey(id), row)
		}
	}
	return a, nil
}

func (e *Engine) loadProgress(ctx context.Context, userID int64, ach *achievement.Achievement) (*achievement.Progress, error) {
	key := progressKey(userID, ach.ID)

	if e.cache != nil {
		var p achievement.Progress
		if e.cache.Get(ctx, CacheTypeProgress, key, &p) {
			return &p, nil
		}
	}

	p, err := e.repo.GetUserProgress(ctx, userID, ach.ID)
	if err != nil {
		if shared.IsNotFound(err) {
			return achievement.NewProgress(userID, ach.ID, ach.Target()), nil
		}
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(ctx, CacheTypeProgress, key, p)
	}
	return p, nil
}

// persistProgress writes through: repository first, then cache. The
// fresh record replaces the cached copy in place of an invalidation;
// the user-wide pattern invalidation runs on award, when earned-state
// changes what the user's cached entries mean.
func (e *Engine) persistProgress(ctx context.Context, p *achievement.Progress) error {
	if err := e.repo.UpdateProgress(ctx, p); err != nil {
		return err
	}
	if e.cache != nil {
		e.cache.Set(ctx, CacheTypeProgress, progressKey(p.UserID, p.AchievementID), p)
	}
	return nil
}

func (e *Engine) invalidateUser(ctx context.Context, userID int64) {
	if e.cache != nil {
		e.cache.InvalidatePattern(ctx, CacheTypeProgress, userPattern(userID))
	}
}

// dependenciesMet verifies the user holds every listed achievement.
func (e *Engine) dependenciesMet(ctx context.Context, userID int64, deps []int64) (string, bool, error) {
	for _, dep := range deps {
		earned, err := e.repo.HasUserAchievement(ctx, userID, dep)
		if err != nil {
			return "", false, shared.WrapError("engine", "Check", shared.ErrExternalService,
				fmt.Sprintf("failed to check dependency %d", dep), err)
		}
		if !earned {
			return fmt.Sprintf("dependency %d not yet earned", dep), false, nil
		}
	}
	return "", true, nil
}

func (e *Engine) configFor(ach *achievement.Achievement) *trigger.Config {
	if e.registry == nil {
		return nil
	}
	return e.registry.ConfigFor(string(ach.Type))
}

func (e *Engine) publishProgress(ach *achievement.Achievement, p *achievement.Progress, ec trigger.EventContext) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(shared.NewGenericEvent(shared.EventProgressUpdated,
		fmt.Sprintf("%d", p.UserID), map[string]any{
			"user_id":        p.UserID,
			"achievement_id": ach.ID,
			"current_value":  p.CurrentValue,
			"target_value":   p.TargetValue,
			"percentage":     p.Percentage(),
			"trigger_event":  ec.Event,
		}))
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT CACHE ROW
// ══════════════════════════════════════════════════════════════════════════════

// cachedAchievement is the cache representation of a definition: criteria
// stay serialized because Criteria is an interface.
type cachedAchievement struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Type         string    `json:"type"`
	Criteria     []byte    `json:"criteria"`
	Points       int       `json:"points"`
	IsActive     bool      `json:"is_active"`
	Dependencies []int64   `json:"dependencies,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toCachedAchievement(a *achievement.Achievement) (*cachedAchievement, error) {
	raw, err := achievement.EncodeCriteria(a.Criteria)
	if err != nil {
		return nil, err
	}
	return &cachedAchievement{
		ID:           a.ID,
		Name:         a.Name,
		Description:  a.Description,
		Type:         string(a.Type),
		Criteria:     raw,
		Points:       a.Points,
		IsActive:     a.IsActive,
		Dependencies: a.Dependencies,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}, nil
}

func (row *cachedAchievement) toDomain() (*achievement.Achievement, error) {
	criteria, err := achievement.DecodeCriteria(achievement.Type(row.Type), row.Criteria)
	if err != nil {
		return nil, err
	}
	return &achievement.Achievement{
		ID:           row.ID,
		Name:         row.Name,
		Description:  row.Description,
		Type:         achievement.Type(row.Type),
		Criteria:     criteria,
		Points:       row.Points,
		IsActive:     row.IsActive,
		Dependencies: row.Dependencies,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}
