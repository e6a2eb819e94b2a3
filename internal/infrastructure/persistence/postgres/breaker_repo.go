package postgres

import (
	"context"
	"errors"

	"github.com/guildforge/achievement-engine/internal/domain/achievement"
	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/circuitbreaker"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// BreakerRepository decorates a Repository with a circuit breaker. When the
// database keeps failing, the breaker opens and calls fail fast with
// shared.ErrServiceUnavailable instead of queuing up on a dead pool.
//
// Only infrastructure failures trip the breaker. Domain outcomes carried as
// errors, such as a missing record or a duplicate award, pass through
// without counting against it.
type BreakerRepository struct {
	inner achievement.Repository
	cb    *circuitbreaker.CircuitBreaker
	log   *logger.Logger
}

// NewBreakerRepository wraps inner with the database circuit breaker.
func NewBreakerRepository(inner achievement.Repository, log *logger.Logger) *BreakerRepository {
	log = log.With(logger.Component("repository-breaker"))
	return &BreakerRepository{
		inner: inner,
		log:   log,
		cb: circuitbreaker.DatabaseBreaker(
			func(name string, from, to circuitbreaker.State) {
				log.Warn("database circuit state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()))
			},
			circuitbreaker.WithIsFailure(func(err error) bool {
				return errors.Is(err, shared.ErrExternalService) || shared.IsTransient(err)
			}),
		),
	}
}

// Compile-time interface check.
var _ achievement.Repository = (*BreakerRepository)(nil)

// execute runs fn through the breaker, translating a rejected call into
// the engine's transient-failure kind.
func (r *BreakerRepository) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	err := r.cb.Execute(ctx, fn)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return shared.WrapError("postgres", op, shared.ErrServiceUnavailable,
			"database circuit open", err)
	}
	return err
}

func (r *BreakerRepository) GetAchievementByID(ctx context.Context, id int64) (*achievement.Achievement, error) {
	var out *achievement.Achievement
	err := r.execute(ctx, "GetAchievementByID", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetAchievementByID(ctx, id)
		return err
	})
	return out, err
}

func (r *BreakerRepository) ListAchievements(ctx context.Context, activeOnly bool) ([]*achievement.Achievement, error) {
	var out []*achievement.Achievement
	err := r.execute(ctx, "ListAchievements", func(ctx context.Context) error {
		var err error
		out, err = r.inner.ListAchievements(ctx, activeOnly)
		return err
	})
	return out, err
}

func (r *BreakerRepository) GetAchievementsByIDs(ctx context.Context, ids []int64) ([]*achievement.Achievement, error) {
	var out []*achievement.Achievement
	err := r.execute(ctx, "GetAchievementsByIDs", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetAchievementsByIDs(ctx, ids)
		return err
	})
	return out, err
}

func (r *BreakerRepository) HasUserAchievement(ctx context.Context, userID, achievementID int64) (bool, error) {
	var out bool
	err := r.execute(ctx, "HasUserAchievement", func(ctx context.Context) error {
		var err error
		out, err = r.inner.HasUserAchievement(ctx, userID, achievementID)
		return err
	})
	return out, err
}

func (r *BreakerRepository) GetUserAchievements(ctx context.Context, userID int64) ([]*achievement.UserAchievement, error) {
	var out []*achievement.UserAchievement
	err := r.execute(ctx, "GetUserAchievements", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetUserAchievements(ctx, userID)
		return err
	})
	return out, err
}

func (r *BreakerRepository) GetUserProgress(ctx context.Context, userID, achievementID int64) (*achievement.Progress, error) {
	var out *achievement.Progress
	err := r.execute(ctx, "GetUserProgress", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetUserProgress(ctx, userID, achievementID)
		return err
	})
	return out, err
}

func (r *BreakerRepository) GetUserProgressBatch(ctx context.Context, userID int64, achievementIDs []int64) (map[int64]*achievement.Progress, error) {
	var out map[int64]*achievement.Progress
	err := r.execute(ctx, "GetUserProgressBatch", func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetUserProgressBatch(ctx, userID, achievementIDs)
		return err
	})
	return out, err
}

func (r *BreakerRepository) UpdateProgress(ctx context.Context, p *achievement.Progress) error {
	return r.execute(ctx, "UpdateProgress", func(ctx context.Context) error {
		return r.inner.UpdateProgress(ctx, p)
	})
}

func (r *BreakerRepository) AwardAchievement(ctx context.Context, ua *achievement.UserAchievement) error {
	return r.execute(ctx, "AwardAchievement", func(ctx context.Context) error {
		return r.inner.AwardAchievement(ctx, ua)
	})
}

// State exposes the breaker state for health reporting.
func (r *BreakerRepository) State() circuitbreaker.State {
	return r.cb.State()
}
