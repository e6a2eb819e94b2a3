package achievement

import (
	"context"
)

// Repository is the persistence contract for achievement definitions,
// per-user progress, and award records. Implementations must enforce
// uniqueness of (user, achievement) awards at the storage level and
// surface violations as ErrDuplicateAward.
type Repository interface {
	// GetAchievementByID loads one definition by ID.
	// Returns ErrAchievementNotFound when absent.
	GetAchievementByID(ctx context.Context, id int64) (*Achievement, error)

	// ListAchievements loads all definitions. With activeOnly set,
	// inactive achievements are excluded.
	ListAchievements(ctx context.Context, activeOnly bool) ([]*Achievement, error)

	// GetAchievementsByIDs loads the definitions for the given IDs.
	// Missing IDs are skipped, not errors.
	GetAchievementsByIDs(ctx context.Context, ids []int64) ([]*Achievement, error)

	// HasUserAchievement reports whether the user already earned the
	// achievement.
	HasUserAchievement(ctx context.Context, userID, achievementID int64) (bool, error)

	// GetUserAchievements loads all award records for a user.
	GetUserAchievements(ctx context.Context, userID int64) ([]*UserAchievement, error)

	// GetUserProgress loads the progress record for a user/achievement
	// pair. Returns ErrProgressNotFound when no record exists yet.
	GetUserProgress(ctx context.Context, userID, achievementID int64) (*Progress, error)

	// GetUserProgressBatch loads the progress records for a user across
	// several achievements. Missing records are skipped.
	GetUserProgressBatch(ctx context.Context, userID int64, achievementIDs []int64) (map[int64]*Progress, error)

	// UpdateProgress upserts a progress record.
	UpdateProgress(ctx context.Context, p *Progress) error

	// AwardAchievement persists an award record. A concurrent or repeated
	// award of the same pair returns ErrDuplicateAward.
	AwardAchievement(ctx context.Context, ua *UserAchievement) error
}
