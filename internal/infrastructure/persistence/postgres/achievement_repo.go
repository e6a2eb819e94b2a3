package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/guildforge/achievement-engine/internal/domain/achievement"
	"github.com/guildforge/achievement-engine/internal/domain/shared"
	"github.com/guildforge/achievement-engine/pkg/logger"
)

// AchievementRepository implements achievement.Repository on PostgreSQL.
type AchievementRepository struct {
	conn *Connection
	log  *logger.Logger
}

// NewAchievementRepository creates a repository backed by the given connection.
func NewAchievementRepository(conn *Connection, log *logger.Logger) *AchievementRepository {
	return &AchievementRepository{
		conn: conn,
		log:  log.With(logger.Component("repository")),
	}
}

// Compile-time interface check.
var _ achievement.Repository = (*AchievementRepository)(nil)

const achievementColumns = `id, name, description, type, criteria, points, is_active, dependencies, created_at, updated_at`

// GetAchievementByID loads one definition by ID.
func (r *AchievementRepository) GetAchievementByID(ctx context.Context, id int64) (*achievement.Achievement, error) {
	query := fmt.Sprintf(`SELECT %s FROM achievements WHERE id = $1`, achievementColumns)

	row := r.conn.QueryRow(ctx, query, id)
	a, err := scanAchievement(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAchievementNotFound
		}
		return nil, shared.WrapError("postgres", "GetAchievementByID", shared.ErrExternalService,
			fmt.Sprintf("failed to load achievement %d", id), err)
	}
	return a, nil
}

// ListAchievements loads all definitions, optionally active only.
func (r *AchievementRepository) ListAchievements(ctx context.Context, activeOnly bool) ([]*achievement.Achievement, error) {
	query := fmt.Sprintf(`SELECT %s FROM achievements`, achievementColumns)
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY id`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, shared.WrapError("postgres", "ListAchievements", shared.ErrExternalService,
			"failed to list achievements", err)
	}
	defer rows.Close()

	return r.collectAchievements(rows)
}

// GetAchievementsByIDs loads the definitions for the given IDs. Missing
// IDs are skipped.
func (r *AchievementRepository) GetAchievementsByIDs(ctx context.Context, ids []int64) ([]*achievement.Achievement, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM achievements WHERE id = ANY($1) ORDER BY id`, achievementColumns)

	rows, err := r.conn.Query(ctx, query, ids)
	if err != nil {
		return nil, shared.WrapError("postgres", "GetAchievementsByIDs", shared.ErrExternalService,
			"failed to load achievements", err)
	}
	defer rows.Close()

	return r.collectAchievements(rows)
}

// HasUserAchievement reports whether the user already earned the achievement.
func (r *AchievementRepository) HasUserAchievement(ctx context.Context, userID, achievementID int64) (bool, error) {
	const query = `SELECT EXISTS (
		SELECT 1 FROM user_achievements WHERE user_id = $1 AND achievement_id = $2
	)`

	var exists bool
	if err := r.conn.QueryRow(ctx, query, userID, achievementID).Scan(&exists); err != nil {
		return false, shared.WrapError("postgres", "HasUserAchievement", shared.ErrExternalService,
			"failed to check award record", err)
	}
	return exists, nil
}

// GetUserAchievements loads all award records for a user, newest first.
func (r *AchievementRepository) GetUserAchievements(ctx context.Context, userID int64) ([]*achievement.UserAchievement, error) {
	const query = `
		SELECT id, user_id, achievement_id, earned_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY earned_at DESC`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, shared.WrapError("postgres", "GetUserAchievements", shared.ErrExternalService,
			"failed to load award records", err)
	}
	defer rows.Close()

	var awards []*achievement.UserAchievement
	for rows.Next() {
		ua := &achievement.UserAchievement{}
		if err := rows.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.EarnedAt); err != nil {
			return nil, shared.WrapError("postgres", "GetUserAchievements", shared.ErrExternalService,
				"failed to scan award record", err)
		}
		awards = append(awards, ua)
	}
	return awards, rows.Err()
}

// GetUserProgress loads the progress record for a user/achievement pair.
func (r *AchievementRepository) GetUserProgress(ctx context.Context, userID, achievementID int64) (*achievement.Progress, error) {
	const query = `
		SELECT user_id, achievement_id, current_value, target_value, data, last_updated
		FROM achievement_progress
		WHERE user_id = $1 AND achievement_id = $2`

	row := r.conn.QueryRow(ctx, query, userID, achievementID)
	p, err := scanProgress(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, shared.WrapError("postgres", "GetUserProgress", shared.ErrExternalService,
			"failed to load progress", err)
	}
	return p, nil
}

// GetUserProgressBatch loads progress records for a user across several
// achievements. Missing records are skipped.
func (r *AchievementRepository) GetUserProgressBatch(ctx context.Context, userID int64, achievementIDs []int64) (map[int64]*achievement.Progress, error) {
	result := make(map[int64]*achievement.Progress, len(achievementIDs))
	if len(achievementIDs) == 0 {
		return result, nil
	}

	const query = `
		SELECT user_id, achievement_id, current_value, target_value, data, last_updated
		FROM achievement_progress
		WHERE user_id = $1 AND achievement_id = ANY($2)`

	rows, err := r.conn.Query(ctx, query, userID, achievementIDs)
	if err != nil {
		return nil, shared.WrapError("postgres", "GetUserProgressBatch", shared.ErrExternalService,
			"failed to load progress batch", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, shared.WrapError("postgres", "GetUserProgressBatch", shared.ErrExternalService,
				"failed to scan progress", err)
		}
		result[p.AchievementID] = p
	}
	return result, rows.Err()
}

// UpdateProgress upserts a progress record.
func (r *AchievementRepository) UpdateProgress(ctx context.Context, p *achievement.Progress) error {
	if err := p.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(p.Data)
	if err != nil {
		return shared.WrapError("postgres", "UpdateProgress", shared.ErrInvalidFormat,
			"failed to serialize progress data", err)
	}

	const query = `
		INSERT INTO achievement_progress (user_id, achievement_id, current_value, target_value, data, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, achievement_id) DO UPDATE SET
			current_value = EXCLUDED.current_value,
			target_value  = EXCLUDED.target_value,
			data          = EXCLUDED.data,
			last_updated  = EXCLUDED.last_updated`

	_, err = r.conn.Exec(ctx, query,
		p.UserID, p.AchievementID, p.CurrentValue, p.TargetValue, data, p.LastUpdated)
	if err != nil {
		return shared.WrapError("postgres", "UpdateProgress", shared.ErrExternalService,
			"failed to upsert progress", err)
	}
	return nil
}

// AwardAchievement persists an award record. The unique constraint turns a
// concurrent or repeated award into shared.ErrDuplicateAward.
func (r *AchievementRepository) AwardAchievement(ctx context.Context, ua *achievement.UserAchievement) error {
	const query = `
		INSERT INTO user_achievements (id, user_id, achievement_id, earned_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.conn.Exec(ctx, query, ua.ID, ua.UserID, ua.AchievementID, ua.EarnedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrDuplicateAward
		}
		return shared.WrapError("postgres", "AwardAchievement", shared.ErrExternalService,
			"failed to insert award record", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW SCANNING
// ══════════════════════════════════════════════════════════════════════════════

// collectAchievements drains a listing. A row with malformed criteria is
// fatal to loading that achievement only: it is skipped with a warning
// and the rest of the listing still loads. Read failures abort.
func (r *AchievementRepository) collectAchievements(rows pgx.Rows) ([]*achievement.Achievement, error) {
	var out []*achievement.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			if isCriteriaError(err) {
				r.log.Warn("skipping achievement with malformed criteria", logger.Err(err))
				continue
			}
			return nil, shared.WrapError("postgres", "collectAchievements", shared.ErrExternalService,
				"failed to scan achievement", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// isCriteriaError reports whether a row failed on its stored criteria
// rather than on the database read itself.
func isCriteriaError(err error) bool {
	return shared.IsValidation(err) || errors.Is(err, shared.ErrInvalidFormat)
}

// scanAchievement reads one achievements row and decodes its criteria.
// A row with malformed criteria fails to load; callers decide whether to
// skip or abort.
func scanAchievement(row pgx.Row) (*achievement.Achievement, error) {
	a := &achievement.Achievement{}
	var typeStr string
	var rawCriteria []byte

	err := row.Scan(&a.ID, &a.Name, &a.Description, &typeStr, &rawCriteria,
		&a.Points, &a.IsActive, &a.Dependencies, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Type = achievement.Type(typeStr)
	criteria, err := achievement.DecodeCriteria(a.Type, rawCriteria)
	if err != nil {
		return nil, fmt.Errorf("achievement %d: %w", a.ID, err)
	}
	a.Criteria = criteria
	return a, nil
}

func scanProgress(row pgx.Row) (*achievement.Progress, error) {
	p := &achievement.Progress{}
	var rawData []byte

	err := row.Scan(&p.UserID, &p.AchievementID, &p.CurrentValue, &p.TargetValue, &rawData, &p.LastUpdated)
	if err != nil {
		return nil, err
	}

	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &p.Data); err != nil {
			return nil, fmt.Errorf("progress %d/%d: malformed data: %w", p.UserID, p.AchievementID, err)
		}
	}
	return p, nil
}
