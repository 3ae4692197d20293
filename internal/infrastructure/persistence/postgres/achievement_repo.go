package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/feedbackhub/gamification/internal/domain/achievement"
	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Catalog, achievement.EarnedRepository
// and achievement.AwardRecorder for PostgreSQL.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Catalog
// ─────────────────────────────────────────────────────────────────────────────

// ListActiveAchievements returns active definitions in catalog order.
func (r *AchievementRepository) ListActiveAchievements(ctx context.Context) ([]*achievement.Achievement, error) {
	return r.list(ctx, `
		SELECT id, name, description, points_reward, criteria, is_active
		FROM achievements
		WHERE is_active
		ORDER BY position
	`)
}

// ListAchievements returns every definition in catalog order.
func (r *AchievementRepository) ListAchievements(ctx context.Context) ([]*achievement.Achievement, error) {
	return r.list(ctx, `
		SELECT id, name, description, points_reward, criteria, is_active
		FROM achievements
		ORDER BY position
	`)
}

// UpsertAchievement inserts or replaces a definition, keeping its catalog position.
func (r *AchievementRepository) UpsertAchievement(ctx context.Context, a *achievement.Achievement) error {
	if err := a.Validate(); err != nil {
		return err
	}
	criteria, err := json.Marshal(a.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO achievements (id, name, description, points_reward, criteria, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			points_reward = EXCLUDED.points_reward,
			criteria = EXCLUDED.criteria,
			is_active = EXCLUDED.is_active
	`, a.ID, a.Name, a.Description, a.PointsReward, criteria, a.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert achievement: %w", err)
	}
	return nil
}

func (r *AchievementRepository) list(ctx context.Context, query string) ([]*achievement.Achievement, error) {
	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var out []*achievement.Achievement
	for rows.Next() {
		var (
			a        achievement.Achievement
			criteria []byte
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.PointsReward, &criteria, &a.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		if len(criteria) > 0 {
			if err := json.Unmarshal(criteria, &a.Criteria); err != nil {
				return nil, fmt.Errorf("failed to unmarshal criteria of %s: %w", a.ID, err)
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Earned set
// ─────────────────────────────────────────────────────────────────────────────

// ListEarned returns the user's earned achievement IDs.
func (r *AchievementRepository) ListEarned(ctx context.Context, userID string) (achievement.EarnedSet, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT achievement_id, earned_at FROM user_achievements WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list earned achievements: %w", err)
	}
	defer rows.Close()

	set := make(achievement.EarnedSet)
	for rows.Next() {
		var ua achievement.UserAchievement
		if err := rows.Scan(&ua.AchievementID, &ua.EarnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan earned achievement: %w", err)
		}
		set[ua.AchievementID] = ua.EarnedAt
	}
	return set, rows.Err()
}

// InsertEarned stores one award.
func (r *AchievementRepository) InsertEarned(ctx context.Context, award *achievement.UserAchievement) error {
	return mapAwardError(insertEarned(ctx, r.conn, award))
}

// RecordAward stores the award and its reward row in one transaction.
// The primary key of user_achievements turns a concurrent second award into
// ErrDuplicateAward, and the reward row rolls back with it.
func (r *AchievementRepository) RecordAward(ctx context.Context, award *achievement.UserAchievement, reward *ledger.ActivityRecord) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if err := insertEarned(ctx, tx, award); err != nil {
			return err
		}
		if reward == nil {
			return nil
		}
		return insertActivity(ctx, tx, reward)
	})
	return mapAwardError(err)
}

func insertEarned(ctx context.Context, q Querier, award *achievement.UserAchievement) error {
	metadata, err := json.Marshal(award.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal award metadata: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, earned_at, metadata)
		VALUES ($1, $2, $3, $4)
	`, award.UserID, award.AchievementID, award.EarnedAt, metadata)
	return err
}

func mapAwardError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return achievement.ErrDuplicateAward
	case IsForeignKeyViolation(err):
		return fmt.Errorf("failed to record award: %w: %v", profile.ErrProfileMissing, err)
	default:
		return fmt.Errorf("failed to record award: %w", err)
	}
}
