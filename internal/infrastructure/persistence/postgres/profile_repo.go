package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/feedbackhub/gamification/internal/domain/profile"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProfileRepository implements profile.Repository for PostgreSQL.
type ProfileRepository struct {
	conn *Connection
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(conn *Connection) *ProfileRepository {
	return &ProfileRepository{conn: conn}
}

const profileColumns = `id, points, level, points_to_next_level, login_streak, max_login_streak,
	last_login_at, created_at, updated_at`

// CreateProfile inserts a fresh profile together with its account row.
// An existing profile is returned unchanged.
func (r *ProfileRepository) CreateProfile(ctx context.Context, userID string, createdAt time.Time) (*profile.UserProfile, error) {
	p, err := profile.NewUserProfile(userID, createdAt)
	if err != nil {
		return nil, err
	}

	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			userID, createdAt,
		); err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO profiles (id, points, level, points_to_next_level, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (id) DO NOTHING
		`, p.ID, p.Points, int(p.Level), p.PointsToNextLevel, createdAt)
		if err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetProfile(ctx, userID)
}

// GetProfile returns a profile by user ID.
func (r *ProfileRepository) GetProfile(ctx context.Context, userID string) (*profile.UserProfile, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, profile.ErrProfileMissing
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// UpdateProfile writes the non-nil fields of the update in one statement.
// The level pair always travels together.
func (r *ProfileRepository) UpdateProfile(ctx context.Context, userID string, update profile.Update) error {
	if update.IsEmpty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Points != nil {
		if *update.Points < 0 {
			return profile.ErrNegativePoints
		}
		add("points", *update.Points)
	}
	if update.Level != nil {
		add("level", int(update.Level.Level))
		add("points_to_next_level", update.Level.PointsToNextLevel)
	}
	if update.LoginStreak != nil {
		add("login_streak", *update.LoginStreak)
	}
	if update.MaxLoginStreak != nil {
		add("max_login_streak", *update.MaxLoginStreak)
	}
	if update.LastLoginAt != nil {
		add("last_login_at", *update.LastLoginAt)
	}
	add("updated_at", time.Now().UTC())

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE profiles SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	result, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return profile.ErrProfileMissing
	}
	return nil
}

// GetAccountCreatedAt reads the account creation time, falling back to the
// profile's own creation time when no account row exists.
func (r *ProfileRepository) GetAccountCreatedAt(ctx context.Context, userID string) (time.Time, error) {
	var createdAt time.Time
	err := r.conn.QueryRow(ctx, `
		SELECT COALESCE(a.created_at, p.created_at)
		FROM profiles p
		LEFT JOIN accounts a ON a.id = p.id
		WHERE p.id = $1
	`, userID).Scan(&createdAt)
	if err != nil {
		if IsNoRows(err) {
			return time.Time{}, profile.ErrProfileMissing
		}
		return time.Time{}, fmt.Errorf("failed to get account creation time: %w", err)
	}
	return createdAt, nil
}

// TopByPoints returns the best profiles, ties broken by ID.
func (r *ProfileRepository) TopByPoints(ctx context.Context, limit int) ([]*profile.UserProfile, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY points DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top profiles: %w", err)
	}
	defer rows.Close()

	var out []*profile.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (*profile.UserProfile, error) {
	var (
		p     profile.UserProfile
		level int
	)
	err := row.Scan(
		&p.ID,
		&p.Points,
		&level,
		&p.PointsToNextLevel,
		&p.LoginStreak,
		&p.MaxLoginStreak,
		&p.LastLoginAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Level = profile.Level(level)
	return &p, nil
}
