package profile

import (
	"context"
	"time"
)

// Repository defines the interface for profile persistence.
type Repository interface {
	// GetProfile returns the profile, or ErrProfileMissing.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)

	// UpdateProfile applies a partial update in a single statement, so the
	// level pair can never be written half-way.
	UpdateProfile(ctx context.Context, userID string, update Update) error

	// GetAccountCreatedAt returns when the user's account was created.
	GetAccountCreatedAt(ctx context.Context, userID string) (time.Time, error)

	// TopByPoints returns the highest-scoring profiles, best first.
	TopByPoints(ctx context.Context, limit int) ([]*UserProfile, error)
}

// Provisioner creates the profile and account of a new user. Creating a
// profile that already exists returns it unchanged.
type Provisioner interface {
	CreateProfile(ctx context.Context, userID string, createdAt time.Time) (*UserProfile, error)
}

// Cache is an optional read-through cache for profile summaries.
type Cache interface {
	GetSummary(ctx context.Context, userID string) (*Summary, error)
	SetSummary(ctx context.Context, summary *Summary, ttl time.Duration) error
	Invalidate(ctx context.Context, userID string) error
}

// Summary is the read model shown on the dashboard.
type Summary struct {
	UserID            string    `json:"user_id"`
	Points            int       `json:"points"`
	Level             int       `json:"level"`
	PointsToNextLevel int       `json:"points_to_next_level"`
	ProgressPercent   int       `json:"progress_percent"`
	LoginStreak       int       `json:"login_streak"`
	MaxLoginStreak    int       `json:"max_login_streak"`
	AchievementsCount int       `json:"achievements_count"`
	MemberSince       time.Time `json:"member_since"`
}

// NewSummary builds the read model from a profile.
func NewSummary(p *UserProfile, achievements int) *Summary {
	return &Summary{
		UserID:            p.ID,
		Points:            p.Points,
		Level:             int(p.Level),
		PointsToNextLevel: p.PointsToNextLevel,
		ProgressPercent:   ProgressPercent(p.Points),
		LoginStreak:       p.LoginStreak,
		MaxLoginStreak:    p.MaxLoginStreak,
		AchievementsCount: achievements,
		MemberSince:       p.CreatedAt,
	}
}

// RankEntry is one row of the points leaderboard.
type RankEntry struct {
	UserID string
	Points int
}

// Leaderboard is a points ranking kept current from domain events.
type Leaderboard interface {
	SetScore(ctx context.Context, userID string, points int) error
	Top(ctx context.Context, limit int) ([]RankEntry, error)
}
