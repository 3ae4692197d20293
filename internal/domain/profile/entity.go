// Package profile contains the user profile: the cached point total, the level
// derived from it, and the daily login streak.
//
// Points and level must always agree with ResolveLevel; only the points
// reconciliation and the level resolver write them.
package profile

import (
	"errors"
	"fmt"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/pkg/timeutil"
)

// Domain errors for profile package.
var (
	ErrInvalidUserID  = errors.New("profile: invalid user ID")
	ErrProfileMissing = fmt.Errorf("profile: %w", shared.ErrNotFound)
	ErrNegativePoints = errors.New("profile: points cannot be negative")
)

// UserProfile is the gamification state of one user.
type UserProfile struct {
	ID                string
	Points            int
	Level             Level
	PointsToNextLevel int
	LoginStreak       int
	MaxLoginStreak    int
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewUserProfile creates a fresh level-1 profile.
func NewUserProfile(id string, createdAt time.Time) (*UserProfile, error) {
	if id == "" {
		return nil, ErrInvalidUserID
	}
	level, next := ResolveLevel(0)
	return &UserProfile{
		ID:                id,
		Points:            0,
		Level:             level,
		PointsToNextLevel: next,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}, nil
}

// IsLevelConsistent reports whether the stored level pair matches the stored points.
func (p *UserProfile) IsLevelConsistent() bool {
	level, next := ResolveLevel(p.Points)
	return p.Level == level && p.PointsToNextLevel == next
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATES
// ══════════════════════════════════════════════════════════════════════════════

// Update is a partial profile write. Nil fields are left untouched.
// Level and PointsToNextLevel are always written together.
type Update struct {
	Points         *int
	Level          *LevelUpdate
	LoginStreak    *int
	MaxLoginStreak *int
	LastLoginAt    *time.Time
}

// LevelUpdate carries the level pair.
type LevelUpdate struct {
	Level             Level
	PointsToNextLevel int
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return u.Points == nil && u.Level == nil && u.LoginStreak == nil &&
		u.MaxLoginStreak == nil && u.LastLoginAt == nil
}

// ReconcileUpdate writes the points and the level pair resolved from them
// in one update, so a failed write can never split the pair from the total.
func ReconcileUpdate(points int) Update {
	level, next := ResolveLevel(points)
	return Update{
		Points: &points,
		Level:  &LevelUpdate{Level: level, PointsToNextLevel: next},
	}
}

// Apply writes the update into the profile in memory.
func (p *UserProfile) Apply(u Update, at time.Time) error {
	if u.Points != nil {
		if *u.Points < 0 {
			return ErrNegativePoints
		}
		p.Points = *u.Points
	}
	if u.Level != nil {
		p.Level = u.Level.Level
		p.PointsToNextLevel = u.Level.PointsToNextLevel
	}
	if u.LoginStreak != nil {
		p.LoginStreak = *u.LoginStreak
	}
	if u.MaxLoginStreak != nil {
		p.MaxLoginStreak = *u.MaxLoginStreak
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		p.LastLoginAt = &t
	}
	p.UpdatedAt = at
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGIN STREAK
// ══════════════════════════════════════════════════════════════════════════════

// LoginOutcome describes the effect of a login on the streak.
type LoginOutcome struct {
	// FirstToday is false when the user already logged in on the same calendar day.
	FirstToday bool
	Streak     int
	MaxStreak  int
	// Broken is true when a gap of more than one day reset the streak.
	Broken bool
}

// RegisterLogin computes the streak after a login at the given time.
// Calendar days are taken in loc. The profile is not mutated.
func (p *UserProfile) RegisterLogin(at time.Time, loc *time.Location) LoginOutcome {
	if loc == nil {
		loc = time.UTC
	}
	out := LoginOutcome{Streak: p.LoginStreak, MaxStreak: p.MaxLoginStreak}

	if p.LastLoginAt == nil {
		out.FirstToday = true
		out.Streak = 1
	} else {
		switch days := timeutil.DaysBetween(*p.LastLoginAt, at, loc); {
		case days <= 0:
			// Same day (or clock skew): nothing changes.
			return out
		case days == 1:
			out.FirstToday = true
			out.Streak = p.LoginStreak + 1
		default:
			out.FirstToday = true
			out.Broken = true
			out.Streak = 1
		}
	}

	if out.Streak > out.MaxStreak {
		out.MaxStreak = out.Streak
	}
	return out
}

// LoginUpdate turns a login outcome into a profile update.
func LoginUpdate(out LoginOutcome, at time.Time) Update {
	streak, maxStreak := out.Streak, out.MaxStreak
	return Update{
		LoginStreak:    &streak,
		MaxLoginStreak: &maxStreak,
		LastLoginAt:    &at,
	}
}
