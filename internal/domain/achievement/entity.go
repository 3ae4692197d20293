// Package achievement contains achievement definitions, the criteria they are
// earned by, and the record of which user earned which achievement.
package achievement

import (
	"errors"
	"fmt"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/shared"
)

// Domain errors for achievement package.
var (
	ErrInvalidAchievementID = errors.New("achievement: invalid achievement ID")
	ErrInvalidName          = errors.New("achievement: name is required")
	ErrNegativeReward       = errors.New("achievement: points reward cannot be negative")

	// ErrDuplicateAward is returned by storage when the (user, achievement) pair
	// already exists. The evaluator treats it as "already awarded".
	ErrDuplicateAward = fmt.Errorf("achievement: already awarded: %w", shared.ErrDuplicate)
)

// Achievement is a catalog entry. Read-only during evaluation.
type Achievement struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description" yaml:"description"`
	PointsReward int      `json:"points_reward" yaml:"points_reward"`
	Criteria     Criteria `json:"criteria" yaml:"criteria"`
	IsActive     bool     `json:"is_active" yaml:"is_active"`
}

// Validate checks the definition before it is stored.
func (a *Achievement) Validate() error {
	if a.ID == "" {
		return ErrInvalidAchievementID
	}
	if a.Name == "" {
		return ErrInvalidName
	}
	if a.PointsReward < 0 {
		return ErrNegativeReward
	}
	return a.Criteria.Validate()
}

// UserAchievement records that a user earned an achievement. At most one per pair.
type UserAchievement struct {
	UserID        string
	AchievementID string
	EarnedAt      time.Time
	Metadata      map[string]any
}

// NewUserAchievement creates an award record.
func NewUserAchievement(userID, achievementID string, earnedAt time.Time, metadata map[string]any) *UserAchievement {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &UserAchievement{
		UserID:        userID,
		AchievementID: achievementID,
		EarnedAt:      earnedAt,
		Metadata:      metadata,
	}
}

// EarnedSet is the set of achievement IDs a user already holds.
type EarnedSet map[string]time.Time

// Has reports whether the achievement is in the set.
func (s EarnedSet) Has(achievementID string) bool {
	_, ok := s[achievementID]
	return ok
}

// Candidates returns the active achievements not yet earned, in catalog order.
func Candidates(catalog []*Achievement, earned EarnedSet) []*Achievement {
	out := make([]*Achievement, 0, len(catalog))
	for _, a := range catalog {
		if a == nil || !a.IsActive || earned.Has(a.ID) {
			continue
		}
		out = append(out, a)
	}
	return out
}
