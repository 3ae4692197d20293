package achievement

import (
	"context"

	"github.com/feedbackhub/gamification/internal/domain/ledger"
)

// Catalog reads and maintains achievement definitions.
type Catalog interface {
	ListActiveAchievements(ctx context.Context) ([]*Achievement, error)
	ListAchievements(ctx context.Context) ([]*Achievement, error)
	UpsertAchievement(ctx context.Context, a *Achievement) error
}

// EarnedRepository reads and writes the user's earned set.
type EarnedRepository interface {
	// ListEarned returns the achievement IDs the user holds with their earn time.
	ListEarned(ctx context.Context, userID string) (EarnedSet, error)

	// InsertEarned stores one award. Returns ErrDuplicateAward when the pair exists.
	InsertEarned(ctx context.Context, award *UserAchievement) error
}

// AwardRecorder stores an award together with its reward ledger row.
// Both are written or neither is; reward may be nil for zero-point achievements.
// Returns ErrDuplicateAward when the pair already exists.
type AwardRecorder interface {
	RecordAward(ctx context.Context, award *UserAchievement, reward *ledger.ActivityRecord) error
}
