package ledger

import (
	"context"
)

// Repository defines the interface for ledger persistence.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// ListActivity returns every ledger row of the user, oldest first.
	// Implementations page internally; callers always get the complete list.
	ListActivity(ctx context.Context, userID string) ([]*ActivityRecord, error)

	// AppendActivity persists a new row. Rows are never updated or deleted.
	AppendActivity(ctx context.Context, record *ActivityRecord) (*ActivityRecord, error)
}

// PointRules maps an activity type to the points it earns when the caller
// does not specify an explicit amount.
type PointRules map[ActivityType]int

// DefaultPointRules returns the built-in point values.
func DefaultPointRules() PointRules {
	return PointRules{
		ActivityFeedbackGiven:     10,
		ActivityFeedbackReceived:  5,
		ActivityProjectCreated:    25,
		ActivityDailyLogin:        5,
		ActivityAchievementEarned: 0,
		ActivityLevelUp:           0,
	}
}

// PointsFor returns the default points for the activity type.
func (r PointRules) PointsFor(t ActivityType) int {
	return r[t]
}
