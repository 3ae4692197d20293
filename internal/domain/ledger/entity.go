// Package ledger contains the append-only activity ledger: every point-earning
// event of a user is one immutable ActivityRecord. The ledger is the source of
// truth for a user's points; the profile only caches the sum.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors for ledger package.
var (
	ErrInvalidUserID       = errors.New("ledger: invalid user ID")
	ErrInvalidActivityID   = errors.New("ledger: invalid activity ID")
	ErrUnknownActivityType = errors.New("ledger: unknown activity type")
	ErrNegativePoints      = errors.New("ledger: points cannot be negative")
	ErrFutureTimestamp     = errors.New("ledger: timestamp cannot be in the future")
	ErrSyntheticType       = errors.New("ledger: activity type is reserved for the core")
)

// ActivityType identifies what earned the points.
type ActivityType string

const (
	ActivityFeedbackGiven     ActivityType = "feedback_given"
	ActivityFeedbackReceived  ActivityType = "feedback_received"
	ActivityProjectCreated    ActivityType = "project_created"
	ActivityAchievementEarned ActivityType = "achievement_earned"
	ActivityLevelUp           ActivityType = "level_up"
	ActivityDailyLogin        ActivityType = "daily_login"
)

// AllActivityTypes lists every known type in a stable order.
func AllActivityTypes() []ActivityType {
	return []ActivityType{
		ActivityFeedbackGiven,
		ActivityFeedbackReceived,
		ActivityProjectCreated,
		ActivityAchievementEarned,
		ActivityLevelUp,
		ActivityDailyLogin,
	}
}

// IsValid checks if the activity type is known.
func (t ActivityType) IsValid() bool {
	for _, known := range AllActivityTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// IsSynthetic reports whether only the core itself may create rows of this type.
func (t ActivityType) IsSynthetic() bool {
	return t == ActivityAchievementEarned || t == ActivityLevelUp
}

// String returns the string representation of ActivityType.
func (t ActivityType) String() string {
	return string(t)
}

// ParseActivityType validates a raw string.
func ParseActivityType(s string) (ActivityType, error) {
	t := ActivityType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownActivityType, s)
	}
	return t, nil
}

// ActivityRecord is one immutable ledger row.
type ActivityRecord struct {
	ID           string
	UserID       string
	ActivityType ActivityType
	Points       int
	Description  string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// NewActivityRecord creates a validated ledger row.
func NewActivityRecord(
	id string,
	userID string,
	activityType ActivityType,
	points int,
	description string,
	metadata map[string]any,
	createdAt time.Time,
) (*ActivityRecord, error) {
	if id == "" {
		return nil, ErrInvalidActivityID
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	if !activityType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivityType, activityType)
	}
	if points < 0 {
		return nil, ErrNegativePoints
	}
	if createdAt.After(time.Now().Add(time.Minute)) { // Allow 1 minute tolerance
		return nil, ErrFutureTimestamp
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &ActivityRecord{
		ID:           id,
		UserID:       userID,
		ActivityType: activityType,
		Points:       points,
		Description:  description,
		Metadata:     metadata,
		CreatedAt:    createdAt,
	}, nil
}

// Sum returns the total points over the given records.
func Sum(records []*ActivityRecord) int {
	total := 0
	for _, r := range records {
		if r == nil {
			continue
		}
		total += r.Points
	}
	return total
}

// UserActivity drops the rows the core appends itself (achievement rewards,
// level-up audit rows), leaving only what the user did.
func UserActivity(records []*ActivityRecord) []*ActivityRecord {
	out := make([]*ActivityRecord, 0, len(records))
	for _, r := range records {
		if r != nil && !r.ActivityType.IsSynthetic() {
			out = append(out, r)
		}
	}
	return out
}

// CountByType returns how many rows of each activity type exist.
func CountByType(records []*ActivityRecord) map[ActivityType]int {
	counts := make(map[ActivityType]int)
	for _, r := range records {
		if r == nil {
			continue
		}
		counts[r.ActivityType]++
	}
	return counts
}

// TypeStats aggregates the ledger for one activity type.
type TypeStats struct {
	ActivityType ActivityType
	Count        int
	Points       int
	LastAt       time.Time
}

// Stats is the per-user analytics view of the ledger.
type Stats struct {
	UserID      string
	TotalCount  int
	TotalPoints int
	ByType      []TypeStats
}

// Summarize builds Stats with one entry per known type, in AllActivityTypes order.
func Summarize(userID string, records []*ActivityRecord) Stats {
	byType := make(map[ActivityType]*TypeStats)
	stats := Stats{UserID: userID}

	for _, r := range records {
		if r == nil {
			continue
		}
		ts, ok := byType[r.ActivityType]
		if !ok {
			ts = &TypeStats{ActivityType: r.ActivityType}
			byType[r.ActivityType] = ts
		}
		ts.Count++
		ts.Points += r.Points
		if r.CreatedAt.After(ts.LastAt) {
			ts.LastAt = r.CreatedAt
		}
		stats.TotalCount++
		stats.TotalPoints += r.Points
	}

	for _, t := range AllActivityTypes() {
		if ts, ok := byType[t]; ok {
			stats.ByType = append(stats.ByType, *ts)
		} else {
			stats.ByType = append(stats.ByType, TypeStats{ActivityType: t})
		}
	}
	return stats
}
