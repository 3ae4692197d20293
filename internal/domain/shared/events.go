package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types published by the gamification core.
const (
	EventActivityRecorded  EventType = "activity.recorded"
	EventPointsReconciled  EventType = "points.reconciled"
	EventLevelChanged      EventType = "level.changed"
	EventAchievementEarned EventType = "achievement.earned"
	EventLoginRecorded     EventType = "activity.login_recorded"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event (the user ID).
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event.
type EventHandler func(event Event) error

// EventPublisher publishes domain events. Implemented by the messaging layer.
type EventPublisher interface {
	Publish(event Event) error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ActivityRecordedEvent is emitted when a ledger row is appended through the public API.
type ActivityRecordedEvent struct {
	BaseEvent
	ActivityID   string `json:"activity_id"`
	ActivityType string `json:"activity_type"`
	Points       int    `json:"points"`
}

// Payload implements Event interface.
func (e ActivityRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"activity_id":   e.ActivityID,
		"activity_type": e.ActivityType,
		"points":        e.Points,
	}
}

// NewActivityRecordedEvent creates a new ActivityRecordedEvent.
func NewActivityRecordedEvent(userID, activityID, activityType string, points int) ActivityRecordedEvent {
	return ActivityRecordedEvent{
		BaseEvent:    NewBaseEvent(EventActivityRecorded, userID),
		ActivityID:   activityID,
		ActivityType: activityType,
		Points:       points,
	}
}

// PointsReconciledEvent is emitted when the cached point total was corrected.
type PointsReconciledEvent struct {
	BaseEvent
	PreviousPoints int `json:"previous_points"`
	NewPoints      int `json:"new_points"`
}

// Payload implements Event interface.
func (e PointsReconciledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_points": e.PreviousPoints,
		"new_points":      e.NewPoints,
	}
}

// NewPointsReconciledEvent creates a new PointsReconciledEvent.
func NewPointsReconciledEvent(userID string, previous, current int) PointsReconciledEvent {
	return PointsReconciledEvent{
		BaseEvent:      NewBaseEvent(EventPointsReconciled, userID),
		PreviousPoints: previous,
		NewPoints:      current,
	}
}

// LevelChangedEvent is emitted when the stored level was rewritten.
type LevelChangedEvent struct {
	BaseEvent
	PreviousLevel     int `json:"previous_level"`
	NewLevel          int `json:"new_level"`
	PointsToNextLevel int `json:"points_to_next_level"`
}

// IsLevelUp reports whether the change moved the user up.
func (e LevelChangedEvent) IsLevelUp() bool {
	return e.NewLevel > e.PreviousLevel
}

// Payload implements Event interface.
func (e LevelChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_level":       e.PreviousLevel,
		"new_level":            e.NewLevel,
		"points_to_next_level": e.PointsToNextLevel,
	}
}

// NewLevelChangedEvent creates a new LevelChangedEvent.
func NewLevelChangedEvent(userID string, previous, current, toNext int) LevelChangedEvent {
	return LevelChangedEvent{
		BaseEvent:         NewBaseEvent(EventLevelChanged, userID),
		PreviousLevel:     previous,
		NewLevel:          current,
		PointsToNextLevel: toNext,
	}
}

// AchievementEarnedEvent is emitted once per newly inserted award.
type AchievementEarnedEvent struct {
	BaseEvent
	AchievementID   string `json:"achievement_id"`
	AchievementName string `json:"achievement_name"`
	PointsReward    int    `json:"points_reward"`
}

// Payload implements Event interface.
func (e AchievementEarnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id":   e.AchievementID,
		"achievement_name": e.AchievementName,
		"points_reward":    e.PointsReward,
	}
}

// NewAchievementEarnedEvent creates a new AchievementEarnedEvent.
func NewAchievementEarnedEvent(userID, achievementID, name string, reward int) AchievementEarnedEvent {
	return AchievementEarnedEvent{
		BaseEvent:       NewBaseEvent(EventAchievementEarned, userID),
		AchievementID:   achievementID,
		AchievementName: name,
		PointsReward:    reward,
	}
}

// LoginRecordedEvent is emitted after a daily login updated the streak.
type LoginRecordedEvent struct {
	BaseEvent
	LoginStreak    int  `json:"login_streak"`
	MaxLoginStreak int  `json:"max_login_streak"`
	FirstToday     bool `json:"first_today"`
}

// Payload implements Event interface.
func (e LoginRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"login_streak":     e.LoginStreak,
		"max_login_streak": e.MaxLoginStreak,
		"first_today":      e.FirstToday,
	}
}

// NewLoginRecordedEvent creates a new LoginRecordedEvent.
func NewLoginRecordedEvent(userID string, streak, maxStreak int, firstToday bool) LoginRecordedEvent {
	return LoginRecordedEvent{
		BaseEvent:      NewBaseEvent(EventLoginRecorded, userID),
		LoginStreak:    streak,
		MaxLoginStreak: maxStreak,
		FirstToday:     firstToday,
	}
}
