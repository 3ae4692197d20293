package achievement

import (
	"errors"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
)

// Special predicates named by Criteria.Action when no Count is given.
const (
	SpecialEarlyAdopter = "early_adopter"
)

var (
	ErrNegativeThreshold = errors.New("achievement: criteria thresholds cannot be negative")
	ErrUnknownAction     = errors.New("achievement: criteria action is neither an activity type nor a special predicate")
	ErrSyntheticAction   = errors.New("achievement: criteria cannot count rows the core appends itself")
)

// Criteria is the predicate an achievement requires. Every present clause must
// pass; absent clauses are ignored. A criteria with no clause never passes.
//
//	{count: 5, action: feedback_given}  five feedback_given rows
//	{count: 20}                         twenty user activity rows of any type
//	{days: 7}                           login streak of seven days
//	{action: early_adopter}             account created on or before the cutoff
//	{points: 1000} / {level: 5}         activity point total / level it resolves to
//
// Rewards and level-up rows never count, so an award cannot unlock another
// award without new user activity.
type Criteria struct {
	Count  *int   `json:"count,omitempty" yaml:"count,omitempty"`
	Action string `json:"action,omitempty" yaml:"action,omitempty"`
	Days   *int   `json:"days,omitempty" yaml:"days,omitempty"`
	Points *int   `json:"points,omitempty" yaml:"points,omitempty"`
	Level  *int   `json:"level,omitempty" yaml:"level,omitempty"`
}

// IsEmpty reports whether no clause is declared.
func (c Criteria) IsEmpty() bool {
	return c.Count == nil && c.Action == "" && c.Days == nil && c.Points == nil && c.Level == nil
}

// Validate rejects definitions that could never be evaluated sensibly.
func (c Criteria) Validate() error {
	for _, n := range []*int{c.Count, c.Days, c.Points, c.Level} {
		if n != nil && *n < 0 {
			return ErrNegativeThreshold
		}
	}
	if c.Action != "" && c.Count != nil {
		t := ledger.ActivityType(c.Action)
		if !t.IsValid() {
			return ErrUnknownAction
		}
		if t.IsSynthetic() {
			return ErrSyntheticAction
		}
	}
	return nil
}

// Facts is the snapshot the criteria are evaluated against. It is computed once
// per evaluation pass, so the order achievements are checked in does not matter.
type Facts struct {
	CountsByType       map[ledger.ActivityType]int
	TotalCount         int
	TotalPoints        int
	LoginStreak        int
	AccountCreatedAt   time.Time
	EarlyAdopterCutoff time.Time
}

// NewFacts derives the facts from the ledger and the profile. Synthetic rows
// are left out.
func NewFacts(records []*ledger.ActivityRecord, loginStreak int, createdAt, cutoff time.Time) Facts {
	activity := ledger.UserActivity(records)
	return Facts{
		CountsByType:       ledger.CountByType(activity),
		TotalCount:         len(activity),
		TotalPoints:        ledger.Sum(activity),
		LoginStreak:        loginStreak,
		AccountCreatedAt:   createdAt,
		EarlyAdopterCutoff: cutoff,
	}
}

// Qualifies reports whether every declared clause passes against the facts.
func (c Criteria) Qualifies(f Facts) bool {
	if c.IsEmpty() {
		return false
	}

	if c.Count != nil {
		have := f.TotalCount
		if c.Action != "" {
			have = f.CountsByType[ledger.ActivityType(c.Action)]
		}
		if have < *c.Count {
			return false
		}
	} else if c.Action != "" {
		if !special(c.Action, f) {
			return false
		}
	}

	if c.Days != nil && f.LoginStreak < *c.Days {
		return false
	}
	if c.Points != nil && f.TotalPoints < *c.Points {
		return false
	}
	if c.Level != nil {
		level, _ := profile.ResolveLevel(f.TotalPoints)
		if int(level) < *c.Level {
			return false
		}
	}
	return true
}

func special(action string, f Facts) bool {
	switch action {
	case SpecialEarlyAdopter:
		if f.AccountCreatedAt.IsZero() || f.EarlyAdopterCutoff.IsZero() {
			return false
		}
		return !f.AccountCreatedAt.After(endOfDay(f.EarlyAdopterCutoff))
	default:
		return false
	}
}

// endOfDay makes the cutoff date inclusive.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
