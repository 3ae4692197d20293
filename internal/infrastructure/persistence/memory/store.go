// Package memory provides an in-process implementation of every storage port.
// It backs the "memory" storage driver for local runs and is the fake used by
// application tests. The (user, achievement) uniqueness is enforced under the
// same lock as the award's reward row, mirroring the Postgres transaction.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/achievement"
	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/profile"
)

// Store keeps all state in maps guarded by one mutex.
type Store struct {
	mu           sync.RWMutex
	profiles     map[string]*profile.UserProfile
	accounts     map[string]time.Time
	activities   map[string][]*ledger.ActivityRecord
	achievements map[string]*achievement.Achievement
	order        []string
	earned       map[string]map[string]*achievement.UserAchievement
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		profiles:     make(map[string]*profile.UserProfile),
		accounts:     make(map[string]time.Time),
		activities:   make(map[string][]*ledger.ActivityRecord),
		achievements: make(map[string]*achievement.Achievement),
		earned:       make(map[string]map[string]*achievement.UserAchievement),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILES
// ══════════════════════════════════════════════════════════════════════════════

// CreateProfile inserts a fresh profile and its account row.
func (s *Store) CreateProfile(ctx context.Context, userID string, createdAt time.Time) (*profile.UserProfile, error) {
	p, err := profile.NewUserProfile(userID, createdAt)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[userID]; ok {
		cp := *existing
		return &cp, nil
	}
	s.profiles[userID] = p
	s.accounts[userID] = createdAt
	cp := *p
	return &cp, nil
}

// PutProfile stores the profile as given. Used to seed drifted state.
func (s *Store) PutProfile(p *profile.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.ID] = &cp
	if _, ok := s.accounts[p.ID]; !ok {
		s.accounts[p.ID] = p.CreatedAt
	}
}

// SetAccountCreatedAt overrides the account creation time.
func (s *Store) SetAccountCreatedAt(userID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[userID] = at
}

// GetProfile implements profile.Repository.
func (s *Store) GetProfile(ctx context.Context, userID string) (*profile.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, profile.ErrProfileMissing
	}
	cp := *p
	return &cp, nil
}

// UpdateProfile implements profile.Repository.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update profile.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return profile.ErrProfileMissing
	}
	cp := *p
	if err := cp.Apply(update, time.Now().UTC()); err != nil {
		return err
	}
	s.profiles[userID] = &cp
	return nil
}

// GetAccountCreatedAt implements profile.Repository.
func (s *Store) GetAccountCreatedAt(ctx context.Context, userID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if at, ok := s.accounts[userID]; ok {
		return at, nil
	}
	if p, ok := s.profiles[userID]; ok {
		return p.CreatedAt, nil
	}
	return time.Time{}, profile.ErrProfileMissing
}

// TopByPoints implements profile.Repository.
func (s *Store) TopByPoints(ctx context.Context, limit int) ([]*profile.UserProfile, error) {
	s.mu.RLock()
	out := make([]*profile.UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		cp := *p
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// ListActivity implements ledger.Repository.
func (s *Store) ListActivity(ctx context.Context, userID string) ([]*ledger.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.activities[userID]
	out := make([]*ledger.ActivityRecord, len(rows))
	copy(out, rows)
	return out, nil
}

// AppendActivity implements ledger.Repository.
func (s *Store) AppendActivity(ctx context.Context, record *ledger.ActivityRecord) (*ledger.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(record)
	return record, nil
}

func (s *Store) appendLocked(record *ledger.ActivityRecord) {
	s.activities[record.UserID] = append(s.activities[record.UserID], record)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// ListActiveAchievements implements achievement.Catalog.
func (s *Store) ListActiveAchievements(ctx context.Context) ([]*achievement.Achievement, error) {
	all, _ := s.ListAchievements(ctx)
	out := all[:0]
	for _, a := range all {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListAchievements implements achievement.Catalog.
func (s *Store) ListAchievements(ctx context.Context) ([]*achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*achievement.Achievement, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.achievements[id]
		out = append(out, &cp)
	}
	return out, nil
}

// UpsertAchievement implements achievement.Catalog.
func (s *Store) UpsertAchievement(ctx context.Context, a *achievement.Achievement) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.achievements[a.ID]; !ok {
		s.order = append(s.order, a.ID)
	}
	cp := *a
	s.achievements[a.ID] = &cp
	return nil
}

// ListEarned implements achievement.EarnedRepository.
func (s *Store) ListEarned(ctx context.Context, userID string) (achievement.EarnedSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(achievement.EarnedSet, len(s.earned[userID]))
	for id, ua := range s.earned[userID] {
		set[id] = ua.EarnedAt
	}
	return set, nil
}

// InsertEarned implements achievement.EarnedRepository.
func (s *Store) InsertEarned(ctx context.Context, award *achievement.UserAchievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEarnedLocked(award)
}

func (s *Store) insertEarnedLocked(award *achievement.UserAchievement) error {
	byUser, ok := s.earned[award.UserID]
	if !ok {
		byUser = make(map[string]*achievement.UserAchievement)
		s.earned[award.UserID] = byUser
	}
	if _, dup := byUser[award.AchievementID]; dup {
		return achievement.ErrDuplicateAward
	}
	cp := *award
	byUser[award.AchievementID] = &cp
	return nil
}

// RecordAward implements achievement.AwardRecorder.
func (s *Store) RecordAward(ctx context.Context, award *achievement.UserAchievement, reward *ledger.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertEarnedLocked(award); err != nil {
		return err
	}
	if reward != nil {
		s.appendLocked(reward)
	}
	return nil
}

// EarnedCount returns how many awards the user holds.
func (s *Store) EarnedCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.earned[userID])
}

// Ping implements the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}
