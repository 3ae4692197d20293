// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Top users by points. Served from the ranking cache when it has entries,
// otherwise from the profile store.
// ══════════════════════════════════════════════════════════════════════════════

// Leaderboard page bounds.
const (
	DefaultLeaderboardLimit = 20
	MaxLeaderboardLimit     = 100
)

// GetLeaderboardQuery contains the leaderboard request parameters.
type GetLeaderboardQuery struct {
	// Limit - number of entries (default 20, max 100).
	Limit int
}

// Validate normalizes the query.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return shared.NewValidationError("leaderboard", "GetLeaderboard", "limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultLeaderboardLimit
	}
	if q.Limit > MaxLeaderboardLimit {
		q.Limit = MaxLeaderboardLimit
	}
	return nil
}

// LeaderboardEntryDTO is one leaderboard row.
type LeaderboardEntryDTO struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Points int    `json:"points"`
	Level  int    `json:"level"`
}

// GetLeaderboardResult contains the leaderboard page.
type GetLeaderboardResult struct {
	Entries     []LeaderboardEntryDTO `json:"entries"`
	Source      string                `json:"source"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// GetLeaderboardHandler handles leaderboard queries.
type GetLeaderboardHandler struct {
	profiles profile.Repository
	board    profile.Leaderboard
	log      *logger.Logger
}

// NewGetLeaderboardHandler creates a new handler. board may be nil.
func NewGetLeaderboardHandler(profiles profile.Repository, board profile.Leaderboard, log *logger.Logger) *GetLeaderboardHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{
		profiles: profiles,
		board:    board,
		log:      log.With(logger.Component("get_leaderboard")),
	}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.board != nil {
		top, err := h.board.Top(ctx, q.Limit)
		if err != nil {
			h.log.Warn("ranking cache unavailable, falling back", logger.Err(err))
		} else if len(top) > 0 {
			entries := make([]LeaderboardEntryDTO, 0, len(top))
			for i, e := range top {
				level, _ := profile.ResolveLevel(e.Points)
				entries = append(entries, LeaderboardEntryDTO{
					Rank:   i + 1,
					UserID: e.UserID,
					Points: e.Points,
					Level:  int(level),
				})
			}
			return &GetLeaderboardResult{Entries: entries, Source: "cache", GeneratedAt: time.Now().UTC()}, nil
		}
	}

	profiles, err := h.profiles.TopByPoints(ctx, q.Limit)
	if err != nil {
		return nil, shared.NewDependencyFailure("leaderboard", "GetLeaderboard", "failed to load leaderboard", err)
	}

	entries := make([]LeaderboardEntryDTO, 0, len(profiles))
	for i, p := range profiles {
		entries = append(entries, LeaderboardEntryDTO{
			Rank:   i + 1,
			UserID: p.ID,
			Points: p.Points,
			Level:  int(p.Level),
		})
		if h.board != nil {
			// Warm the ranking so the next read is served from it.
			if err := h.board.SetScore(ctx, p.ID, p.Points); err != nil {
				h.log.Debug("failed to warm ranking", logger.UserID(p.ID), logger.Err(err))
			}
		}
	}
	return &GetLeaderboardResult{Entries: entries, Source: "database", GeneratedAt: time.Now().UTC()}, nil
}
