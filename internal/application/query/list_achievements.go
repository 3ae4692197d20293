package query

import (
	"context"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/achievement"
	"github.com/feedbackhub/gamification/internal/domain/shared"
)

// AchievementDTO is a catalog entry with the user's earn state.
type AchievementDTO struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	PointsReward int                  `json:"points_reward"`
	Criteria     achievement.Criteria `json:"criteria"`
	Earned       bool                 `json:"earned"`
	EarnedAt     *time.Time           `json:"earned_at,omitempty"`
}

// ListAchievementsResult contains the catalog view.
type ListAchievementsResult struct {
	Achievements []AchievementDTO `json:"achievements"`
	EarnedCount  int              `json:"earned_count"`
	TotalCount   int              `json:"total_count"`
}

// ListAchievementsHandler lists active achievements with the user's earn state.
// Inactive achievements the user already earned are still listed.
type ListAchievementsHandler struct {
	catalog achievement.Catalog
	earned  achievement.EarnedRepository
}

// NewListAchievementsHandler creates a new handler.
func NewListAchievementsHandler(catalog achievement.Catalog, earned achievement.EarnedRepository) *ListAchievementsHandler {
	return &ListAchievementsHandler{catalog: catalog, earned: earned}
}

// Handle executes the query.
func (h *ListAchievementsHandler) Handle(ctx context.Context, userID string) (*ListAchievementsResult, error) {
	if userID == "" {
		return nil, shared.ErrMissingUserID
	}

	all, err := h.catalog.ListAchievements(ctx)
	if err != nil {
		return nil, shared.NewDependencyFailure("achievement", "ListAchievements", "failed to load achievements", err)
	}
	earned, err := h.earned.ListEarned(ctx, userID)
	if err != nil {
		return nil, shared.NewDependencyFailure("achievement", "ListAchievements", "failed to load earned achievements", err)
	}

	result := &ListAchievementsResult{Achievements: make([]AchievementDTO, 0, len(all))}
	for _, a := range all {
		at, has := earned[a.ID]
		if !a.IsActive && !has {
			continue
		}
		dto := AchievementDTO{
			ID:           a.ID,
			Name:         a.Name,
			Description:  a.Description,
			PointsReward: a.PointsReward,
			Criteria:     a.Criteria,
			Earned:       has,
		}
		if has {
			t := at
			dto.EarnedAt = &t
			result.EarnedCount++
		}
		result.Achievements = append(result.Achievements, dto)
	}
	result.TotalCount = len(result.Achievements)
	return result, nil
}
