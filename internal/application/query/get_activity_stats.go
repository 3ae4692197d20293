package query

import (
	"context"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/ledger"
	"github.com/feedbackhub/gamification/internal/domain/shared"
)

// ActivityTypeStatsDTO aggregates one activity type.
type ActivityTypeStatsDTO struct {
	ActivityType string     `json:"activity_type"`
	Count        int        `json:"count"`
	Points       int        `json:"points"`
	LastAt       *time.Time `json:"last_at,omitempty"`
}

// GetActivityStatsResult is the analytics view of the ledger.
type GetActivityStatsResult struct {
	UserID      string                 `json:"user_id"`
	TotalCount  int                    `json:"total_count"`
	TotalPoints int                    `json:"total_points"`
	ByType      []ActivityTypeStatsDTO `json:"by_type"`
}

// GetActivityStatsHandler summarizes a user's ledger.
type GetActivityStatsHandler struct {
	ledgerRepo ledger.Repository
}

// NewGetActivityStatsHandler creates a new handler.
func NewGetActivityStatsHandler(ledgerRepo ledger.Repository) *GetActivityStatsHandler {
	return &GetActivityStatsHandler{ledgerRepo: ledgerRepo}
}

// Handle executes the query.
func (h *GetActivityStatsHandler) Handle(ctx context.Context, userID string) (*GetActivityStatsResult, error) {
	if userID == "" {
		return nil, shared.ErrMissingUserID
	}

	records, err := h.ledgerRepo.ListActivity(ctx, userID)
	if err != nil {
		return nil, shared.NewDependencyFailure("activity", "GetActivityStats", "failed to load activity", err)
	}

	stats := ledger.Summarize(userID, records)
	result := &GetActivityStatsResult{
		UserID:      stats.UserID,
		TotalCount:  stats.TotalCount,
		TotalPoints: stats.TotalPoints,
		ByType:      make([]ActivityTypeStatsDTO, 0, len(stats.ByType)),
	}
	for _, ts := range stats.ByType {
		dto := ActivityTypeStatsDTO{
			ActivityType: ts.ActivityType.String(),
			Count:        ts.Count,
			Points:       ts.Points,
		}
		if !ts.LastAt.IsZero() {
			last := ts.LastAt
			dto.LastAt = &last
		}
		result.ByType = append(result.ByType, dto)
	}
	return result, nil
}
