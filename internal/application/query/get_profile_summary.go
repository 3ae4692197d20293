package query

import (
	"context"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/achievement"
	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE SUMMARY QUERY
// The dashboard view of one user. Read through the summary cache; writes
// elsewhere invalidate it.
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileSummaryHandler handles profile summary queries.
type GetProfileSummaryHandler struct {
	profiles profile.Repository
	earned   achievement.EarnedRepository
	cache    profile.Cache
	ttl      time.Duration
	log      *logger.Logger
}

// NewGetProfileSummaryHandler creates a new handler. cache may be nil.
func NewGetProfileSummaryHandler(
	profiles profile.Repository,
	earned achievement.EarnedRepository,
	cache profile.Cache,
	ttl time.Duration,
	log *logger.Logger,
) *GetProfileSummaryHandler {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetProfileSummaryHandler{
		profiles: profiles,
		earned:   earned,
		cache:    cache,
		ttl:      ttl,
		log:      log.With(logger.Component("get_profile_summary")),
	}
}

// Handle returns the summary of the user.
func (h *GetProfileSummaryHandler) Handle(ctx context.Context, userID string) (*profile.Summary, error) {
	if userID == "" {
		return nil, shared.ErrMissingUserID
	}

	if h.cache != nil {
		if s, err := h.cache.GetSummary(ctx, userID); err == nil && s != nil {
			return s, nil
		}
	}

	p, err := h.profiles.GetProfile(ctx, userID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.WrapError("profile", "GetProfileSummary", shared.ErrNotFound, "profile not found", err)
		}
		return nil, shared.NewDependencyFailure("profile", "GetProfileSummary", "failed to load profile", err)
	}

	earned, err := h.earned.ListEarned(ctx, userID)
	if err != nil {
		return nil, shared.NewDependencyFailure("profile", "GetProfileSummary", "failed to load achievements", err)
	}

	summary := profile.NewSummary(p, len(earned))
	if h.cache != nil {
		if err := h.cache.SetSummary(ctx, summary, h.ttl); err != nil {
			h.log.Debug("failed to cache summary", logger.UserID(userID), logger.Err(err))
		}
	}
	return summary, nil
}
