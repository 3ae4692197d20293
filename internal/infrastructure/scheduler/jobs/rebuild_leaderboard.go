// Package jobs contains the scheduled jobs of the gamification service.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/profile"
	"github.com/feedbackhub/gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// Ranking is the leaderboard store the job refills.
type Ranking interface {
	profile.Leaderboard
	Clear(ctx context.Context) error
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Size is how many top profiles are loaded into the ranking.
	Size int

	// Timeout is the maximum duration of one rebuild.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		Size:    1000,
		Timeout: time.Minute,
	}
}

// RebuildLeaderboardJob replaces the cached ranking with the profile store's
// view. Event-driven score updates keep the ranking current between runs; the
// rebuild repairs whatever those updates missed.
type RebuildLeaderboardJob struct {
	profiles profile.Repository
	ranking  Ranking
	config   RebuildLeaderboardConfig
	log      *logger.Logger
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
func NewRebuildLeaderboardJob(profiles profile.Repository, ranking Ranking, config RebuildLeaderboardConfig, log *logger.Logger) *RebuildLeaderboardJob {
	if config.Size <= 0 {
		config.Size = DefaultRebuildLeaderboardConfig().Size
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RebuildLeaderboardJob{
		profiles: profiles,
		ranking:  ranking,
		config:   config,
		log:      log.With(logger.Component("rebuild_leaderboard")),
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Run executes the rebuild job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	top, err := j.profiles.TopByPoints(ctx, j.config.Size)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}

	if err := j.ranking.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear ranking: %w", err)
	}

	failed := 0
	for _, p := range top {
		if err := j.ranking.SetScore(ctx, p.ID, p.Points); err != nil {
			failed++
			j.log.Warn("failed to write score", logger.UserID(p.ID), logger.Err(err))
		}
	}

	j.log.Info("leaderboard rebuilt",
		logger.Int("entries", len(top)-failed),
		logger.Int("failed", failed),
	)

	if failed > 0 {
		return fmt.Errorf("rebuild completed with %d errors", failed)
	}
	return nil
}
