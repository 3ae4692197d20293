package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/feedbackhub/gamification/internal/domain/profile"
)

// ErrUserIDEmpty is returned when a score is written without a user.
var ErrUserIDEmpty = errors.New("leaderboard_cache: user ID cannot be empty")

// LeaderboardCache implements profile.Leaderboard with a sorted set
// "leaderboard:points" mapping userID -> points.
// Rank lookups are O(log N) and top-N reads are O(log N + M).
type LeaderboardCache struct {
	cache *Cache
}

// NewLeaderboardCache creates a new LeaderboardCache instance.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

// SetScore writes the user's current point total and refreshes the TTL.
func (l *LeaderboardCache) SetScore(ctx context.Context, userID string, points int) error {
	if userID == "" {
		return ErrUserIDEmpty
	}

	key := LeaderboardKey()
	return l.cache.do(ctx, func(ctx context.Context) error {
		pipe := l.cache.Client().TxPipeline()
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(points), Member: userID})
		pipe.Expire(ctx, key, TTLLeaderboard)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Top returns the best entries, highest score first.
func (l *LeaderboardCache) Top(ctx context.Context, limit int) ([]profile.RankEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var zs []redis.Z
	err := l.cache.do(ctx, func(ctx context.Context) error {
		var err error
		zs, err = l.cache.Client().ZRevRangeWithScores(ctx, LeaderboardKey(), 0, int64(limit-1)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("leaderboard_cache: failed to read top: %w", err)
	}

	out := make([]profile.RankEntry, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, profile.RankEntry{UserID: member, Points: int(z.Score)})
	}
	return out, nil
}

// Clear drops the whole ranking; the next read rebuilds it from storage.
func (l *LeaderboardCache) Clear(ctx context.Context) error {
	return l.cache.Delete(ctx, LeaderboardKey())
}
