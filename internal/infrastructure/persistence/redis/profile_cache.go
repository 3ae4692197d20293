package redis

import (
	"context"
	"time"

	"github.com/feedbackhub/gamification/internal/domain/profile"
)

// ProfileCache implements profile.Cache on top of Cache.
type ProfileCache struct {
	cache *Cache
}

// NewProfileCache creates a new ProfileCache.
func NewProfileCache(cache *Cache) *ProfileCache {
	return &ProfileCache{cache: cache}
}

// GetSummary returns the cached summary or ErrCacheMiss.
func (c *ProfileCache) GetSummary(ctx context.Context, userID string) (*profile.Summary, error) {
	var s profile.Summary
	if err := c.cache.Get(ctx, ProfileKey(userID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSummary stores the summary. A non-positive ttl falls back to TTLProfileSummary.
func (c *ProfileCache) SetSummary(ctx context.Context, summary *profile.Summary, ttl time.Duration) error {
	if summary == nil {
		return ErrCacheNilValue
	}
	if ttl <= 0 {
		ttl = TTLProfileSummary
	}
	return c.cache.Set(ctx, ProfileKey(summary.UserID), summary, ttl)
}

// Invalidate drops the cached summary of the user.
func (c *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	return c.cache.Delete(ctx, ProfileKey(userID))
}
