package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/gamification/pkg/circuitbreaker"
)

// unreachable returns a cache whose server refuses connections.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client)
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache"
	cfg.DB = 2

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	cfg.URL = "redis://:secret@redis.internal:6380/4"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 4, opts.DB)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, PrefixProfile+"u-1", ProfileKey("u-1"))
	assert.Equal(t, PrefixLeaderboard+"points", LeaderboardKey())
	assert.Equal(t, PrefixEvents+"points.reconciled", EventChannel("points.reconciled"))
}

func TestIsFailure(t *testing.T) {
	assert.False(t, IsFailure(ErrCacheMiss))
	assert.False(t, IsFailure(redis.Nil))
	assert.False(t, IsFailure(fmt.Errorf("wrap: %w", ErrCacheSerialization)))
	assert.True(t, IsFailure(errors.New("dial tcp: connection refused")))
}

func TestCache_ArgumentErrors(t *testing.T) {
	c := unreachable(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Get(ctx, "", &struct{}{}), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))

	assert.ErrorIs(t, NewProfileCache(c).SetSummary(ctx, nil, 0), ErrCacheNilValue)
	assert.ErrorIs(t, NewLeaderboardCache(c).SetScore(ctx, "", 10), ErrUserIDEmpty)

	top, err := NewLeaderboardCache(c).Top(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestCache_BreakerOpensOnUnreachableServer(t *testing.T) {
	var opened bool
	cb := circuitbreaker.CacheBreaker(IsFailure, func(_ string, _, to circuitbreaker.State) {
		if to == circuitbreaker.StateOpen {
			opened = true
		}
	})
	c := unreachable(t).WithBreaker(cb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := c.Get(ctx, "k", &struct{}{})
		require.Error(t, err)
		assert.False(t, circuitbreaker.IsRejected(err))
	}
	require.True(t, opened)

	_, err := NewProfileCache(c).GetSummary(ctx, "u-1")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	err = NewLeaderboardCache(c).SetScore(ctx, "u-1", 10)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	err = c.Publish(ctx, EventChannel("x"), map[string]int{"n": 1})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}
