// Package cache keeps per-user stats summaries in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

const keyPrefix = "stats:summary:"

type StatsCacheInterface interface {
	Get(ctx context.Context, userID int) (*model.StatsSummary, error)
	Set(ctx context.Context, userID int, s *model.StatsSummary) error
	Invalidate(ctx context.Context, userID int) error
}

type StatsCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewStatsCache(client redis.Cmdable, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &StatsCache{client: client, ttl: ttl}
}

func key(userID int) string { return keyPrefix + strconv.Itoa(userID) }

// Get returns nil, nil on a miss.
func (c *StatsCache) Get(ctx context.Context, userID int) (*model.StatsSummary, error) {
	raw, err := c.client.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get stats cache for user %d: %w", userID, err)
	}
	var s model.StatsSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		// Stale format, treat as a miss.
		return nil, nil
	}
	return &s, nil
}

func (c *StatsCache) Set(ctx context.Context, userID int, s *model.StatsSummary) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode stats summary: %w", err)
	}
	if err := c.client.Set(ctx, key(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set stats cache for user %d: %w", userID, err)
	}
	return nil
}

func (c *StatsCache) Invalidate(ctx context.Context, userID int) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate stats cache for user %d: %w", userID, err)
	}
	return nil
}

var _ StatsCacheInterface = (*StatsCache)(nil)
