// Package cache provides the Redis-backed activity detail projection.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

const keyPrefix = "activity:detail:"

// Options configures the Redis connection.
type Options struct {
	Address  string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Address, err)
	}
	return client, nil
}

// RedisDetailCache stores ActivityDetail snapshots as JSON with a TTL. Entries are
// dropped on every mutation of the activity, so the TTL only bounds staleness caused
// by writers in other processes.
type RedisDetailCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisDetailCache constructs a RedisDetailCache.
func NewRedisDetailCache(client redis.Cmdable, ttl time.Duration) *RedisDetailCache {
	return &RedisDetailCache{client: client, ttl: ttl}
}

// Get implements domain.DetailCache. A miss returns nil without error.
func (c *RedisDetailCache) Get(ctx context.Context, activityID string) (*domain.ActivityDetail, error) {
	data, err := c.client.Get(ctx, Key(activityID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	detail, err := decode(data)
	if err != nil {
		// A corrupt entry is treated as a miss and evicted.
		_ = c.client.Del(ctx, Key(activityID)).Err()
		return nil, nil
	}
	return detail, nil
}

// Set implements domain.DetailCache.
func (c *RedisDetailCache) Set(ctx context.Context, detail domain.ActivityDetail) error {
	data, err := encode(detail)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(detail.Activity.ID), data, c.ttl).Err()
}

// Invalidate implements domain.DetailCache.
func (c *RedisDetailCache) Invalidate(ctx context.Context, activityID string) error {
	return c.client.Del(ctx, Key(activityID)).Err()
}

// Key returns the Redis key of an activity's cached detail.
func Key(activityID string) string {
	return keyPrefix + activityID
}

type cachedDetail struct {
	Activity    domain.Activity     `json:"activity"`
	Enrollments []domain.Enrollment `json:"enrollments"`
}

func encode(detail domain.ActivityDetail) ([]byte, error) {
	return json.Marshal(cachedDetail{Activity: detail.Activity, Enrollments: detail.Enrollments})
}

func decode(data []byte) (*domain.ActivityDetail, error) {
	var cached cachedDetail
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	if cached.Activity.ID == "" {
		return nil, errors.New("cached detail without activity id")
	}
	return &domain.ActivityDetail{Activity: cached.Activity, Enrollments: cached.Enrollments}, nil
}
