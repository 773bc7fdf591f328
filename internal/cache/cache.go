package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the coordination interface backed by Redis. It covers the job
// status read cache, rate-limit counters, and the dispatch inflight slot
// set. Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJobState(ctx context.Context, jobID, state string, ttl time.Duration) error
	GetJobState(ctx context.Context, jobID string) (string, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)

	// ClaimSlot records a job in the worker pool's inflight set. Using a
	// SET (not a counter) means ReleaseSlot is idempotent — a crashed
	// dispatcher or a double release can never push the count negative.
	ClaimSlot(ctx context.Context, pool, jobID string) error
	ReleaseSlot(ctx context.Context, pool, jobID string) error
	InflightCount(ctx context.Context, pool string) (int64, error)

	// AcquireLock takes a best-effort distributed lock for ttl. Used to
	// elect a single reaper among replicas; losing the lock mid-cycle is
	// harmless because every reap operation is idempotent.
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)

	Close() error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SetJobState(ctx context.Context, jobID, state string, ttl time.Duration) error {
	return c.client.Set(ctx, JobStateKey(jobID), state, ttl).Err()
}

func (c *RedisCache) GetJobState(ctx context.Context, jobID string) (string, bool, error) {
	val, err := c.client.Get(ctx, JobStateKey(jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) ClaimSlot(ctx context.Context, pool, jobID string) error {
	return c.client.SAdd(ctx, InflightSetKey(pool), jobID).Err()
}

// ReleaseSlot removes a job from the inflight set. Safe to call multiple
// times; SREM on a missing member is a no-op.
func (c *RedisCache) ReleaseSlot(ctx context.Context, pool, jobID string) error {
	return c.client.SRem(ctx, InflightSetKey(pool), jobID).Err()
}

func (c *RedisCache) InflightCount(ctx context.Context, pool string) (int64, error) {
	return c.client.SCard(ctx, InflightSetKey(pool)).Result()
}

func (c *RedisCache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, LockKey(name), "1", ttl).Result()
}

var _ Cache = (*RedisCache)(nil)
