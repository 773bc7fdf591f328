package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/obvyai/imagine/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

func TestJobState_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	_, hit, err := rc.GetJobState(ctx, "01hq0000000000000000000000")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, rc.SetJobState(ctx, "01hq0000000000000000000000", "RUNNING", time.Minute))

	state, hit, err := rc.GetJobState(ctx, "01hq0000000000000000000000")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "RUNNING", state)
}

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	key := cache.RateLimitKey("imk_abcd")
	for want := int64(1); want <= 3; want++ {
		got, err := rc.IncrWithExpiry(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestInflightSlots(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	count, err := rc.InflightCount(ctx, "default")
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, rc.ClaimSlot(ctx, "default", "job-1"))
	require.NoError(t, rc.ClaimSlot(ctx, "default", "job-2"))
	// Claiming the same job twice holds a single slot.
	require.NoError(t, rc.ClaimSlot(ctx, "default", "job-1"))

	count, err = rc.InflightCount(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, rc.ReleaseSlot(ctx, "default", "job-1"))
	// Double release is a no-op.
	require.NoError(t, rc.ReleaseSlot(ctx, "default", "job-1"))

	count, err = rc.InflightCount(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAcquireLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	got, err := rc.AcquireLock(ctx, "reaper", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = rc.AcquireLock(ctx, "reaper", time.Minute)
	require.NoError(t, err)
	assert.False(t, got, "lock is held until the TTL elapses")
}

// --- MemoryCache ---

func TestMemoryCache_JobState(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	_, hit, err := mc.GetJobState(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, mc.SetJobState(ctx, "j1", "SUCCEEDED", time.Minute))
	state, hit, err := mc.GetJobState(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "SUCCEEDED", state)

	// Expired entries read as misses.
	require.NoError(t, mc.SetJobState(ctx, "j2", "RUNNING", -time.Second))
	_, hit, err = mc.GetJobState(ctx, "j2")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMemoryCache_Slots(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, mc.ClaimSlot(ctx, "default", "j1"))
	require.NoError(t, mc.ClaimSlot(ctx, "default", "j1"))
	require.NoError(t, mc.ClaimSlot(ctx, "default", "j2"))

	count, err := mc.InflightCount(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, mc.ReleaseSlot(ctx, "default", "j2"))
	require.NoError(t, mc.ReleaseSlot(ctx, "default", "j2"))

	count, err = mc.InflightCount(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryCache_AcquireLock(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	got, err := mc.AcquireLock(ctx, "reaper", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = mc.AcquireLock(ctx, "reaper", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, got)

	time.Sleep(60 * time.Millisecond)
	got, err = mc.AcquireLock(ctx, "reaper", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, got, "expired lock can be retaken")
}
