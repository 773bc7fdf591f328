package reaper_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/obvyai/imagine/internal/artifact"
	"github.com/obvyai/imagine/internal/cache"
	"github.com/obvyai/imagine/internal/reaper"
	"github.com/obvyai/imagine/internal/store"
	"github.com/obvyai/imagine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *store.MemoryStore
	cache     *cache.MemoryCache
	artifacts *artifact.FileStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	artifacts, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return &fixture{
		store:     store.NewMemoryStore(),
		cache:     cache.NewMemoryCache(),
		artifacts: artifacts,
	}
}

// newReaper uses a negative retention so the cutoff sits in the future and
// anything terminal counts as expired; MemoryStore stamps completed_at with
// the current time, so a positive retention would never match in a test.
func (f *fixture) newReaper(interval time.Duration) *reaper.Reaper {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return reaper.New(f.store, f.cache, f.artifacts, logger, -time.Minute, interval)
}

func (f *fixture) createJob(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.CreateJob(context.Background(), &models.Job{
		ID:        id,
		UserID:    "user-1",
		State:     models.JobStatePending,
		Params:    models.GenerationParams{Prompt: "a quiet harbor at dawn"},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}))
}

// finishJob drives a job to SUCCEEDED and stages the artifacts the reaper is
// expected to remove.
func (f *fixture) finishJob(t *testing.T, id string) (stagingKey, resultKey string) {
	t.Helper()
	ctx := context.Background()

	stagingKey = fmt.Sprintf("staging/%s/request.json", id)
	resultKey = fmt.Sprintf("results/%s/image.png", id)
	_, err := f.artifacts.Write(ctx, stagingKey, []byte(`{"prompt":"a quiet harbor at dawn"}`))
	require.NoError(t, err)
	_, err = f.artifacts.Write(ctx, resultKey, []byte("png-bytes"))
	require.NoError(t, err)

	applied, err := f.store.MarkRunning(ctx, id)
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = f.store.MarkSucceeded(ctx, id, resultKey, models.GenerationMeta{})
	require.NoError(t, err)
	require.True(t, applied)
	return stagingKey, resultKey
}

func TestReapOnce_RemovesTerminalJobsAndArtifacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createJob(t, "job-done")
	stagingKey, resultKey := f.finishJob(t, "job-done")

	n, err := f.newReaper(time.Second).ReapOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.store.GetJob(ctx, "job-done")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.artifacts.Read(ctx, stagingKey)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
	_, err = f.artifacts.Read(ctx, resultKey)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestReapOnce_KeepsActiveJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createJob(t, "job-pending")
	f.createJob(t, "job-running")
	applied, err := f.store.MarkRunning(ctx, "job-running")
	require.NoError(t, err)
	require.True(t, applied)

	stagingKey := "staging/job-running/request.json"
	_, err = f.artifacts.Write(ctx, stagingKey, []byte(`{}`))
	require.NoError(t, err)

	n, err := f.newReaper(time.Second).ReapOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = f.store.GetJob(ctx, "job-pending")
	assert.NoError(t, err)
	_, err = f.store.GetJob(ctx, "job-running")
	assert.NoError(t, err)

	// An in-flight job's staged request must survive.
	_, err = f.artifacts.Read(ctx, stagingKey)
	assert.NoError(t, err)
}

func TestReapOnce_FailedJobWithoutResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createJob(t, "job-failed")
	applied, err := f.store.MarkFailed(ctx, "job-failed", "TIMEOUT", "generation timed out")
	require.NoError(t, err)
	require.True(t, applied)

	// No artifacts were ever written for this job; the reaper must still
	// remove the row and treat the missing files as already gone.
	n, err := f.newReaper(time.Second).ReapOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.store.GetJob(ctx, "job-failed")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReapOnce_NothingExpired(t *testing.T) {
	f := newFixture(t)

	n, err := f.newReaper(time.Second).ReapOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRun_ReapsOnInterval(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.createJob(t, "job-done")
	f.finishJob(t, "job-done")

	go f.newReaper(20 * time.Millisecond).Run(ctx)

	assert.Eventually(t, func() bool {
		_, err := f.store.GetJob(context.Background(), "job-done")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRun_SkipsCycleWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Another replica holds the election lock for longer than the test runs.
	held, err := f.cache.AcquireLock(ctx, "reaper", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	f.createJob(t, "job-done")
	f.finishJob(t, "job-done")

	go f.newReaper(10 * time.Millisecond).Run(ctx)

	time.Sleep(100 * time.Millisecond)
	_, err = f.store.GetJob(context.Background(), "job-done")
	assert.NoError(t, err, "job should survive while the lock is held elsewhere")
}
