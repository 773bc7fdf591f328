// Package reaper removes terminal jobs past the retention window, along with
// their stored artifacts. Retention exists so result images and prompts do
// not accumulate forever; signed URLs for reaped artifacts go dead naturally.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/obvyai/imagine/internal/artifact"
	"github.com/obvyai/imagine/internal/cache"
	"github.com/obvyai/imagine/internal/store"
)

const (
	lockName  = "reaper"
	batchSize = 100
)

// Reaper deletes expired jobs on a fixed interval. Only one replica reaps
// per cycle, elected by a Redis lock; everything it does is idempotent, so a
// lost election or a crash mid-batch just defers work to the next cycle.
type Reaper struct {
	store     store.Store
	cache     cache.Cache
	artifacts artifact.Store
	logger    *slog.Logger
	maxAge    time.Duration
	interval  time.Duration
}

// New creates a Reaper.
func New(st store.Store, ca cache.Cache, artifacts artifact.Store, logger *slog.Logger,
	maxAge, interval time.Duration) *Reaper {
	return &Reaper{
		store:     st,
		cache:     ca,
		artifacts: artifacts,
		logger:    logger,
		maxAge:    maxAge,
		interval:  interval,
	}
}

// Run reaps on every interval tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		acquired, err := r.cache.AcquireLock(ctx, lockName, r.interval)
		if err != nil {
			r.logger.Error("reaper: lock acquisition failed", "err", err)
			continue
		}
		if !acquired {
			continue
		}

		if n, err := r.ReapOnce(ctx); err != nil {
			r.logger.Error("reaper: cycle failed", "err", err)
		} else if n > 0 {
			r.logger.Info("reaper: cycle complete", "jobs_removed", n)
		}
	}
}

// ReapOnce deletes every terminal job completed before the retention cutoff,
// in batches, and returns how many were removed.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.maxAge)
	total := 0

	for {
		expired, err := r.store.DeleteExpired(ctx, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("delete expired jobs: %w", err)
		}
		if len(expired) == 0 {
			return total, nil
		}

		for _, job := range expired {
			r.removeArtifacts(ctx, job)
		}
		total += len(expired)

		if len(expired) < batchSize {
			return total, nil
		}
	}
}

func (r *Reaper) removeArtifacts(ctx context.Context, job store.ExpiredJob) {
	keys := []string{
		fmt.Sprintf("staging/%s/request.json", job.ID),
	}
	if job.ResultKey != "" {
		keys = append(keys, job.ResultKey)
	}
	for _, key := range keys {
		if err := r.artifacts.Delete(ctx, key); err != nil {
			r.logger.Warn("reaper: artifact delete failed", "job_id", job.ID, "key", key, "err", err)
		}
	}
}
