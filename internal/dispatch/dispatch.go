// Package dispatch hands admitted jobs to the worker pool under a bounded
// concurrency limit, and owns the PENDING -> RUNNING transition.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/obvyai/imagine/internal/artifact"
	"github.com/obvyai/imagine/internal/cache"
	"github.com/obvyai/imagine/internal/store"
	"github.com/obvyai/imagine/internal/worker"
	"github.com/obvyai/imagine/pkg/models"
)

// Error codes recorded on jobs that fail during dispatch.
const (
	CodeTimeout          = "TIMEOUT"
	CodeWorkerFailure    = "WORKER_FAILURE"
	CodePoolUnavailable  = "POOL_UNAVAILABLE"
	CodeDispatchFailed   = "DISPATCH_FAILED"
	CodeCapacityExceeded = "CAPACITY_EXCEEDED"
)

// ErrCapacityExceeded is returned to synchronous callers when the worker
// pool has no free slot. Async jobs are never rejected for capacity; they
// stay PENDING until the queue loop finds room.
var ErrCapacityExceeded = errors.New("worker pool at capacity")

const (
	// poolName scopes the inflight set; a single pool today.
	poolName = "default"

	queuePollInterval = 2 * time.Second
	stateCacheTTL     = 30 * time.Minute
)

// Result reports what Dispatch did.
type Result struct {
	// Job is the refreshed record after the dispatch attempt.
	Job *models.Job
	// Queued is set when an async job was left PENDING because the pool
	// is saturated.
	Queued bool
}

// Dispatcher pushes jobs into the worker pool. Dispatch is at-most-once
// per job: the PENDING -> RUNNING conditional update is the gate, so a
// concurrent or repeated attempt on the same job becomes a no-op.
type Dispatcher struct {
	store          store.Store
	cache          cache.Cache
	pool           worker.Invoker
	artifacts      artifact.Store
	logger         *slog.Logger
	maxConcurrency int
	syncTimeout    time.Duration
}

// New creates a Dispatcher.
func New(st store.Store, ca cache.Cache, pool worker.Invoker, artifacts artifact.Store,
	logger *slog.Logger, maxConcurrency int, syncTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		store:          st,
		cache:          ca,
		pool:           pool,
		artifacts:      artifacts,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		syncTimeout:    syncTimeout,
	}
}

// Dispatch hands job to the worker pool. Sync jobs block until terminal;
// async jobs return as soon as the pool acknowledges (or the saturated pool
// leaves them queued). All failure paths end with the job terminal — a
// dispatch error is recorded once and never retried here.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) (*Result, error) {
	if job.State != models.JobStatePending {
		return &Result{Job: job}, nil
	}

	free, err := d.hasCapacity(ctx)
	if err != nil {
		// Coordination store down: fail open for async (pool enforces its
		// own ceiling), closed for sync.
		d.logger.Error("dispatch: inflight count failed", "job_id", job.ID, "err", err)
		free = job.Params.Mode == models.ModeAsync
	}
	if !free {
		if job.Params.Mode == models.ModeAsync {
			return &Result{Job: job, Queued: true}, nil
		}
		d.markFailed(ctx, job.ID, CodeCapacityExceeded, "worker pool at capacity")
		return nil, ErrCapacityExceeded
	}

	applied, err := d.store.MarkRunning(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	if !applied {
		// Lost the race; someone else already dispatched or failed it.
		fresh, err := d.store.GetJob(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("refetch job: %w", err)
		}
		return &Result{Job: fresh}, nil
	}

	if err := d.cache.ClaimSlot(ctx, poolName, job.ID); err != nil {
		d.logger.Warn("dispatch: slot claim failed", "job_id", job.ID, "err", err)
	}
	d.cacheState(ctx, job.ID, models.JobStateRunning)

	req := worker.Request{JobID: job.ID, Params: job.Params}
	if job.Params.Mode == models.ModeSync {
		return d.dispatchSync(ctx, job, req)
	}
	return d.dispatchAsync(ctx, job, req)
}

func (d *Dispatcher) dispatchSync(ctx context.Context, job *models.Job, req worker.Request) (*Result, error) {
	// A sync job never outlives the call that dispatched it, so the slot
	// comes back no matter how this attempt ends.
	defer d.releaseSlot(ctx, job.ID)

	invokeCtx, cancel := context.WithTimeout(ctx, d.syncTimeout)
	defer cancel()

	res, err := d.pool.InvokeSync(invokeCtx, req)
	if err != nil {
		d.markFailed(ctx, job.ID, classify(err), err.Error())
		return d.refreshed(ctx, job.ID)
	}

	key, err := d.artifacts.Write(ctx, resultKey(job.ID), res.ImagePNG)
	if err != nil {
		d.markFailed(ctx, job.ID, CodeDispatchFailed, fmt.Sprintf("persist result: %v", err))
		return d.refreshed(ctx, job.ID)
	}

	applied, err := d.store.MarkSucceeded(ctx, job.ID, key, res.Meta)
	if err != nil {
		// No completion signal will ever rescue a sync job, so make one
		// attempt at a terminal write before giving up.
		d.markFailed(ctx, job.ID, CodeDispatchFailed, fmt.Sprintf("record result: %v", err))
		return nil, fmt.Errorf("mark succeeded: %w", err)
	}
	if applied {
		d.cacheState(ctx, job.ID, models.JobStateSucceeded)
	}
	return d.refreshed(ctx, job.ID)
}

func (d *Dispatcher) dispatchAsync(ctx context.Context, job *models.Job, req worker.Request) (*Result, error) {
	payload, err := json.Marshal(req.Params)
	if err != nil {
		return nil, fmt.Errorf("encode staging payload: %w", err)
	}
	if _, err := d.artifacts.Write(ctx, stagingKey(job.ID), payload); err != nil {
		d.markFailed(ctx, job.ID, CodeDispatchFailed, fmt.Sprintf("stage request: %v", err))
		d.releaseSlot(ctx, job.ID)
		return d.refreshed(ctx, job.ID)
	}

	ack, err := d.pool.InvokeAsync(ctx, req)
	if err != nil {
		d.markFailed(ctx, job.ID, classify(err), err.Error())
		d.releaseSlot(ctx, job.ID)
		return d.refreshed(ctx, job.ID)
	}

	if err := d.store.RecordOutputLocation(ctx, job.ID, ack.OutputLocation); err != nil {
		// The completion signal carries the location too; log and move on.
		d.logger.Warn("dispatch: record output location failed", "job_id", job.ID, "err", err)
	}

	d.logger.Info("dispatch: async job handed to pool",
		"job_id", job.ID, "pool", d.pool.Name(), "output_location", ack.OutputLocation)
	return d.refreshed(ctx, job.ID)
}

// RunQueue drains queued async jobs whenever the pool has capacity. It is
// the retry path for jobs whose submit-time dispatch found the pool
// saturated. Runs until ctx is cancelled.
func (d *Dispatcher) RunQueue(ctx context.Context) {
	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		free, err := d.hasCapacity(ctx)
		if err != nil || !free {
			continue
		}

		job, err := d.store.NextPendingAsyncJob(ctx)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			d.logger.Error("dispatch: queue scan failed", "err", err)
			continue
		}

		if _, err := d.Dispatch(ctx, job); err != nil {
			d.logger.Error("dispatch: queued job dispatch failed", "job_id", job.ID, "err", err)
		}
	}
}

// ReleaseSlot frees the job's inflight slot. Exposed for the reconciler,
// which owns the terminal transition for async jobs. Idempotent.
func (d *Dispatcher) ReleaseSlot(ctx context.Context, jobID string) {
	d.releaseSlot(ctx, jobID)
}

func (d *Dispatcher) hasCapacity(ctx context.Context) (bool, error) {
	// TOCTOU window between this count and the claim is bounded by the
	// number of concurrent submitters and tolerated; the pool enforces its
	// own hard ceiling.
	inflight, err := d.cache.InflightCount(ctx, poolName)
	if err != nil {
		return false, err
	}
	return inflight < int64(d.maxConcurrency), nil
}

func (d *Dispatcher) refreshed(ctx context.Context, jobID string) (*Result, error) {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("refetch job: %w", err)
	}
	return &Result{Job: job}, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, jobID, code, msg string) {
	applied, err := d.store.MarkFailed(ctx, jobID, code, msg)
	if err != nil {
		// Single attempt: log and surface the job as-is rather than
		// retrying indefinitely.
		d.logger.Error("dispatch: mark failed did not land", "job_id", jobID, "code", code, "err", err)
		return
	}
	if applied {
		d.cacheState(ctx, jobID, models.JobStateFailed)
	}
}

func (d *Dispatcher) releaseSlot(ctx context.Context, jobID string) {
	if err := d.cache.ReleaseSlot(ctx, poolName, jobID); err != nil {
		d.logger.Warn("dispatch: slot release failed", "job_id", jobID, "err", err)
	}
}

func (d *Dispatcher) cacheState(ctx context.Context, jobID, state string) {
	if err := d.cache.SetJobState(ctx, jobID, state, stateCacheTTL); err != nil {
		d.logger.Warn("dispatch: state cache write failed", "job_id", jobID, "err", err)
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, worker.ErrInvokeTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, worker.ErrPoolUnavailable):
		return CodePoolUnavailable
	default:
		return CodeWorkerFailure
	}
}

func resultKey(jobID string) string {
	return fmt.Sprintf("results/%s/image.png", jobID)
}

func stagingKey(jobID string) string {
	return fmt.Sprintf("staging/%s/request.json", jobID)
}
