// Package reconcile turns worker pool completion signals into terminal job
// states. Signals arrive at-least-once and unordered, so every path here is
// idempotent: a replayed signal for a terminal job is a no-op.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/obvyai/imagine/internal/artifact"
	"github.com/obvyai/imagine/internal/store"
	"github.com/obvyai/imagine/pkg/models"
)

// Error codes recorded on jobs that fail at completion time.
const (
	CodeWorkerError      = "WORKER_ERROR"
	CodeResultResolution = "RESULT_RESOLUTION_FAILED"
)

// ErrUnknownJob is returned for signals that reference no stored job.
var ErrUnknownJob = errors.New("signal references unknown job")

// ErrNotRunning is returned when a signal arrives for a job that is still
// PENDING. The dispatcher marks jobs RUNNING before invoking the pool, so
// this indicates a stray or forged signal rather than an ordering race.
var ErrNotRunning = errors.New("job is not running")

// Output names the worker pool writes under its result location. Checked in
// order; the first one present wins.
var resultCandidates = []string{"generated_image.png", "output.png", "image.png"}

const metadataName = "metadata.json"

const stateCacheTTL = 30 * time.Minute

// SlotReleaser frees a job's worker pool concurrency slot.
type SlotReleaser interface {
	ReleaseSlot(ctx context.Context, jobID string)
}

// StateCacher mirrors terminal job states into the read cache.
type StateCacher interface {
	SetJobState(ctx context.Context, jobID, state string, ttl time.Duration) error
}

// Reconciler applies completion signals to the job store.
type Reconciler struct {
	store     store.Store
	artifacts artifact.Store
	slots     SlotReleaser
	states    StateCacher
	logger    *slog.Logger
}

// New creates a Reconciler.
func New(st store.Store, artifacts artifact.Store, slots SlotReleaser, states StateCacher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     st,
		artifacts: artifacts,
		slots:     slots,
		states:    states,
		logger:    logger,
	}
}

// OnSignal processes one completion signal. Replays and duplicates return
// nil without touching the job; the slot release is repeated on every
// delivery because it is idempotent and a crash between the state write and
// the release must not leak a slot.
func (r *Reconciler) OnSignal(ctx context.Context, sig models.CompletionSignal) error {
	job, err := r.store.GetJob(ctx, sig.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownJob
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	defer r.slots.ReleaseSlot(ctx, job.ID)

	if job.Terminal() {
		r.logger.Info("reconcile: duplicate signal for terminal job",
			"job_id", job.ID, "state", job.State)
		return nil
	}
	if job.State == models.JobStatePending {
		return ErrNotRunning
	}

	if sig.Outcome == models.OutcomeError {
		return r.fail(ctx, job.ID, CodeWorkerError, sig.ErrorMessage)
	}
	return r.succeed(ctx, job, sig)
}

func (r *Reconciler) succeed(ctx context.Context, job *models.Job, sig models.CompletionSignal) error {
	location := sig.ResultLocation
	if location == "" {
		location = job.OutputLocation
	}
	if location == "" {
		return r.fail(ctx, job.ID, CodeResultResolution, "signal carries no result location")
	}

	image, err := r.resolveImage(ctx, location)
	if err != nil {
		return r.fail(ctx, job.ID, CodeResultResolution,
			fmt.Sprintf("no result image under %s: %v", location, err))
	}
	meta := r.resolveMeta(ctx, location, job.ID)

	key, err := r.artifacts.Write(ctx, fmt.Sprintf("results/%s/image.png", job.ID), image)
	if err != nil {
		return r.fail(ctx, job.ID, CodeResultResolution, fmt.Sprintf("persist result: %v", err))
	}

	applied, err := r.store.MarkSucceeded(ctx, job.ID, key, meta)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if !applied {
		// Raced with another delivery of the same signal; the job is
		// terminal either way.
		r.logger.Info("reconcile: success transition already applied", "job_id", job.ID)
		return nil
	}

	r.cacheState(ctx, job.ID, models.JobStateSucceeded)
	r.logger.Info("reconcile: job succeeded", "job_id", job.ID, "result_key", key)
	return nil
}

func (r *Reconciler) fail(ctx context.Context, jobID, code, msg string) error {
	if msg == "" {
		msg = "worker reported an error"
	}
	applied, err := r.store.MarkFailed(ctx, jobID, code, msg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if applied {
		r.cacheState(ctx, jobID, models.JobStateFailed)
		r.logger.Info("reconcile: job failed", "job_id", jobID, "code", code)
	}
	return nil
}

// resolveImage reads the first known output name under location.
func (r *Reconciler) resolveImage(ctx context.Context, location string) ([]byte, error) {
	var lastErr error
	for _, name := range resultCandidates {
		data, err := r.artifacts.Read(ctx, location+"/"+name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, artifact.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// resolveMeta reads the optional metadata document. Missing or malformed
// metadata is tolerated; the image alone is enough to succeed the job.
func (r *Reconciler) resolveMeta(ctx context.Context, location, jobID string) models.GenerationMeta {
	var meta models.GenerationMeta
	data, err := r.artifacts.Read(ctx, location+"/"+metadataName)
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		r.logger.Warn("reconcile: malformed metadata document", "job_id", jobID, "err", err)
	}
	return meta
}

func (r *Reconciler) cacheState(ctx context.Context, jobID, state string) {
	if err := r.states.SetJobState(ctx, jobID, state, stateCacheTTL); err != nil {
		r.logger.Warn("reconcile: state cache write failed", "job_id", jobID, "err", err)
	}
}
