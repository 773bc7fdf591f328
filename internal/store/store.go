package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/obvyai/imagine/pkg/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrDuplicateJob is returned when a job create collides with an
	// existing identifier. Creation is write-once: the first record wins.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrDuplicateKey is returned on an API key unique violation.
	ErrDuplicateKey = errors.New("duplicate key violation")
)

// ExpiredJob identifies a reaped job and the artifact it owned.
type ExpiredJob struct {
	ID        string
	ResultKey string
}

// Store is the data access interface. All database operations go through
// here. State transitions are compare-and-swap style: they apply only when
// the job is in the expected current state and report whether they landed,
// so concurrent dispatchers and reconcilers can never clobber a terminal
// state or double-apply a completion.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobsByUser(ctx context.Context, userID string, page, limit int) ([]*models.Job, int, error)

	// MarkRunning transitions PENDING -> RUNNING.
	MarkRunning(ctx context.Context, id string) (bool, error)
	// RecordOutputLocation attaches the async staging/output location to a
	// RUNNING job. Best effort; the completion signal carries the location
	// too.
	RecordOutputLocation(ctx context.Context, id, location string) error
	// MarkSucceeded transitions RUNNING -> SUCCEEDED and records the result.
	MarkSucceeded(ctx context.Context, id, resultKey string, meta models.GenerationMeta) (bool, error)
	// MarkFailed transitions PENDING or RUNNING -> FAILED.
	MarkFailed(ctx context.Context, id, errCode, errMsg string) (bool, error)

	// NextPendingAsyncJob returns the oldest async job still waiting for
	// dispatch, or ErrNotFound.
	NextPendingAsyncJob(ctx context.Context) (*models.Job, error)
	// DeleteExpired removes terminal jobs completed before cutoff, up to
	// limit at a time, returning what was removed so artifacts can be
	// cleaned up.
	DeleteExpired(ctx context.Context, cutoff time.Time, limit int) ([]ExpiredJob, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error
}
