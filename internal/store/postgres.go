package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/obvyai/imagine/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, user_id, state, mode, params, output_location, result_key,
	error_code, error_message, result_meta, created_at, updated_at, completed_at`

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode job params: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, state, mode, params, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.UserID, job.State, job.Params.Mode, params, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobsByUser(ctx context.Context, userID string, page, limit int) ([]*models.Job, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM jobs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	// ULIDs sort by creation time, so ordering by id is creation order.
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) MarkRunning(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $2, updated_at = NOW()
		 WHERE id = $1 AND state = $3`,
		id, models.JobStateRunning, models.JobStatePending)
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecordOutputLocation(ctx context.Context, id, location string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET output_location = $2, updated_at = NOW()
		 WHERE id = $1 AND state = $3`,
		id, location, models.JobStateRunning)
	if err != nil {
		return fmt.Errorf("record output location: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, id, resultKey string, meta models.GenerationMeta) (bool, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("encode result meta: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $2, result_key = $3, result_meta = $4,
			completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND state = $5`,
		id, models.JobStateSucceeded, resultKey, metaJSON, models.JobStateRunning)
	if err != nil {
		return false, fmt.Errorf("mark succeeded: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, errCode, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $2, error_code = $3, error_message = $4,
			completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND state IN ($5, $6)`,
		id, models.JobStateFailed, errCode, errMsg,
		models.JobStatePending, models.JobStateRunning)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) NextPendingAsyncJob(ctx context.Context) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE state = $1 AND mode = $2 ORDER BY id LIMIT 1`,
		models.JobStatePending, models.ModeAsync)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("next pending job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time, limit int) ([]ExpiredJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`DELETE FROM jobs WHERE id IN (
			SELECT id FROM jobs
			WHERE completed_at IS NOT NULL AND completed_at < $1
			ORDER BY completed_at LIMIT $2
		 ) RETURNING id, result_key`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("delete expired jobs: %w", err)
	}
	defer rows.Close()

	var expired []ExpiredJob
	for rows.Next() {
		var e ExpiredJob
		var resultKey *string
		if err := rows.Scan(&e.ID, &resultKey); err != nil {
			return nil, fmt.Errorf("scan expired job: %w", err)
		}
		if resultKey != nil {
			e.ResultKey = *resultKey
		}
		expired = append(expired, e)
	}
	return expired, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error {
	// Empty userID means an unscoped (admin) revoke.
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND ($2 = '' OR user_id = $2) AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j          models.Job
		mode       string
		paramsJSON []byte
		metaJSON   []byte
		outputLoc  *string
		resultKey  *string
	)
	if err := row.Scan(&j.ID, &j.UserID, &j.State, &mode, &paramsJSON, &outputLoc, &resultKey,
		&j.ErrorCode, &j.ErrorMessage, &metaJSON, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(paramsJSON, &j.Params); err != nil {
		return nil, fmt.Errorf("decode job params: %w", err)
	}
	if len(metaJSON) > 0 {
		var meta models.GenerationMeta
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("decode result meta: %w", err)
		}
		j.Meta = &meta
	}
	if outputLoc != nil {
		j.OutputLocation = *outputLoc
	}
	if resultKey != nil {
		j.ResultKey = *resultKey
	}
	_ = mode // redundant with params.Mode; kept as a dedicated column for indexed dispatch scans
	return &j, nil
}

// isUniqueViolation checks if a pgx error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
