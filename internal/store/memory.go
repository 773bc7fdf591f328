package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/obvyai/imagine/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local development. It
// mirrors the PostgresStore transition semantics exactly, including the
// write-once create and compare-and-swap state updates.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	keys map[uuid.UUID]*models.APIKey
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
		keys: make(map[uuid.UUID]*models.APIKey),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ListJobsByUser(_ context.Context, userID string, page, limit int) ([]*models.Job, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []*models.Job
	for _, job := range s.jobs {
		if job.UserID == userID {
			cp := *job
			owned = append(owned, &cp)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID > owned[j].ID })

	total := len(owned)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return owned[start:end], total, nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.State != models.JobStatePending {
		return false, nil
	}
	job.State = models.JobStateRunning
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) RecordOutputLocation(_ context.Context, id, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && job.State == models.JobStateRunning {
		job.OutputLocation = location
		job.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) MarkSucceeded(_ context.Context, id, resultKey string, meta models.GenerationMeta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.State != models.JobStateRunning {
		return false, nil
	}
	now := time.Now().UTC()
	metaCp := meta
	job.State = models.JobStateSucceeded
	job.ResultKey = resultKey
	job.Meta = &metaCp
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id, errCode, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || (job.State != models.JobStatePending && job.State != models.JobStateRunning) {
		return false, nil
	}
	now := time.Now().UTC()
	job.State = models.JobStateFailed
	job.ErrorCode = &errCode
	job.ErrorMessage = &errMsg
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) NextPendingAsyncJob(_ context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Job
	for _, job := range s.jobs {
		if job.State != models.JobStatePending || job.Params.Mode != models.ModeAsync {
			continue
		}
		if oldest == nil || job.ID < oldest.ID {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time, limit int) ([]ExpiredJob, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []ExpiredJob
	for id, job := range s.jobs {
		if len(expired) >= limit {
			break
		}
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			expired = append(expired, ExpiredJob{ID: id, ResultKey: job.ResultKey})
			delete(s.jobs, id)
		}
	}
	return expired, nil
}

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.ID]; exists {
		return ErrDuplicateKey
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, userID string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.UserID == userID && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || (userID != "" && k.UserID != userID) || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

var _ Store = (*MemoryStore)(nil)
