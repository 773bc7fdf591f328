package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/obvyai/imagine/internal/api/middleware"
	"github.com/obvyai/imagine/internal/cache"
	"github.com/obvyai/imagine/internal/store"
	"github.com/obvyai/imagine/pkg/jobid"
	"github.com/obvyai/imagine/pkg/models"
)

func storedJob(t *testing.T, st store.Store, userID, state string) *models.Job {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	job := &models.Job{
		ID:     jobid.New(),
		UserID: userID,
		State:  models.JobStatePending,
		Params: models.GenerationParams{
			Prompt: "p", Steps: 20, Guidance: 7.5, Width: 1024, Height: 1024,
			Quality: models.QualityMedium, Mode: models.ModeAsync,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	switch state {
	case models.JobStateRunning:
		st.MarkRunning(ctx, job.ID)
	case models.JobStateSucceeded:
		st.MarkRunning(ctx, job.ID)
		st.MarkSucceeded(ctx, job.ID, "results/"+job.ID+"/image.png", models.GenerationMeta{ModelID: "sd-v1"})
	case models.JobStateFailed:
		st.MarkFailed(ctx, job.ID, "WORKER_ERROR", "boom")
	}
	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	return got
}

func getReq(jobID, userID string, scopes ...string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/generations/"+jobID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobID", jobID)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = mw.SetUserID(ctx, userID)
	if len(scopes) > 0 {
		ctx = mw.SetScopes(ctx, scopes)
	}
	return r.WithContext(ctx)
}

func TestGetJobHandler_OwnerSeesJob(t *testing.T) {
	st := store.NewMemoryStore()
	job := storedJob(t, st, "user-1", models.JobStateRunning)
	h := NewGetJobHandler(st, cache.NewMemoryCache(), fixedSigner{})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, getReq(job.ID, "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeEnvelope(t, rec)
	if data["state"] != models.JobStateRunning {
		t.Errorf("unexpected state: %v", data["state"])
	}
	if data["wait_estimate"] == "" {
		t.Error("running job should carry a wait estimate")
	}
}

func TestGetJobHandler_SucceededCarriesDownloadURL(t *testing.T) {
	st := store.NewMemoryStore()
	ca := cache.NewMemoryCache()
	job := storedJob(t, st, "user-1", models.JobStateSucceeded)
	h := NewGetJobHandler(st, ca, fixedSigner{url: "http://x/signed"})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, getReq(job.ID, "user-1"))

	data := decodeEnvelope(t, rec)
	if data["download_url"] != "http://x/signed" {
		t.Errorf("expected signed URL, got %v", data["download_url"])
	}
	meta, ok := data["metadata"].(map[string]any)
	if !ok || meta["model_id"] != "sd-v1" {
		t.Errorf("expected generation metadata, got %v", data["metadata"])
	}

	// Terminal state backfilled into the cache.
	state, hit, _ := ca.GetJobState(context.Background(), job.ID)
	if !hit || state != models.JobStateSucceeded {
		t.Errorf("expected cache backfill, got hit=%v state=%q", hit, state)
	}
}

func TestGetJobHandler_FailedCarriesError(t *testing.T) {
	st := store.NewMemoryStore()
	job := storedJob(t, st, "user-1", models.JobStateFailed)
	h := NewGetJobHandler(st, cache.NewMemoryCache(), fixedSigner{})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, getReq(job.ID, "user-1"))

	data := decodeEnvelope(t, rec)
	if data["error_code"] != "WORKER_ERROR" {
		t.Errorf("unexpected error_code: %v", data["error_code"])
	}
	if _, ok := data["download_url"]; ok {
		t.Error("failed job must not carry a download URL")
	}
}

func TestGetJobHandler_NotFound(t *testing.T) {
	h := NewGetJobHandler(store.NewMemoryStore(), cache.NewMemoryCache(), fixedSigner{})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, getReq(jobid.New(), "user-1"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	code, _ := decodeError(t, rec)
	if code != "JOB_NOT_FOUND" {
		t.Errorf("unexpected code: %s", code)
	}
}

func TestGetJobHandler_MalformedID(t *testing.T) {
	h := NewGetJobHandler(store.NewMemoryStore(), cache.NewMemoryCache(), fixedSigner{})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, getReq("not-a-job-id", "user-1"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetJobHandler_NonOwnerForbidden(t *testing.T) {
	st := store.NewMemoryStore()
	job := storedJob(t, st, "user-1", models.JobStateRunning)
	h := NewGetJobHandler(st, cache.NewMemoryCache(), fixedSigner{})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, getReq(job.ID, "user-2"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetJobHandler_AdminSeesAnyJob(t *testing.T) {
	st := store.NewMemoryStore()
	job := storedJob(t, st, "user-1", models.JobStateRunning)
	h := NewGetJobHandler(st, cache.NewMemoryCache(), fixedSigner{})
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, getReq(job.ID, "admin-user", "admin"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
