package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/obvyai/imagine/internal/api/middleware"
	"github.com/obvyai/imagine/internal/api/response"
	"github.com/obvyai/imagine/internal/cache"
	"github.com/obvyai/imagine/internal/store"
	"github.com/obvyai/imagine/pkg/jobid"
)

const stateCacheTTL = 30 * time.Minute

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/generations/{jobID}.
// Non-owners without the admin scope get 403 for jobs that exist and 404 for
// jobs that don't, so probing IDs still reveals which ones are real — callers
// that must not leak existence should front this with per-user ID spaces.
func NewGetJobHandler(st store.Store, ca cache.Cache, signer URLSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user identity", nil)
			return
		}

		id := chi.URLParam(r, "jobID")
		if !jobid.Valid(id) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}

		job, err := st.GetJob(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load job", nil)
			return
		}

		if job.UserID != userID && !mw.Elevated(r) {
			response.Error(w, http.StatusForbidden, "FORBIDDEN",
				"You do not have access to this job", nil)
			return
		}

		// Backfill the state cache for terminal jobs; the dispatcher and
		// reconciler write it on transition, but a crash between the store
		// write and the cache write can leave it stale.
		if job.Terminal() {
			if cached, hit, _ := ca.GetJobState(r.Context(), job.ID); !hit || cached != job.State {
				ca.SetJobState(r.Context(), job.ID, job.State, stateCacheTTL)
			}
		}

		response.JSON(w, newJobView(job, signer))
	}
}
