package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/obvyai/imagine/internal/admission"
	mw "github.com/obvyai/imagine/internal/api/middleware"
	"github.com/obvyai/imagine/internal/api/response"
	"github.com/obvyai/imagine/internal/dispatch"
	"github.com/obvyai/imagine/pkg/models"
)

// Submitter validates and persists a new generation job.
type Submitter interface {
	Submit(ctx context.Context, userID string, req admission.Request) (*models.Job, error)
}

// JobDispatcher hands an admitted job to the worker pool.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) (*dispatch.Result, error)
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/generations.
// Sync requests block until the job is terminal; async requests return 202
// as soon as the job is admitted and handed off (or queued).
func NewSubmitHandler(adm Submitter, disp JobDispatcher, signer URLSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user identity", nil)
			return
		}

		var req admission.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := adm.Submit(r.Context(), userID, req)
		if err != nil {
			var verr *admission.ValidationError
			if errors.As(err, &verr) {
				response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED",
					"One or more parameters are invalid", verr.Violations)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create job", nil)
			return
		}

		result, err := disp.Dispatch(r.Context(), job)
		if err != nil {
			if errors.Is(err, dispatch.ErrCapacityExceeded) {
				w.Header().Set("Retry-After", "30")
				response.Error(w, http.StatusServiceUnavailable, "CAPACITY_EXCEEDED",
					"All workers are busy, please retry shortly", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to dispatch job", nil)
			return
		}

		if job.Params.Mode == models.ModeSync {
			response.JSON(w, newJobView(result.Job, signer))
			return
		}
		// The 202 reflects the job as admitted: clients see PENDING and
		// poll. Whether dispatch already flipped it to RUNNING is not
		// observable at submit time.
		response.Accepted(w, newJobView(job, signer))
	}
}
