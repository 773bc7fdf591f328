package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/obvyai/imagine/internal/api/response"
	"github.com/obvyai/imagine/internal/reconcile"
	"github.com/obvyai/imagine/pkg/models"
)

// SignalProcessor applies a worker pool completion signal.
type SignalProcessor interface {
	OnSignal(ctx context.Context, sig models.CompletionSignal) error
}

// NewCompletionHandler returns an http.HandlerFunc for
// POST /api/v1/internal/completions, the callback the worker pool hits when
// an async invocation finishes. It is authenticated by a shared token, not
// an API key: the pool is infrastructure, not a user.
func NewCompletionHandler(token string, rec SignalProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Callback-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN",
				"Missing or invalid callback token", nil)
			return
		}

		var sig models.CompletionSignal
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if sig.JobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id is required", nil)
			return
		}
		if sig.Outcome != models.OutcomeSuccess && sig.Outcome != models.OutcomeError {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"outcome must be one of success, error", nil)
			return
		}

		err := rec.OnSignal(r.Context(), sig)
		switch {
		case err == nil:
			// Duplicates land here too; at-least-once delivery means the
			// pool retries anything but a 2xx.
			response.JSON(w, map[string]string{"status": "processed"})
		case errors.Is(err, reconcile.ErrUnknownJob):
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
				"Signal references an unknown job", nil)
		case errors.Is(err, reconcile.ErrNotRunning):
			response.Error(w, http.StatusConflict, "JOB_NOT_RUNNING",
				"Job has not been dispatched", nil)
		default:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to process completion signal", nil)
		}
	}
}
