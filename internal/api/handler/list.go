package handler

import (
	"net/http"
	"strconv"

	mw "github.com/obvyai/imagine/internal/api/middleware"
	"github.com/obvyai/imagine/internal/api/response"
	"github.com/obvyai/imagine/internal/store"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/generations.
// Callers see their own jobs newest-first; elevated keys may pass ?user_id=
// to inspect another user's jobs.
func NewListJobsHandler(st store.Store, signer URLSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user identity", nil)
			return
		}

		if other := r.URL.Query().Get("user_id"); other != "" && other != userID {
			if !mw.Elevated(r) {
				response.Error(w, http.StatusForbidden, "FORBIDDEN",
					"Listing another user's jobs requires the admin scope", nil)
				return
			}
			userID = other
		}

		page := queryInt(r, "page", 1)
		if page < 1 {
			page = 1
		}
		limit := queryInt(r, "limit", defaultPageLimit)
		if limit < 1 {
			limit = defaultPageLimit
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		jobs, total, err := st.ListJobsByUser(r.Context(), userID, page, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list jobs", nil)
			return
		}

		views := make([]jobView, 0, len(jobs))
		for _, job := range jobs {
			views = append(views, newJobView(job, signer))
		}

		response.Collection(w, views, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
