package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/obvyai/imagine/internal/api/response"
	"github.com/obvyai/imagine/internal/cache"
	"github.com/obvyai/imagine/internal/store"
)

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
func NewHealthHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbStatus, redisStatus := "up", "up"
		if err := st.Ping(ctx); err != nil {
			dbStatus = "down"
		}
		if err := ca.Ping(ctx); err != nil {
			redisStatus = "down"
		}

		body := map[string]string{
			"status":   "ok",
			"database": dbStatus,
			"redis":    redisStatus,
		}
		if dbStatus != "up" || redisStatus != "up" {
			body["status"] = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more dependencies are unavailable", body)
			return
		}
		response.JSON(w, body)
	}
}
