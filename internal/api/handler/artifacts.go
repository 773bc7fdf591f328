package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/obvyai/imagine/internal/api/response"
	"github.com/obvyai/imagine/internal/artifact"
)

// SignatureVerifier checks a signed artifact URL's signature and expiry.
type SignatureVerifier interface {
	Verify(key string, expires int64, sig string) error
}

// NewArtifactHandler returns an http.HandlerFunc for GET /api/v1/artifacts/*.
// Access is granted by the URL signature alone; no API key is required, which
// is what lets download links be pasted into a browser or an <img> tag.
func NewArtifactHandler(verifier SignatureVerifier, artifacts artifact.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		q := r.URL.Query()
		expires, err := strconv.ParseInt(q.Get("expires"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusForbidden, "INVALID_SIGNATURE",
				"Missing or malformed signature parameters", nil)
			return
		}

		switch err := verifier.Verify(key, expires, q.Get("sig")); {
		case errors.Is(err, artifact.ErrLinkExpired):
			response.Error(w, http.StatusGone, "LINK_EXPIRED",
				"This download link has expired", nil)
			return
		case err != nil:
			response.Error(w, http.StatusForbidden, "INVALID_SIGNATURE",
				"Invalid artifact signature", nil)
			return
		}

		data, err := artifacts.Read(r.Context(), key)
		if errors.Is(err, artifact.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "ARTIFACT_NOT_FOUND",
				"Artifact not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to read artifact", nil)
			return
		}

		w.Header().Set("Content-Type", contentTypeFor(key))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "private, max-age=300")
		w.Write(data)
	}
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
