package handler

import (
	"net/http"

	"github.com/obvyai/imagine/internal/api/response"
)

type parameterRange struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Step    float64 `json:"step,omitempty"`
}

type modelView struct {
	ID         string                    `json:"id"`
	Modes      []string                  `json:"modes"`
	Qualities  []string                  `json:"qualities"`
	Parameters map[string]parameterRange `json:"parameters"`
}

// NewModelsHandler returns an http.HandlerFunc for GET /api/v1/models. The
// listing is static per deployment: one configured model and the admission
// bounds clients must satisfy.
func NewModelsHandler(modelID string) http.HandlerFunc {
	view := modelView{
		ID:        modelID,
		Modes:     []string{"sync", "async"},
		Qualities: []string{"low", "medium", "high"},
		Parameters: map[string]parameterRange{
			"steps":          {Min: 1, Max: 50, Default: 20, Step: 1},
			"guidance_scale": {Min: 1.0, Max: 20.0, Default: 7.5},
			"width":          {Min: 256, Max: 1024, Default: 1024, Step: 64},
			"height":         {Min: 256, Max: 1024, Default: 1024, Step: 64},
		},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, []modelView{view})
	}
}
