package handler

import (
	"time"

	"github.com/obvyai/imagine/pkg/models"
)

// jobView is the external representation of a job. The result is exposed as
// a time-limited signed download URL, never as inline bytes; non-terminal
// jobs carry a coarse wait estimate instead.
type jobView struct {
	ID           string                  `json:"id"`
	State        string                  `json:"state"`
	Params       models.GenerationParams `json:"params"`
	ErrorCode    *string                 `json:"error_code,omitempty"`
	ErrorMessage *string                 `json:"error_message,omitempty"`
	Metadata     *models.GenerationMeta  `json:"metadata,omitempty"`
	DownloadURL  string                  `json:"download_url,omitempty"`
	WaitEstimate string                  `json:"wait_estimate,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// URLSigner issues time-limited download URLs for stored artifacts.
type URLSigner interface {
	SignedURL(key string) string
}

func newJobView(job *models.Job, signer URLSigner) jobView {
	v := jobView{
		ID:           job.ID,
		State:        job.State,
		Params:       job.Params,
		ErrorCode:    job.ErrorCode,
		ErrorMessage: job.ErrorMessage,
		Metadata:     job.Meta,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.State == models.JobStateSucceeded && job.ResultKey != "" && signer != nil {
		v.DownloadURL = signer.SignedURL(job.ResultKey)
	}
	if !job.Terminal() {
		v.WaitEstimate = waitEstimate(time.Since(job.CreatedAt))
	}
	return v
}

// waitEstimate maps job age to a coarse human guess. Fresh jobs quote the
// full queue-plus-generation window; the estimate tightens as the job ages
// and turns into a warning once it has clearly overstayed.
func waitEstimate(age time.Duration) string {
	switch {
	case age < 30*time.Second:
		return "60-120 seconds"
	case age < 2*time.Minute:
		return "30-90 seconds"
	case age < 5*time.Minute:
		return "any moment now"
	default:
		return "longer than expected"
	}
}
