// Package models contains shared data models used across the Imagine codebase.
package models

import "time"

const (
	JobStatePending   = "PENDING"
	JobStateRunning   = "RUNNING"
	JobStateSucceeded = "SUCCEEDED"
	JobStateFailed    = "FAILED"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

const (
	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

// GenerationParams is the validated, immutable parameter set for one
// generation request. It is persisted inside the Job and handed to the
// worker pool as-is.
type GenerationParams struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Steps          int     `json:"steps"`
	Guidance       float64 `json:"guidance_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           *int64  `json:"seed,omitempty"`
	Quality        string  `json:"quality"`
	Mode           string  `json:"mode"`
}

// GenerationMeta carries the metadata the worker pool reports alongside a
// produced image.
type GenerationMeta struct {
	GenerationTimeSeconds float64 `json:"generation_time_seconds"`
	ModelID               string  `json:"model_id"`
	Device                string  `json:"device,omitempty"`
	Timestamp             float64 `json:"timestamp,omitempty"`
}

// Job tracks a single image-generation request through its lifecycle.
// State moves one-way along PENDING -> RUNNING -> {SUCCEEDED, FAILED};
// terminal states are immutable and CompletedAt is set exactly when a
// terminal state is entered. The store owns the record — the dispatcher and
// reconciler hold only the ID and apply conditional updates.
type Job struct {
	ID             string           `db:"id"              json:"id"`
	UserID         string           `db:"user_id"         json:"user_id"`
	State          string           `db:"state"           json:"state"`
	Params         GenerationParams `db:"params"          json:"params"`
	OutputLocation string           `db:"output_location" json:"-"`
	ResultKey      string           `db:"result_key"      json:"-"`
	ErrorCode      *string          `db:"error_code"      json:"error_code,omitempty"`
	ErrorMessage   *string          `db:"error_message"   json:"error_message,omitempty"`
	Meta           *GenerationMeta  `db:"result_meta"     json:"metadata,omitempty"`
	CreatedAt      time.Time        `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"      json:"updated_at"`
	CompletedAt    *time.Time       `db:"completed_at"    json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.State == JobStateSucceeded || j.State == JobStateFailed
}
