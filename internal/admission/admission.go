// Package admission validates generation requests and creates Jobs. It is
// the only component that writes new job records; everything downstream
// mutates state through conditional updates.
package admission

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/obvyai/imagine/internal/store"
	"github.com/obvyai/imagine/pkg/jobid"
	"github.com/obvyai/imagine/pkg/models"
)

const (
	maxPromptLen = 1000

	minSteps     = 1
	maxSteps     = 50
	defaultSteps = 20

	minGuidance     = 1.0
	maxGuidance     = 20.0
	defaultGuidance = 7.5

	minDimension     = 256
	maxDimension     = 1024
	defaultDimension = 1024

	maxSeed = int64(1)<<31 - 1
)

// Request is the raw, untrusted parameter set from a submit call. Optional
// numeric fields are pointers so "absent" and "zero" stay distinguishable.
type Request struct {
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Steps          *int     `json:"steps"`
	Guidance       *float64 `json:"guidance_scale"`
	Width          *int     `json:"width"`
	Height         *int     `json:"height"`
	Seed           *int64   `json:"seed"`
	Quality        string   `json:"quality"`
	Mode           string   `json:"mode"`
}

// FieldViolation describes one invalid request field.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates all field violations for a rejected request.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Field
	}
	return fmt.Sprintf("invalid request: %s", strings.Join(fields, ", "))
}

// Service admits generation requests.
type Service struct {
	store store.Store
}

// NewService creates a new admission Service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Submit validates raw parameters and, if they pass, persists exactly one
// new PENDING job with a freshly generated time-ordered identifier. On
// validation failure it returns a *ValidationError and performs no writes.
func (s *Service) Submit(ctx context.Context, userID string, req Request) (*models.Job, error) {
	params, verr := Validate(req)
	if verr != nil {
		return nil, verr
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        jobid.New(),
		UserID:    userID,
		State:     models.JobStatePending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	return job, nil
}

// Validate checks raw parameters against the admission rules and returns the
// normalized parameter set, or a *ValidationError listing every violation.
func Validate(req Request) (models.GenerationParams, *ValidationError) {
	var violations []FieldViolation
	add := func(field, message string) {
		violations = append(violations, FieldViolation{Field: field, Message: message})
	}

	// Length limits count characters, not bytes; multi-byte prompts are
	// common and must not lose headroom to encoding.
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		add("prompt", "prompt must not be empty")
	} else if utf8.RuneCountInString(prompt) > maxPromptLen {
		add("prompt", fmt.Sprintf("prompt must be at most %d characters", maxPromptLen))
	}

	negative := strings.TrimSpace(req.NegativePrompt)
	if utf8.RuneCountInString(negative) > maxPromptLen {
		add("negative_prompt", fmt.Sprintf("negative_prompt must be at most %d characters", maxPromptLen))
	}

	steps := defaultSteps
	if req.Steps != nil {
		steps = *req.Steps
		if steps < minSteps || steps > maxSteps {
			add("steps", fmt.Sprintf("steps must be between %d and %d", minSteps, maxSteps))
		}
	}

	guidance := defaultGuidance
	if req.Guidance != nil {
		guidance = *req.Guidance
		if guidance < minGuidance || guidance > maxGuidance {
			add("guidance_scale", fmt.Sprintf("guidance_scale must be between %.1f and %.1f", minGuidance, maxGuidance))
		}
	}

	width := validateDimension("width", req.Width, add)
	height := validateDimension("height", req.Height, add)

	if req.Seed != nil && (*req.Seed < 0 || *req.Seed > maxSeed) {
		add("seed", fmt.Sprintf("seed must be between 0 and %d", maxSeed))
	}

	quality := req.Quality
	if quality == "" {
		quality = models.QualityMedium
	}
	switch quality {
	case models.QualityLow, models.QualityMedium, models.QualityHigh:
	default:
		add("quality", "quality must be one of low, medium, high")
	}

	mode := req.Mode
	if mode == "" {
		mode = models.ModeAsync
	}
	switch mode {
	case models.ModeSync, models.ModeAsync:
	default:
		add("mode", "mode must be one of sync, async")
	}

	if len(violations) > 0 {
		return models.GenerationParams{}, &ValidationError{Violations: violations}
	}

	return models.GenerationParams{
		Prompt:         prompt,
		NegativePrompt: negative,
		Steps:          steps,
		Guidance:       guidance,
		Width:          width,
		Height:         height,
		Seed:           req.Seed,
		Quality:        quality,
		Mode:           mode,
	}, nil
}

func validateDimension(field string, value *int, add func(field, message string)) int {
	if value == nil {
		return defaultDimension
	}
	v := *value
	if v < minDimension || v > maxDimension {
		add(field, fmt.Sprintf("%s must be between %d and %d", field, minDimension, maxDimension))
		return v
	}
	if v%64 != 0 {
		add(field, fmt.Sprintf("%s must be a multiple of 64", field))
	}
	return v
}
