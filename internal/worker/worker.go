// Package worker defines the call contract with the external inference pool.
// Model loading, GPU scheduling, and batching live entirely behind this
// boundary — the orchestrator only sees invoke calls, acknowledgments, and a
// small error taxonomy.
package worker

import (
	"context"
	"errors"

	"github.com/obvyai/imagine/pkg/models"
)

var (
	// ErrPoolUnavailable means the worker pool could not be reached or
	// rejected the invocation outright.
	ErrPoolUnavailable = errors.New("worker pool unavailable")
	// ErrInvokeTimeout means a synchronous invocation exceeded its bound.
	// Kept distinct from ErrWorkerFailure so callers can classify the
	// failure.
	ErrInvokeTimeout = errors.New("worker invocation timeout")
	// ErrWorkerFailure means the pool accepted the call but inference
	// failed.
	ErrWorkerFailure = errors.New("worker reported failure")
)

// Request is the unit of work handed to the pool. Immutable once built.
type Request struct {
	JobID  string
	Params models.GenerationParams
}

// Result is a completed synchronous invocation: raw image bytes plus the
// metadata the pool reports about the generation.
type Result struct {
	ImagePNG []byte
	Meta     models.GenerationMeta
}

// Ack acknowledges an asynchronous invocation. OutputLocation is the opaque
// staging location where the pool will place its output; no ordering or
// timing guarantee is made — completion arrives later as a signal.
type Ack struct {
	OutputLocation string
}

// Invoker is the worker pool interface. Never call a pool transport
// directly — always inject this interface.
type Invoker interface {
	// InvokeSync blocks until the pool responds or ctx expires. Callers
	// bound the call with a deadline; expiry surfaces as ErrInvokeTimeout.
	InvokeSync(ctx context.Context, req Request) (*Result, error)
	// InvokeAsync hands the request to the pool and returns immediately.
	InvokeAsync(ctx context.Context, req Request) (*Ack, error)
	// Name returns the pool identifier for logging.
	Name() string
}
