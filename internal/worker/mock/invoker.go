// Package mock provides worker.Invoker test doubles.
package mock

import (
	"context"

	"github.com/obvyai/imagine/internal/worker"
	"github.com/obvyai/imagine/pkg/models"
)

// MockInvoker satisfies worker.Invoker for testing.
type MockInvoker struct {
	Name_     string
	SyncFunc  func(ctx context.Context, req worker.Request) (*worker.Result, error)
	AsyncFunc func(ctx context.Context, req worker.Request) (*worker.Ack, error)
}

func (m *MockInvoker) Name() string { return m.Name_ }

func (m *MockInvoker) InvokeSync(ctx context.Context, req worker.Request) (*worker.Result, error) {
	if m.SyncFunc != nil {
		return m.SyncFunc(ctx, req)
	}
	return &worker.Result{}, nil
}

func (m *MockInvoker) InvokeAsync(ctx context.Context, req worker.Request) (*worker.Ack, error) {
	if m.AsyncFunc != nil {
		return m.AsyncFunc(ctx, req)
	}
	return &worker.Ack{}, nil
}

// pngStub is a 1x1 PNG, enough for tests that persist a result artifact.
var pngStub = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// ImageStub returns the PNG bytes the success mock produces.
func ImageStub() []byte {
	return append([]byte(nil), pngStub...)
}

// NewMockInvoker returns a MockInvoker with successful default responses.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		Name_: "mock",
		SyncFunc: func(_ context.Context, _ worker.Request) (*worker.Result, error) {
			return &worker.Result{
				ImagePNG: ImageStub(),
				Meta: models.GenerationMeta{
					GenerationTimeSeconds: 1.5,
					ModelID:               "mock-model-v1",
					Device:                "cpu",
				},
			}, nil
		},
		AsyncFunc: func(_ context.Context, req worker.Request) (*worker.Ack, error) {
			return &worker.Ack{OutputLocation: "async-output/" + req.JobID}, nil
		},
	}
}

// NewFailingInvoker returns a MockInvoker that always returns the given error.
func NewFailingInvoker(err error) *MockInvoker {
	return &MockInvoker{
		Name_: "mock-failing",
		SyncFunc: func(_ context.Context, _ worker.Request) (*worker.Result, error) {
			return nil, err
		},
		AsyncFunc: func(_ context.Context, _ worker.Request) (*worker.Ack, error) {
			return nil, err
		},
	}
}

// NewTimeoutInvoker returns a MockInvoker that never responds: it blocks
// until the context is cancelled, then reports a timeout.
func NewTimeoutInvoker() *MockInvoker {
	return &MockInvoker{
		Name_: "mock-timeout",
		SyncFunc: func(ctx context.Context, _ worker.Request) (*worker.Result, error) {
			<-ctx.Done()
			return nil, worker.ErrInvokeTimeout
		},
		AsyncFunc: func(ctx context.Context, _ worker.Request) (*worker.Ack, error) {
			<-ctx.Done()
			return nil, worker.ErrInvokeTimeout
		},
	}
}

// Compile-time check that MockInvoker implements Invoker.
var _ worker.Invoker = (*MockInvoker)(nil)
