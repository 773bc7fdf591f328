package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/obvyai/imagine/pkg/models"
)

// HTTPInvoker talks to an inference endpoint over plain HTTP. The wire
// format mirrors the serving convention of diffusion model servers: a
// prompt under "inputs" plus a flat parameter object, answered with a
// base64 PNG and generation metadata.
type HTTPInvoker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPInvoker creates an invoker against baseURL. The client must not
// set its own timeout; sync callers bound invocations via context.
func NewHTTPInvoker(baseURL string, client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPInvoker{baseURL: baseURL, client: client}
}

func (p *HTTPInvoker) Name() string { return "http" }

type invokePayload struct {
	JobID      string            `json:"job_id,omitempty"`
	Inputs     string            `json:"inputs"`
	Parameters invokeParameters  `json:"parameters"`
}

type invokeParameters struct {
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Steps          int     `json:"num_inference_steps"`
	Guidance       float64 `json:"guidance_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           *int64  `json:"seed,omitempty"`
}

type syncResponse struct {
	GeneratedImage string                `json:"generated_image"`
	Metadata       models.GenerationMeta `json:"metadata"`
}

type asyncResponse struct {
	OutputLocation string `json:"output_location"`
}

func (p *HTTPInvoker) InvokeSync(ctx context.Context, req Request) (*Result, error) {
	body, err := p.post(ctx, p.baseURL+"/invocations", req)
	if err != nil {
		return nil, err
	}

	var resp syncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrWorkerFailure, err)
	}
	img, err := base64.StdEncoding.DecodeString(resp.GeneratedImage)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrWorkerFailure, err)
	}
	if len(img) == 0 {
		return nil, fmt.Errorf("%w: empty image in response", ErrWorkerFailure)
	}
	return &Result{ImagePNG: img, Meta: resp.Metadata}, nil
}

func (p *HTTPInvoker) InvokeAsync(ctx context.Context, req Request) (*Ack, error) {
	body, err := p.post(ctx, p.baseURL+"/invocations-async", req)
	if err != nil {
		return nil, err
	}

	var resp asyncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode ack: %v", ErrWorkerFailure, err)
	}
	if resp.OutputLocation == "" {
		return nil, fmt.Errorf("%w: ack missing output location", ErrWorkerFailure)
	}
	return &Ack{OutputLocation: resp.OutputLocation}, nil
}

func (p *HTTPInvoker) post(ctx context.Context, url string, req Request) ([]byte, error) {
	payload, err := json.Marshal(invokePayload{
		JobID:  req.JobID,
		Inputs: req.Params.Prompt,
		Parameters: invokeParameters{
			NegativePrompt: req.Params.NegativePrompt,
			Steps:          req.Params.Steps,
			Guidance:       req.Params.Guidance,
			Width:          req.Params.Width,
			Height:         req.Params.Height,
			Seed:           req.Params.Seed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode invocation: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build invocation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrInvokeTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrPoolUnavailable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 64<<20))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrInvokeTimeout
		}
		return nil, fmt.Errorf("%w: read response: %v", ErrWorkerFailure, err)
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return body, nil
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrWorkerFailure, httpResp.StatusCode, truncate(body, 200))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrPoolUnavailable, httpResp.StatusCode, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Invoker = (*HTTPInvoker)(nil)
