package worker_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/obvyai/imagine/internal/worker"
	"github.com/obvyai/imagine/internal/worker/mock"
	"github.com/obvyai/imagine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() worker.Request {
	seed := int64(7)
	return worker.Request{
		JobID: "01hq8xample0000000000000000",
		Params: models.GenerationParams{
			Prompt:         "a heron at dawn",
			NegativePrompt: "blurry",
			Steps:          25,
			Guidance:       8.0,
			Width:          768,
			Height:         768,
			Seed:           &seed,
			Quality:        models.QualityHigh,
			Mode:           models.ModeSync,
		},
	}
}

func TestInvokeSync_Success(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"generated_image": base64.StdEncoding.EncodeToString(mock.ImageStub()),
			"metadata": map[string]any{
				"generation_time_seconds": 3.4,
				"model_id":                "sd-v1",
				"device":                  "cuda",
			},
		})
	}))
	defer srv.Close()

	inv := worker.NewHTTPInvoker(srv.URL, srv.Client())
	res, err := inv.InvokeSync(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "/invocations", gotPath)
	assert.Equal(t, mock.ImageStub(), res.ImagePNG)
	assert.Equal(t, "sd-v1", res.Meta.ModelID)

	// Wire format: prompt under inputs, flat parameter object.
	assert.Equal(t, "a heron at dawn", gotBody["inputs"])
	params := gotBody["parameters"].(map[string]any)
	assert.Equal(t, float64(25), params["num_inference_steps"])
	assert.Equal(t, 8.0, params["guidance_scale"])
	assert.Equal(t, float64(7), params["seed"])
	assert.Equal(t, "blurry", params["negative_prompt"])
}

func TestInvokeSync_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := worker.NewHTTPInvoker(srv.URL, srv.Client())
	_, err := inv.InvokeSync(context.Background(), testRequest())
	assert.ErrorIs(t, err, worker.ErrWorkerFailure)
}

func TestInvokeSync_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	inv := worker.NewHTTPInvoker(srv.URL, srv.Client())
	_, err := inv.InvokeSync(context.Background(), testRequest())
	assert.ErrorIs(t, err, worker.ErrPoolUnavailable)
}

func TestInvokeSync_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect; otherwise r.Context() is never canceled and
		// srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	inv := worker.NewHTTPInvoker(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := inv.InvokeSync(ctx, testRequest())
	assert.ErrorIs(t, err, worker.ErrInvokeTimeout)
}

func TestInvokeSync_Unreachable(t *testing.T) {
	inv := worker.NewHTTPInvoker("http://127.0.0.1:1", &http.Client{})
	_, err := inv.InvokeSync(context.Background(), testRequest())
	assert.ErrorIs(t, err, worker.ErrPoolUnavailable)
}

func TestInvokeSync_MalformedImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"generated_image": "not base64!!"})
	}))
	defer srv.Close()

	inv := worker.NewHTTPInvoker(srv.URL, srv.Client())
	_, err := inv.InvokeSync(context.Background(), testRequest())
	assert.ErrorIs(t, err, worker.ErrWorkerFailure)
}

func TestInvokeAsync_Success(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]any{"output_location": "async-output/abc"})
	}))
	defer srv.Close()

	inv := worker.NewHTTPInvoker(srv.URL, srv.Client())
	ack, err := inv.InvokeAsync(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "/invocations-async", gotPath)
	assert.Equal(t, "async-output/abc", ack.OutputLocation)
}

func TestInvokeAsync_MissingLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	inv := worker.NewHTTPInvoker(srv.URL, srv.Client())
	_, err := inv.InvokeAsync(context.Background(), testRequest())
	assert.ErrorIs(t, err, worker.ErrWorkerFailure)
}
