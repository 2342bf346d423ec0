package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/infrastructure/retry"
)

var jpeg = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

// newTestServer serves a healthy /health and delegates /ocr to handler
func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy"}`))
		case "/ocr":
			posts.Add(1)
			handler(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server, &posts
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://ocr.local/"})

	assert.Equal(t, "http://ocr.local", client.baseURL)
	assert.Equal(t, 30*time.Second, client.cfg.RequestTimeout)
	assert.Equal(t, 5*time.Second, client.cfg.HealthTimeout)
	assert.Equal(t, int64(10<<20), client.cfg.MaxImageBytes)
	assert.NotNil(t, client.rateLimiter)
	assert.True(t, client.allowed["image/png"])
}

func TestValidateImage(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://ocr.local", MaxImageBytes: 8})

	tests := []struct {
		name     string
		image    []byte
		mimeType string
		wantErr  bool
	}{
		{"valid jpeg", jpeg, "image/jpeg", false},
		{"mime with params", jpeg, "Image/JPEG; charset=binary", false},
		{"empty image", nil, "image/jpeg", true},
		{"unsupported type", jpeg, "application/pdf", true},
		{"too large", make([]byte, 9), "image/png", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.ValidateImage(tt.image, tt.mimeType)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.False(t, domain.IsRetryable(err))
		})
	}
}

func TestExtractText_ValidationFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Retry: fastRetry()})

	result, err := client.ExtractText(context.Background(), jpeg, "text/plain")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int32(0), calls.Load())
}

func TestExtractText_Success(t *testing.T) {
	server, posts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ocrRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image/jpeg", req.ImageType)
		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		assert.Equal(t, jpeg, decoded)

		total := 12.5
		price := 4.99
		writeJSON(w, ocrResponse{
			Success:    true,
			Text:       "WHOLE FOODS\nMILK 2%  4.99\nTOTAL 12.50",
			Confidence: 87,
			Merchant:   "Whole Foods",
			Total:      &total,
			Items: []ocrItem{
				{Name: "MILK 2%", Quantity: 1, TotalPrice: &price},
				{Name: "  "},
			},
		})
	})

	client := NewClient(ClientConfig{BaseURL: server.URL, Retry: fastRetry()})

	result, err := client.ExtractText(context.Background(), jpeg, "image/jpeg")

	require.NoError(t, err)
	assert.Equal(t, int32(1), posts.Load())
	assert.Contains(t, result.Text, "MILK")
	assert.InDelta(t, 0.87, result.Confidence, 1e-9)
	assert.Equal(t, "Whole Foods", result.Merchant)
	require.NotNil(t, result.Total)
	assert.Equal(t, 12.5, *result.Total)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "MILK 2%", result.Items[0].Name)
	assert.Equal(t, 4.99, result.Items[0].TotalPrice)
	assert.Equal(t, domain.OriginOCRService, result.Items[0].Origin)
}

func TestExtractText_Unhealthy(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			writeJSON(w, healthResponse{Status: "degraded"})
			return
		}
		posts.Add(1)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Retry: fastRetry()})

	result, err := client.ExtractText(context.Background(), jpeg, "image/png")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, int32(0), posts.Load())
}

func TestHealthCheck_SlowServiceIsUnavailable(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		posts.Add(1)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, HealthTimeout: 20 * time.Millisecond, Retry: fastRetry()})

	t.Run("probe deadline", func(t *testing.T) {
		result, err := client.ExtractText(context.Background(), jpeg, "image/jpeg")

		assert.Nil(t, result)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
		assert.NotErrorIs(t, err, domain.ErrTimeout)
		assert.True(t, domain.IsRetryable(err))
		assert.Equal(t, int32(0), posts.Load())
	})

	t.Run("caller cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := client.HealthCheck(ctx)

		assert.ErrorIs(t, err, domain.ErrCancelled)
	})
}

func TestExtractText_SkipHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, ocrResponse{Success: true, Text: "receipt text", Confidence: 0.9})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Retry: fastRetry(), SkipHealthCheck: true})

	result, err := client.ExtractText(context.Background(), jpeg, "image/png")

	require.NoError(t, err)
	assert.Equal(t, "receipt text", result.Text)
}

func TestExtractText_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		wantPosts int32
	}{
		{"bad request is not retried", http.StatusBadRequest, domain.ErrInvalidFormat, 1},
		{"too large is not retried", http.StatusRequestEntityTooLarge, domain.ErrTooLarge, 1},
		{"not found is not retried", http.StatusNotFound, domain.ErrProcessingFailed, 1},
		{"rate limited is retried", http.StatusTooManyRequests, domain.ErrRateLimited, 3},
		{"unavailable is retried", http.StatusServiceUnavailable, domain.ErrServiceUnavailable, 3},
		{"server error is retried", http.StatusInternalServerError, domain.ErrProcessingFailed, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, posts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("upstream says no"))
			})
			client := NewClient(ClientConfig{BaseURL: server.URL, Retry: fastRetry()})

			result, err := client.ExtractText(context.Background(), jpeg, "image/jpeg")

			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantPosts, posts.Load())

			var pe *domain.PipelineError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestExtractText_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	server, posts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, ocrResponse{Success: true, Text: "MILK 3.99", Confidence: 0.8})
	})

	client := NewClient(ClientConfig{BaseURL: server.URL, Retry: fastRetry()})

	result, err := client.ExtractText(context.Background(), jpeg, "image/jpeg")

	require.NoError(t, err)
	assert.Equal(t, "MILK 3.99", result.Text)
	assert.Equal(t, int32(3), posts.Load())
}

func TestExtractText_EmptyTextIsRetryableFailure(t *testing.T) {
	tests := []struct {
		name string
		resp ocrResponse
	}{
		{"unsuccessful", ocrResponse{Success: false, ErrorMessage: "blurry image"}},
		{"blank text", ocrResponse{Success: true, Text: "  \n "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, posts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.resp)
			})
			client := NewClient(ClientConfig{BaseURL: server.URL, Retry: fastRetry()})

			_, err := client.ExtractText(context.Background(), jpeg, "image/jpeg")

			assert.ErrorIs(t, err, domain.ErrProcessingFailed)
			assert.True(t, domain.IsRetryable(err))
			assert.Equal(t, int32(3), posts.Load())
		})
	}
}

func TestExtractText_InvalidJSON(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("invalid json"))
	})
	client := NewClient(ClientConfig{BaseURL: server.URL, Retry: retry.Policy{MaxAttempts: 1}})

	_, err := client.ExtractText(context.Background(), jpeg, "image/jpeg")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestExtractText_ContextCancelled(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client := NewClient(ClientConfig{BaseURL: server.URL, Retry: fastRetry()})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	result, err := client.ExtractText(ctx, jpeg, "image/jpeg")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestExtractText_PerAttemptTimeout(t *testing.T) {
	server, posts := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client := NewClient(ClientConfig{
		BaseURL:        server.URL,
		RequestTimeout: 20 * time.Millisecond,
		Retry:          fastRetry(),
	})

	_, err := client.ExtractText(context.Background(), jpeg, "image/jpeg")

	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, int32(3), posts.Load())
}

func TestReadLimitedBody(t *testing.T) {
	body, err := readLimitedBody(strings.NewReader(strings.Repeat("x", 200)), 100)

	require.NoError(t, err)
	assert.Len(t, body, 100)
}
