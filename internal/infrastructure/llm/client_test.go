package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/infrastructure/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		APIKey:         "test-key",
		BaseURL:        server.URL + "/v1",
		Model:          "test-model",
		RequestTimeout: time.Second,
		Retry:          retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	})
	return client, &calls
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: "test-model",
		Choices: []openai.ChatCompletionChoice{
			{Index: 0, Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{APIKey: "k"})

	assert.Equal(t, "llama-3.1-8b-instant", client.Model())
	assert.Equal(t, 30*time.Second, client.timeout)
	assert.NotNil(t, client.rateLimiter)
}

func TestComplete_Success(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, "be terse", req.Messages[0].Content)
		assert.Equal(t, "hello", req.Messages[1].Content)
		assert.Equal(t, 100, req.MaxTokens)

		writeJSON(w, http.StatusOK, chatResponse("hi there"))
	})

	out, err := client.Complete(context.Background(), domain.CompletionRequest{
		SystemPrompt: "be terse",
		UserPrompt:   "hello",
		Temperature:  0.1,
		MaxTokens:    100,
	})

	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_NoSystemPrompt(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[0].Role)
		writeJSON(w, http.StatusOK, chatResponse("ok"))
	})

	out, err := client.Complete(context.Background(), domain.CompletionRequest{UserPrompt: "ping"})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestComplete_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   error
		wantCalls int32
	}{
		{"rate limited is retried", http.StatusTooManyRequests, domain.ErrRateLimited, 3},
		{"unavailable is retried", http.StatusServiceUnavailable, domain.ErrServiceUnavailable, 3},
		{"server error is retried", http.StatusInternalServerError, domain.ErrProcessingFailed, 3},
		{"bad request is not retried", http.StatusBadRequest, domain.ErrInvalidFormat, 1},
		{"unauthorized is not retried", http.StatusUnauthorized, domain.ErrProcessingFailed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]any{
					"error": map[string]any{"message": "upstream says no", "type": "error"},
				})
			})

			_, err := client.Complete(context.Background(), domain.CompletionRequest{UserPrompt: "x"})

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestComplete_RetriesThenSucceeds(t *testing.T) {
	var n atomic.Int32
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"message": "busy"}})
			return
		}
		writeJSON(w, http.StatusOK, chatResponse("2.5"))
	})

	out, err := client.Complete(context.Background(), domain.CompletionRequest{UserPrompt: "x"})

	require.NoError(t, err)
	assert.Equal(t, "2.5", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_NoChoices(t *testing.T) {
	client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, openai.ChatCompletionResponse{ID: "empty"})
	})

	_, err := client.Complete(context.Background(), domain.CompletionRequest{UserPrompt: "x"})

	assert.ErrorIs(t, err, domain.ErrProcessingFailed)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := client.Complete(ctx, domain.CompletionRequest{UserPrompt: "x"})

	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestComplete_ConnectionRefused(t *testing.T) {
	client := NewClient(ClientConfig{
		APIKey:  "k",
		BaseURL: "http://127.0.0.1:1/v1",
		Retry:   retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})

	_, err := client.Complete(context.Background(), domain.CompletionRequest{UserPrompt: "x"})

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.True(t, domain.IsRetryable(err))
}
