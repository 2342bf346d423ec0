// Package llm adapts any OpenAI-compatible chat completions endpoint
// (OpenAI, Groq, local gateways) to domain.ChatCompleter.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/infrastructure/retry"
	"github.com/emissionary/backend/internal/logger"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq
const GroqBaseURL = "https://api.groq.com/openai/v1"

// ClientConfig holds language model client configuration
type ClientConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second, <= 0 disables limiting
	RateBurst      int
	Retry          retry.Policy
}

// Client implements domain.ChatCompleter over go-openai
type Client struct {
	api         *openai.Client
	model       string
	timeout     time.Duration
	retry       retry.Policy
	rateLimiter *rate.Limiter
	log         zerolog.Logger
}

// NewClient creates a new chat completion client
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GroqBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.1-8b-instant"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	apiCfg.HTTPClient = &http.Client{}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		timeout:     cfg.RequestTimeout,
		retry:       cfg.Retry,
		rateLimiter: rate.NewLimiter(limit, cfg.RateBurst),
		log:         logger.WithComponent("llm"),
	}
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// Complete sends a system+user prompt and returns the first choice's content
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	policy := c.retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("Chat completion failed, retrying")
	}

	var content string
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		out, err := c.complete(ctx, chatReq)
		if err != nil {
			return err
		}
		content = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) complete(ctx context.Context, chatReq openai.ChatCompletionRequest) (string, error) {
	const op = "llm.complete"

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", classify(ctx, op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", classify(ctx, op, err)
	}

	if len(resp.Choices) == 0 {
		pe := domain.NewPipelineError(op, domain.KindProcessingFailed, errors.New("response has no choices"))
		pe.Retryable = false
		return "", pe
	}

	c.log.Debug().
		Str("model", chatReq.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("latency", time.Since(start)).
		Msg("Chat completion received")

	return resp.Choices[0].Message.Content, nil
}

// classify maps go-openai and transport errors to pipeline errors
func classify(ctx context.Context, op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return domain.ErrorFromStatus(op, apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		var msg string
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return domain.ErrorFromStatus(op, reqErr.HTTPStatusCode, msg)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.FromContextError(op, ctxErr)
	}
	if pe := domain.FromContextError(op, err); pe != nil {
		return pe
	}
	return domain.NewPipelineError(op, domain.KindServiceUnavailable, err)
}
