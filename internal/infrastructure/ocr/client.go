package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/infrastructure/retry"
	"github.com/emissionary/backend/internal/logger"
)

const maxResponseBytes = 4 << 20

// DefaultAllowedMIMETypes are the image types accepted by the OCR service
var DefaultAllowedMIMETypes = []string{
	"image/jpeg", "image/jpg", "image/png", "image/webp", "image/heic",
}

// ClientConfig holds OCR client configuration
type ClientConfig struct {
	BaseURL          string
	RequestTimeout   time.Duration
	HealthTimeout    time.Duration
	MaxImageBytes    int64
	AllowedMIMETypes []string
	RateLimit        float64 // requests per second, <= 0 disables limiting
	RateBurst        int
	Retry            retry.Policy
	SkipHealthCheck  bool
}

// Client talks to the OCR service over HTTP
type Client struct {
	httpClient  *http.Client
	baseURL     string
	cfg         ClientConfig
	allowed     map[string]bool
	rateLimiter *rate.Limiter
	log         zerolog.Logger
}

// NewClient creates a new OCR client, filling unset config with defaults
func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 10 << 20
	}
	if len(cfg.AllowedMIMETypes) == 0 {
		cfg.AllowedMIMETypes = DefaultAllowedMIMETypes
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}

	allowed := make(map[string]bool, len(cfg.AllowedMIMETypes))
	for _, m := range cfg.AllowedMIMETypes {
		allowed[strings.ToLower(strings.TrimSpace(m))] = true
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		// per-call deadlines come from the context; no client-wide timeout
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		cfg:         cfg,
		allowed:     allowed,
		rateLimiter: rate.NewLimiter(limit, cfg.RateBurst),
		log:         logger.WithComponent("ocr"),
	}
}

// ocrRequest is the POST /ocr payload
type ocrRequest struct {
	Image     string `json:"image"`
	ImageType string `json:"image_type"`
}

// ocrResponse is the POST /ocr response body
type ocrResponse struct {
	Success      bool      `json:"success"`
	Text         string    `json:"text"`
	Confidence   float64   `json:"confidence"`
	Items        []ocrItem `json:"items,omitempty"`
	Merchant     string    `json:"merchant,omitempty"`
	Total        *float64  `json:"total,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

type ocrItem struct {
	Name       string   `json:"name"`
	Quantity   float64  `json:"quantity"`
	TotalPrice *float64 `json:"total_price"`
	Category   string   `json:"category"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// ValidateImage checks the preconditions of an OCR call without touching the network
func (c *Client) ValidateImage(image []byte, mimeType string) error {
	const op = "ocr.validate"

	if len(image) == 0 {
		return domain.ValidationErrorf(op, "image is empty")
	}
	mt := normalizeMIMEType(mimeType)
	if !c.allowed[mt] {
		return domain.ValidationErrorf(op, "unsupported image type %q", mimeType)
	}
	if int64(len(image)) > c.cfg.MaxImageBytes {
		return domain.ValidationErrorf(op, "image is %d bytes, limit is %d", len(image), c.cfg.MaxImageBytes)
	}
	return nil
}

// HealthCheck probes GET /health with a short timeout
func (c *Client) HealthCheck(ctx context.Context) error {
	const op = "ocr.health"

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return domain.NewPipelineError(op, domain.KindProcessingFailed, err)
	}
	req.Header.Set("User-Agent", "Emissionary/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A probe that runs out its own deadline means the service is not
		// answering; only the caller's context ends in a timeout or cancel.
		if ctx.Err() == nil && errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			return domain.NewPipelineError(op, domain.KindServiceUnavailable,
				fmt.Errorf("no health response within %s: %w", c.cfg.HealthTimeout, err))
		}
		return transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.NewPipelineError(op, domain.KindServiceUnavailable, fmt.Errorf("health status %d", resp.StatusCode))
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return domain.NewPipelineError(op, domain.KindServiceUnavailable, fmt.Errorf("decode health: %w", err))
	}
	if !strings.EqualFold(health.Status, "healthy") {
		return domain.NewPipelineError(op, domain.KindServiceUnavailable, fmt.Errorf("service reports %q", health.Status))
	}
	return nil
}

// ExtractText validates the image, probes service health and posts the image
// for recognition, retrying retryable failures.
func (c *Client) ExtractText(ctx context.Context, image []byte, mimeType string) (*domain.OCRResult, error) {
	if err := c.ValidateImage(image, mimeType); err != nil {
		return nil, err
	}

	if !c.cfg.SkipHealthCheck {
		if err := c.HealthCheck(ctx); err != nil {
			c.log.Warn().Err(err).Msg("OCR service failed health check")
			return nil, err
		}
	}

	payload, err := json.Marshal(ocrRequest{
		Image:     base64.StdEncoding.EncodeToString(image),
		ImageType: normalizeMIMEType(mimeType),
	})
	if err != nil {
		return nil, domain.NewPipelineError("ocr.extract", domain.KindProcessingFailed, err)
	}

	policy := c.cfg.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("OCR request failed, retrying")
	}

	var result *domain.OCRResult
	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		res, err := c.post(ctx, payload)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		c.log.Error().Err(err).Msg("OCR extraction failed")
		return nil, err
	}

	c.log.Info().
		Int("chars", len(result.Text)).
		Float64("confidence", result.Confidence).
		Msg("OCR extraction complete")
	return result, nil
}

// post performs a single POST /ocr attempt
func (c *Client) post(ctx context.Context, payload []byte) (*domain.OCRResult, error) {
	const op = "ocr.extract"

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, transportError(ctx, op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewPipelineError(op, domain.KindProcessingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Emissionary/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := readLimitedBody(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.ErrorFromStatus(op, resp.StatusCode, string(body))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, domain.NewPipelineError(op, domain.KindProcessingFailed, fmt.Errorf("decode response: %w", err))
	}

	if !parsed.Success || strings.TrimSpace(parsed.Text) == "" {
		msg := parsed.ErrorMessage
		if msg == "" {
			msg = "no text recognized"
		}
		return nil, domain.NewPipelineError(op, domain.KindProcessingFailed, errors.New(msg))
	}

	return toResult(&parsed), nil
}

// transportError classifies errors from the HTTP round trip
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.FromContextError(op, ctxErr)
	}
	if pe := domain.FromContextError(op, err); pe != nil {
		return pe
	}
	return domain.NewPipelineError(op, domain.KindServiceUnavailable, err)
}

// readLimitedBody reads at most limit bytes from r
func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

func normalizeMIMEType(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.Index(m, ";"); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	return m
}
