// Package app wires configuration into a ready-to-use receipt pipeline.
// The HTTP server and the CLI share it.
package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/emissionary/backend/config"
	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/infrastructure/cache"
	"github.com/emissionary/backend/internal/infrastructure/dataset"
	"github.com/emissionary/backend/internal/infrastructure/llm"
	"github.com/emissionary/backend/internal/infrastructure/ocr"
	"github.com/emissionary/backend/internal/infrastructure/retry"
	"github.com/emissionary/backend/internal/logger"
	"github.com/emissionary/backend/internal/usecase"
)

// App holds the long-lived pipeline components
type App struct {
	Config  *config.Config
	Store   *dataset.Store
	Cache   *cache.MemoryCache
	OCR     *ocr.Client
	LLM     *llm.Client // nil when no API key is configured
	Service *usecase.ReceiptService
}

// New loads the dataset and builds the pipeline from cfg
func New(cfg *config.Config) (*App, error) {
	log := logger.WithComponent("app")

	store, err := dataset.Load(cfg.Dataset.Path)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	log.Info().
		Str("path", cfg.Dataset.Path).
		Int("records", store.Len()).
		Msg("Reference dataset loaded")

	policy := RetryPolicy(cfg.Pipeline)

	ocrClient := ocr.NewClient(ocr.ClientConfig{
		BaseURL:         cfg.OCR.BaseURL,
		RequestTimeout:  cfg.OCR.RequestTimeout,
		HealthTimeout:   cfg.OCR.HealthTimeout,
		MaxImageBytes:   cfg.OCR.MaxImageBytes,
		RateLimit:       cfg.OCR.RateLimit,
		Retry:           policy,
		SkipHealthCheck: cfg.OCR.SkipHealthCheck,
	})

	memoryCache := cache.NewMemoryCache(cfg.Cache.CleanupInterval)

	var (
		llmClient *llm.Client
		completer domain.ChatCompleter
	)
	if cfg.LLM.Enabled() {
		llmClient = llm.NewClient(llm.ClientConfig{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			RequestTimeout: cfg.LLM.RequestTimeout,
			RateLimit:      cfg.LLM.RateLimit,
			Retry:          policy,
		})
		completer = llmClient
		log.Info().Str("model", llmClient.Model()).Str("base_url", cfg.LLM.BaseURL).Msg("Language model enabled")
	} else {
		log.Warn().Msg("No LLM API key configured; extraction and estimation use rule-based fallbacks")
	}

	service := usecase.NewReceiptService(ocrClient, completer, store, memoryCache, usecase.ReceiptServiceConfig{
		Workers: cfg.Pipeline.Workers,
		Quality: usecase.QualityConfig{
			MinScore:      cfg.Pipeline.MinQualityScore,
			MinTextLength: cfg.Pipeline.MinTextLength,
		},
		Extractor: usecase.ExtractorConfig{
			MaxInputChars: cfg.LLM.MaxInputChars,
			Temperature:   float32(cfg.LLM.Temperature),
			MaxTokens:     cfg.LLM.MaxTokens,
		},
		Match: usecase.MatchConfig{FuzzyThreshold: cfg.Pipeline.FuzzyThreshold},
		Estimator: usecase.EstimatorConfig{
			MaxFactor: cfg.Pipeline.MaxEmissionFactor,
			CacheTTL:  cfg.Cache.TTL,
		},
	})

	return &App{
		Config:  cfg,
		Store:   store,
		Cache:   memoryCache,
		OCR:     ocrClient,
		LLM:     llmClient,
		Service: service,
	}, nil
}

// RetryPolicy builds the shared retry policy for outbound calls
func RetryPolicy(cfg config.PipelineConfig) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.RetryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.RetryBaseDelay
	}
	if cfg.RetryMaxDelay > 0 {
		policy.MaxDelay = cfg.RetryMaxDelay
	}
	return policy
}

// LogConfig converts the config section into logger settings
func LogConfig(cfg config.LogConfig) logger.LogConfig {
	out := logger.DefaultConfig()
	if cfg.Level != "" {
		out.Level = cfg.Level
	}
	if cfg.Format != "" {
		out.Format = cfg.Format
	}
	if cfg.Output != "" {
		out.Output = cfg.Output
	}
	return out
}

// Close releases background resources
func (a *App) Close() {
	if a.Cache != nil {
		stats := a.Cache.Stats()
		log := logger.WithComponent("app")
		log.Info().
			Interface("cache", stats).
			Msg("Shutting down pipeline")
		a.Cache.Close()
	}
}

// Summary describes the wiring for startup logs
func (a *App) Summary(e *zerolog.Event) *zerolog.Event {
	return e.
		Str("ocr", a.Config.OCR.BaseURL).
		Bool("llm", a.LLM != nil).
		Int("dataset_records", a.Store.Len()).
		Int("workers", a.Config.Pipeline.Workers).
		Dur("cache_ttl", a.Config.Cache.TTL).
		Dur("retry_base", a.Config.Pipeline.RetryBaseDelay)
}
