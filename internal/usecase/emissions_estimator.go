package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/logger"
)

const (
	defaultMaxFactor        = 150.0
	defaultEstimateFactor   = 2.0
	estimateConfidence      = 0.7
	defaultedConfidence     = 0.5
	defaultEstimateCacheTTL = 24 * time.Hour
	estimateTemperature     = 0.1
	estimateMaxTokens       = 20
)

var (
	firstNumberRegex = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// co2Regex removes "CO2"/"CO2e" so its digit is never read as the answer
	co2Regex = regexp.MustCompile(`(?i)co2e?|co₂e?`)
)

const estimateSystemPrompt = `You are a food carbon footprint expert. Answer with a single number only.`

const estimatePromptTemplate = `Estimate the greenhouse gas emissions of producing 1 kg of "%s" (category: %s).
Typical values for %s are %s kg CO2e per kg.
Reply with one decimal number in kg CO2e per kg of food, nothing else.`

// EstimatorConfig holds emissions estimation settings
type EstimatorConfig struct {
	MaxFactor float64
	CacheTTL  time.Duration
}

// Estimate is a model-derived emission factor
type Estimate struct {
	FactorPerKg float64 `json:"factorPerKg"`
	Confidence  float64 `json:"confidence"`
	// Defaulted is set when the answer contained no number
	Defaulted bool `json:"defaulted"`
	Cached    bool `json:"-"`
}

// EmissionsEstimator asks the language model for an emission factor when the dataset has none
type EmissionsEstimator struct {
	llm       domain.ChatCompleter
	cache     domain.CacheRepository
	maxFactor float64
	cacheTTL  time.Duration
	log       zerolog.Logger
}

// NewEmissionsEstimator creates an estimator. cache may be nil.
func NewEmissionsEstimator(llm domain.ChatCompleter, cache domain.CacheRepository, cfg EstimatorConfig) *EmissionsEstimator {
	maxFactor := cfg.MaxFactor
	if maxFactor <= 0 {
		maxFactor = defaultMaxFactor
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultEstimateCacheTTL
	}
	return &EmissionsEstimator{
		llm:       llm,
		cache:     cache,
		maxFactor: maxFactor,
		cacheTTL:  ttl,
		log:       logger.WithComponent("emissions-estimator"),
	}
}

// Estimate returns the emission factor (kg CO2e per kg) of a canonical item name
func (e *EmissionsEstimator) Estimate(ctx context.Context, canonicalName, category string) (*Estimate, error) {
	const op = "estimate.emissions"

	category = NormalizeCategory(category)
	if category == "" {
		category = CategoryOther
	}

	key := estimateCacheKey(canonicalName, category)
	if cached, err := e.getFromCache(ctx, key); err == nil {
		cached.Cached = true
		return cached, nil
	}

	content, err := e.llm.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: estimateSystemPrompt,
		UserPrompt:   fmt.Sprintf(estimatePromptTemplate, canonicalName, category, category, AnchorRange(category)),
		Temperature:  estimateTemperature,
		MaxTokens:    estimateMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	factor, found := parseFactor(content)
	if !found {
		e.log.Debug().Str("item", canonicalName).Str("answer", content).Msg("No number in model answer, using default factor")
		return &Estimate{FactorPerKg: defaultEstimateFactor, Confidence: defaultedConfidence, Defaulted: true}, nil
	}

	if factor > e.maxFactor {
		return nil, domain.ValidationErrorf(op, "implausible factor %.2f for %q (max %.0f)", factor, canonicalName, e.maxFactor)
	}

	est := &Estimate{FactorPerKg: factor, Confidence: estimateConfidence}
	if err := e.setInCache(ctx, key, est); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Failed to cache estimate")
	}
	return est, nil
}

// parseFactor reads the first decimal number of a model answer
func parseFactor(content string) (float64, bool) {
	m := firstNumberRegex.FindString(co2Regex.ReplaceAllString(content, " "))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// estimateCacheKey format: "emissions:{canonical_name}:{category}"
func estimateCacheKey(canonicalName, category string) string {
	return fmt.Sprintf("emissions:%s:%s", canonicalName, category)
}

// getFromCache retrieves an estimate from cache. Entries that no longer
// decode or exceed the current max factor are evicted and reported as misses.
func (e *EmissionsEstimator) getFromCache(ctx context.Context, key string) (*Estimate, error) {
	if e.cache == nil {
		return nil, domain.ErrCacheMiss
	}

	value, err := e.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var est *Estimate
	switch v := value.(type) {
	case *Estimate:
		cp := *v
		est = &cp
	case map[string]interface{}:
		est, err = mapToEstimate(v)
	default:
		err = domain.ErrCacheMiss
	}
	if err == nil && (est.FactorPerKg < 0 || est.FactorPerKg > e.maxFactor) {
		err = domain.ErrCacheMiss
	}
	if err != nil {
		if delErr := e.cache.Delete(ctx, key); delErr != nil {
			e.log.Warn().Err(delErr).Str("key", key).Msg("Failed to evict cached estimate")
		}
		e.log.Debug().Str("key", key).Msg("Evicted unusable cached estimate")
		return nil, domain.ErrCacheMiss
	}
	return est, nil
}

// setInCache stores an estimate in cache
func (e *EmissionsEstimator) setInCache(ctx context.Context, key string, est *Estimate) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Set(ctx, key, est, e.cacheTTL)
}

// mapToEstimate converts a map (from the JSON cache) to an Estimate
func mapToEstimate(data map[string]interface{}) (*Estimate, error) {
	factor, ok := data["factorPerKg"].(float64)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	est := &Estimate{FactorPerKg: factor, Confidence: estimateConfidence}
	if v, ok := data["confidence"].(float64); ok {
		est.Confidence = v
	}
	if v, ok := data["defaulted"].(bool); ok {
		est.Defaulted = v
	}
	return est, nil
}
