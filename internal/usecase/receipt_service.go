package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/logger"
)

// Pipeline stages, recorded in ProcessingResult.ProcessingSteps
const (
	StageOCR      = "OCR"
	StageValidate = "VALIDATE"
	StageExtract  = "EXTRACT"
	StageEnrich   = "ENRICH"
	StageFinalize = "FINALIZE"
	StageFailed   = "FAILED"
)

const defaultWorkers = 4

// ReceiptServiceConfig holds configuration for the receipt pipeline
type ReceiptServiceConfig struct {
	Workers   int
	Quality   QualityConfig
	Extractor ExtractorConfig
	Match     MatchConfig
	Estimator EstimatorConfig
}

// ReceiptService turns receipt images or text into emission-annotated items.
// Every call returns a result; only OCR failure, unreadable text and
// cancellation make it unsuccessful.
type ReceiptService struct {
	ocr               domain.OCRClient
	validator         *TextQualityValidator
	extractor         *ItemExtractor
	fallbackExtractor *FallbackExtractor
	matcher           *DatasetMatcher
	estimator         *EmissionsEstimator
	categories        *CategoryFallback
	cleaner           *ItemNameCleaner
	workers           int
	log               zerolog.Logger
}

// NewReceiptService wires the pipeline. llm and cache may be nil; without a
// language model, extraction and estimation run on the rule-based fallbacks.
func NewReceiptService(
	ocr domain.OCRClient,
	llm domain.ChatCompleter,
	store domain.DatasetStore,
	cache domain.CacheRepository,
	config ReceiptServiceConfig,
) *ReceiptService {
	workers := config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	categories := NewCategoryFallback()

	s := &ReceiptService{
		ocr:               ocr,
		validator:         NewTextQualityValidator(config.Quality),
		fallbackExtractor: NewFallbackExtractor(categories),
		matcher:           NewDatasetMatcher(store, config.Match),
		categories:        categories,
		cleaner:           NewItemNameCleaner(),
		workers:           workers,
		log:               logger.WithComponent("receipt-service"),
	}

	if llm != nil {
		s.extractor = NewItemExtractor(llm, config.Extractor)
		s.estimator = NewEmissionsEstimator(llm, cache, config.Estimator)
	}

	return s
}

// Validator exposes the text quality gate
func (s *ReceiptService) Validator() *TextQualityValidator {
	return s.validator
}

// Matcher exposes the dataset matcher
func (s *ReceiptService) Matcher() *DatasetMatcher {
	return s.matcher
}

// run is the mutable state of one pipeline invocation
type run struct {
	result *domain.ProcessingResult
	start  time.Time
	log    zerolog.Logger
}

func (s *ReceiptService) newRun() *run {
	id := uuid.NewString()
	return &run{
		result: &domain.ProcessingResult{
			RequestID:       id,
			Items:           []domain.EnrichedItem{},
			ProcessingSteps: []string{},
			Warnings:        []string{},
		},
		start: time.Now(),
		log:   logger.WithRequestID(id).With().Str("component", "receipt-service").Logger(),
	}
}

func (r *run) step(stage string) {
	r.result.ProcessingSteps = append(r.result.ProcessingSteps, stage)
	r.log.Debug().Str("stage", stage).Msg("Entering stage")
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.result.Warnings = append(r.result.Warnings, msg)
	r.log.Warn().Msg(msg)
}

func (r *run) finish() *domain.ProcessingResult {
	r.result.ProcessingTimeMs = time.Since(r.start).Milliseconds()
	return r.result
}

// fail terminates the run. err is returned to the caller alongside the result.
func (r *run) fail(code string, retry bool, err error) (*domain.ProcessingResult, error) {
	r.step(StageFailed)
	r.result.Success = false
	r.result.ErrorCode = code
	r.result.ErrorMessage = err.Error()
	r.result.RetryAvailable = retry
	r.result.Items = []domain.EnrichedItem{}
	r.result.TotalCarbonEmissionsKg = 0

	r.log.Error().Err(err).Str("error_code", code).Msg("Receipt processing failed")
	return r.finish(), err
}

func (r *run) cancelled(ctx context.Context) (*domain.ProcessingResult, error) {
	return r.fail(domain.CodeCancelled, false, domain.FromContextError("pipeline", ctx.Err()))
}

// ProcessReceipt runs the full pipeline on an image. The result is never nil;
// err is non-nil exactly when the result is unsuccessful.
func (s *ReceiptService) ProcessReceipt(ctx context.Context, req *domain.ReceiptRequest) (*domain.ProcessingResult, error) {
	r := s.newRun()
	r.step(StageOCR)

	if req == nil {
		return r.fail(domain.CodeValidationError, false, domain.ValidationErrorf("pipeline.ocr", "missing receipt request"))
	}
	if ctx.Err() != nil {
		return r.cancelled(ctx)
	}

	ocrResult, err := s.ocr.ExtractText(ctx, req.Image, req.MIMEType)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindCancelled:
			return r.cancelled(ctx)
		case domain.KindValidation:
			return r.fail(domain.CodeValidationError, false, err)
		default:
			if ctx.Err() != nil {
				return r.cancelled(ctx)
			}
			return r.fail(domain.CodeOCRFailed, domain.IsRetryable(err), err)
		}
	}

	r.result.OCRConfidence = ocrResult.Confidence
	r.log.Info().
		Int("chars", len(ocrResult.Text)).
		Float64("confidence", ocrResult.Confidence).
		Msg("OCR complete")

	return s.processText(ctx, r, ocrResult.Text, ocrResult)
}

// ProcessText runs the pipeline from the quality gate on already-recognized text
func (s *ReceiptService) ProcessText(ctx context.Context, text string) (*domain.ProcessingResult, error) {
	return s.processText(ctx, s.newRun(), text, nil)
}

func (s *ReceiptService) processText(ctx context.Context, r *run, text string, ocrResult *domain.OCRResult) (*domain.ProcessingResult, error) {
	r.step(StageValidate)
	if ctx.Err() != nil {
		return r.cancelled(ctx)
	}

	report := s.validator.Score(text)
	r.result.QualityScore = float64(report.Score)
	if !report.IsValid {
		err := domain.ValidationErrorf("pipeline.validate", "text quality %d/10 below %d: %s",
			report.Score, s.validator.MinScore(), strings.Join(report.Issues, ", "))
		return r.fail(domain.CodePoorOCRQuality, true, err)
	}

	r.step(StageExtract)
	raws, modelMerchant := s.extractItems(ctx, r, text, ocrResult)
	if ctx.Err() != nil {
		return r.cancelled(ctx)
	}

	r.step(StageEnrich)
	items, err := s.enrichAll(ctx, r, raws)
	if err != nil || ctx.Err() != nil {
		return r.cancelled(ctx)
	}

	r.step(StageFinalize)
	total := 0.0
	for _, it := range items {
		total += it.CarbonEmissionsKg
	}

	r.result.Items = items
	r.result.TotalCarbonEmissionsKg = total
	r.result.Merchant = s.resolveMerchant(text, ocrResult, modelMerchant)
	r.result.Success = true

	result := r.finish()
	r.log.Info().
		Int("items", len(items)).
		Float64("total_kg", total).
		Int("warnings", len(result.Warnings)).
		Int64("duration_ms", result.ProcessingTimeMs).
		Msg("Receipt processed")
	return result, nil
}

// extractItems tries the model, then the OCR service's own item list, then the
// rule-based line extractor
func (s *ReceiptService) extractItems(ctx context.Context, r *run, text string, ocrResult *domain.OCRResult) ([]domain.RawExtractedItem, string) {
	var (
		items    []domain.RawExtractedItem
		merchant string
	)

	if s.extractor == nil {
		r.warn("language model not configured; using rule-based extraction")
	} else {
		extraction, err := s.extractor.Extract(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ""
			}
			r.warn("model item extraction failed: %v", err)
		}
		if extraction != nil {
			items = extraction.Items
			merchant = extraction.Merchant
			if extraction.Retried && len(items) > 0 {
				r.warn("model output was recovered with a simplified prompt")
			}
		}
	}

	if len(items) == 0 && ocrResult != nil && len(ocrResult.Items) > 0 {
		if s.extractor != nil {
			r.warn("model returned no items; using OCR service item list")
		}
		items = ocrResult.Items
	}

	if len(items) == 0 {
		items = s.fallbackExtractor.Extract(text)
		if s.extractor != nil {
			r.warn("model returned no items; using rule-based line extraction")
		}
		if len(items) == 1 && items[0].Origin == domain.OriginPlaceholder {
			r.warn("no items recognized; added placeholder item %q", items[0].Name)
		}
	}

	return items, merchant
}

// enrichAll enriches items concurrently with at most s.workers in flight.
// Output order matches input order.
func (s *ReceiptService) enrichAll(ctx context.Context, r *run, raws []domain.RawExtractedItem) ([]domain.EnrichedItem, error) {
	items := make([]domain.EnrichedItem, len(raws))
	warnings := make([][]string, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, raw := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i], warnings[i] = s.enrichItem(gctx, s.normalizeItem(raw))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, w := range warnings {
		for _, msg := range w {
			r.warn("%s", msg)
		}
	}
	return items, nil
}

// enrichItem resolves emissions: non-food short circuit, dataset match, then
// model estimate, then category fallback
func (s *ReceiptService) enrichItem(ctx context.Context, it normalizedItem) (domain.EnrichedItem, []string) {
	var warnings []string

	out := domain.EnrichedItem{
		Name:          it.Name,
		CanonicalName: it.CanonicalName,
		Quantity:      it.Quantity,
		TotalPrice:    it.TotalPrice,
		IsFood:        it.IsFood,
	}

	// Explicit or detected non-food items never reach the dataset, so a
	// containment hit like "milk frother" -> "milk" cannot turn them into food.
	if !it.IsFood {
		confidence := hintConfidence
		if s.categories.IsNonFood(it.CanonicalName) {
			confidence = keywordConfidence
		}
		out.Category = CategoryNonFood
		out.Confidence = confidence
		out.Source = domain.SourceFallback
		out.Status = domain.StatusFallback
		return out, nil
	}

	if match, ok := s.matcher.MatchItem(it.CanonicalName, it.MatchKey); ok {
		out.Category = match.Record.Category
		out.EmissionFactorPerKg = match.Record.EmissionFactorPerKg
		out.CarbonEmissionsKg = match.Record.EmissionFactorPerKg * it.Quantity
		out.Confidence = datasetMatchConfidence
		out.Source = domain.SourceDataset
		out.Status = domain.StatusProcessed
		out.MatchType = string(match.Type)
		return out, nil
	}

	if s.estimator != nil {
		category := it.Category
		if category == "" {
			category, _ = s.categories.Classify(it.MatchKey)
		}

		est, err := s.estimator.Estimate(ctx, it.MatchKey, category)
		if err == nil {
			if category == "" {
				category = CategoryOther
			}
			out.Category = category
			out.EmissionFactorPerKg = est.FactorPerKg
			out.CarbonEmissionsKg = est.FactorPerKg * it.Quantity
			out.Confidence = est.Confidence
			out.Source = domain.SourceLLMEstimate
			out.Status = domain.StatusAIEstimated
			return out, nil
		}
		if !errors.Is(err, domain.ErrCancelled) {
			warnings = append(warnings, fmt.Sprintf("emissions estimate for %q failed, using category default: %v", it.Name, err))
		}
	}

	fb := s.categories.Estimate(it.MatchKey, it.Category)
	out.Category = fb.Category
	out.IsFood = fb.IsFood
	out.EmissionFactorPerKg = fb.EmissionFactorPerKg
	out.CarbonEmissionsKg = fb.EmissionFactorPerKg * it.Quantity
	out.Confidence = fb.Confidence
	out.Source = domain.SourceFallback
	out.Status = domain.StatusFallback
	return out, warnings
}

// resolveMerchant prefers the OCR service, then the model, then text heuristics
func (s *ReceiptService) resolveMerchant(text string, ocrResult *domain.OCRResult, modelMerchant string) string {
	if ocrResult != nil && ocrResult.Merchant != "" {
		return ocrResult.Merchant
	}
	if m := strings.TrimSpace(modelMerchant); m != "" && !strings.EqualFold(m, "unknown") {
		return m
	}
	return DetectMerchant(text)
}
