package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/logger"
)

const (
	defaultMaxInputChars    = 8000
	defaultExtractTemp      = 0.1
	defaultExtractMaxTokens = 1500
)

var codeFenceRegex = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

const extractSystemPrompt = `You read grocery receipt text produced by OCR and list the purchased items.
Respond with JSON only. No prose, no markdown.`

const extractUserPrompt = `Extract every purchased item from this receipt text.

Return a JSON array. Each element is an object with:
- "name": the item name as printed, expanded if abbreviated (string)
- "quantity": count or weight in kg (number, 1 if not shown)
- "total_price": line total (number, 0 if not shown)
- "category": one of meat, poultry, seafood, dairy, eggs, vegetables, fruits, grains, legumes, beverages, sweets, snacks, oils, processed, other, non-food
- "is_food": false for household goods, fees and deposits (boolean)

Do not include totals, subtotals, tax, payment, change, loyalty or store information.
If the receipt names the store, you may instead return {"merchant": "...", "items": [...]}.

Receipt text:
%s`

const extractSimplePrompt = `List the grocery items in this receipt text as a JSON array of objects with "name", "quantity" and "total_price". Output the array only.

%s`

// ExtractorConfig holds item extraction settings
type ExtractorConfig struct {
	MaxInputChars int
	Temperature   float32
	MaxTokens     int
}

// Extraction is the outcome of a model extraction
type Extraction struct {
	Items    []domain.RawExtractedItem
	Merchant string
	// Retried is set when the simpler prompt had to be issued
	Retried bool
}

// ItemExtractor asks the language model for a structured item list
type ItemExtractor struct {
	llm           domain.ChatCompleter
	maxInputChars int
	temperature   float32
	maxTokens     int
	log           zerolog.Logger
}

// NewItemExtractor creates an extractor over llm
func NewItemExtractor(llm domain.ChatCompleter, cfg ExtractorConfig) *ItemExtractor {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = defaultMaxInputChars
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultExtractTemp
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultExtractMaxTokens
	}
	return &ItemExtractor{
		llm:           llm,
		maxInputChars: cfg.MaxInputChars,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		log:           logger.WithComponent("item-extractor"),
	}
}

// Extract returns the items the model finds in text. Unparseable model output
// yields an empty list; only input and transport errors are returned.
func (e *ItemExtractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	const op = "extract.items"

	if n := utf8.RuneCountInString(text); n > e.maxInputChars {
		return nil, domain.ValidationErrorf(op, "receipt text is %d characters, limit is %d", n, e.maxInputChars)
	}

	content, err := e.llm.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: extractSystemPrompt,
		UserPrompt:   fmt.Sprintf(extractUserPrompt, text),
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	items, merchant, err := parseItemsResponse(content)
	if err == nil {
		e.log.Debug().Int("items", len(items)).Msg("Model extraction parsed")
		return &Extraction{Items: items, Merchant: merchant}, nil
	}

	e.log.Warn().Err(err).Msg("Model output unparseable, retrying with simpler prompt")

	content, err = e.llm.Complete(ctx, domain.CompletionRequest{
		SystemPrompt: extractSystemPrompt,
		UserPrompt:   fmt.Sprintf(extractSimplePrompt, text),
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
	})
	if err != nil {
		return &Extraction{Retried: true}, err
	}

	items, merchant, err = parseItemsResponse(content)
	if err != nil {
		e.log.Warn().Err(err).Msg("Model output unparseable after retry")
		return &Extraction{Retried: true}, nil
	}
	return &Extraction{Items: items, Merchant: merchant, Retried: true}, nil
}

// parseItemsResponse decodes model output into raw items. Output may be a bare
// array or an object with an "items" array, optionally fenced in markdown.
func parseItemsResponse(content string) ([]domain.RawExtractedItem, string, error) {
	s := strings.TrimSpace(content)
	if m := codeFenceRegex.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	var (
		raw      []any
		merchant string
		ok       bool
	)
	if strings.HasPrefix(s, "{") {
		raw, merchant, ok = decodeItemObject(s)
		if !ok {
			raw, ok = decodeItemArray(s)
		}
	} else {
		raw, ok = decodeItemArray(s)
		if !ok {
			raw, merchant, ok = decodeItemObject(s)
		}
	}
	if !ok {
		return nil, "", domain.ErrNoItemsParsed
	}

	accepted, invalid := validateItems(raw)
	if len(accepted) == 0 && len(invalid) > 0 {
		return nil, "", fmt.Errorf("%w: %w", domain.ErrNoItemsParsed, errors.Join(invalid...))
	}

	b, err := json.Marshal(accepted)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrNoItemsParsed, err)
	}
	var items []domain.RawExtractedItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrNoItemsParsed, err)
	}
	for i := range items {
		items[i].Origin = domain.OriginModel
	}

	return items, strings.TrimSpace(merchant), nil
}

// decodeItemArray decodes the span from the first '[' to the last ']'
func decodeItemArray(s string) ([]any, bool) {
	start, end := strings.Index(s, "["), strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return nil, false
	}
	var raw []any
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return nil, false
	}
	return raw, true
}

// decodeItemObject decodes the span from the first '{' to the last '}' and
// returns its "items" array and "merchant"
func decodeItemObject(s string) ([]any, string, bool) {
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, "", false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, "", false
	}
	raw, ok := obj["items"].([]any)
	if !ok {
		return nil, "", false
	}
	merchant, _ := obj["merchant"].(string)
	return raw, merchant, true
}
