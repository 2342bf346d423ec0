package domain

// Source identifies where an item's emissions figure came from
type Source string

const (
	SourceDataset     Source = "dataset"
	SourceLLMEstimate Source = "llm_estimate"
	SourceFallback    Source = "fallback"
)

// ItemStatus is the processing status reported for each enriched item
type ItemStatus string

const (
	StatusProcessed   ItemStatus = "processed"
	StatusAIEstimated ItemStatus = "ai_estimated"
	StatusFallback    ItemStatus = "fallback"
)

// ItemOrigin records which extractor produced a raw item
type ItemOrigin string

const (
	OriginModel       ItemOrigin = "model"
	OriginOCRService  ItemOrigin = "ocr_service"
	OriginPriceLine   ItemOrigin = "price_line"
	OriginKeyword     ItemOrigin = "keyword"
	OriginPlaceholder ItemOrigin = "placeholder"
)

// Error codes reported on failed processing results
const (
	CodeOCRFailed       = "OCR_FAILED"
	CodePoorOCRQuality  = "POOR_OCR_QUALITY"
	CodeValidationError = "VALIDATION_ERROR"
	CodeCancelled       = "CANCELLED"
)

// ReferenceFoodRecord is a single row of the reference emissions dataset.
// Records are immutable once the store has loaded them.
type ReferenceFoodRecord struct {
	Name                string  `json:"name"`
	CanonicalName       string  `json:"canonicalName"`
	Category            string  `json:"category"`
	EmissionFactorPerKg float64 `json:"emissionFactorPerKg"` // kg CO2e per kg of food
}

// RawExtractedItem is an unvalidated item candidate from the model, the OCR
// service or the rule-based line extractor
type RawExtractedItem struct {
	Name       string     `json:"name"`
	Quantity   float64    `json:"quantity,omitempty"`
	TotalPrice float64    `json:"total_price,omitempty"`
	Category   string     `json:"category,omitempty"`
	IsFood     *bool      `json:"is_food,omitempty"`
	Origin     ItemOrigin `json:"-"`
}

// EnrichedItem is the terminal per-item record of the pipeline
type EnrichedItem struct {
	Name                string     `json:"name"`
	CanonicalName       string     `json:"canonicalName"`
	Quantity            float64    `json:"quantity"`
	TotalPrice          float64    `json:"totalPrice"`
	Category            string     `json:"category"`
	IsFood              bool       `json:"isFood"`
	CarbonEmissionsKg   float64    `json:"carbonEmissionsKg"`
	EmissionFactorPerKg float64    `json:"emissionFactorPerKg"`
	Confidence          float64    `json:"confidence"` // 0-1
	Source              Source     `json:"source"`
	Status              ItemStatus `json:"status"`
	MatchType           string     `json:"matchType,omitempty"` // exact, contains or fuzzy for dataset hits
}

// ProcessingResult is returned exactly once per pipeline invocation
type ProcessingResult struct {
	Success                bool           `json:"success"`
	RequestID              string         `json:"requestId"`
	Items                  []EnrichedItem `json:"items"`
	Merchant               string         `json:"merchant,omitempty"`
	TotalCarbonEmissionsKg float64        `json:"totalCarbonEmissionsKg"`
	ProcessingTimeMs       int64          `json:"processingTimeMs"`
	ProcessingSteps        []string       `json:"processingSteps"`
	Warnings               []string       `json:"warnings"`
	OCRConfidence          float64        `json:"ocrConfidence,omitempty"`
	QualityScore           float64        `json:"qualityScore,omitempty"`
	ErrorCode              string         `json:"errorCode,omitempty"`
	ErrorMessage           string         `json:"errorMessage,omitempty"`
	RetryAvailable         bool           `json:"retryAvailable"`
}

// ReceiptRequest carries an uploaded receipt image into the pipeline
type ReceiptRequest struct {
	Image    []byte
	MIMEType string
}

// OCRResult is the normalized response of the OCR service
type OCRResult struct {
	Text       string
	Confidence float64 // 0-1
	Merchant   string
	Total      *float64
	Items      []RawExtractedItem
}

// CompletionRequest is a single chat-completion call to the language model
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}
