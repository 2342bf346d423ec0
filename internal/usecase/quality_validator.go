package usecase

import (
	"regexp"
	"strings"
	"unicode"
)

// Quality scoring constants
const (
	maxQualityScore        = 10
	defaultMinQualityScore = 3
	defaultMinTextLength   = 20
	shortTextPenalty       = 3
	noDigitsPenalty        = 2
	noCurrencyPenalty      = 2
	noVocabularyPenalty    = 1
	specialCharPenalty     = 3
	maxSpecialCharRatio    = 0.3
)

var (
	currencyAmountRegex = regexp.MustCompile(`\d+[.,]\d{2}`)
	receiptVocabRegex   = regexp.MustCompile(`(?i)\b(total|subtotal|sub-total|tax|hst|gst|vat|cash|change|card|visa|mastercard|debit|credit|receipt|store|thank|qty|price|amount|balance|due|paid|item|items)\b`)
)

// QualityReport is the verdict of TextQualityValidator.Score
type QualityReport struct {
	Score   int      `json:"score"`
	Issues  []string `json:"issues"`
	IsValid bool     `json:"isValid"`
}

// QualityConfig holds text quality thresholds
type QualityConfig struct {
	MinScore      int
	MinTextLength int
}

// TextQualityValidator scores OCR text 0-10 and decides whether it is worth extracting items from
type TextQualityValidator struct {
	minScore      int
	minTextLength int
}

// NewTextQualityValidator creates a validator; zero thresholds use the defaults
func NewTextQualityValidator(cfg QualityConfig) *TextQualityValidator {
	minScore := cfg.MinScore
	if minScore <= 0 {
		minScore = defaultMinQualityScore
	}
	minLen := cfg.MinTextLength
	if minLen <= 0 {
		minLen = defaultMinTextLength
	}
	return &TextQualityValidator{minScore: minScore, minTextLength: minLen}
}

// MinScore returns the pass threshold
func (v *TextQualityValidator) MinScore() int {
	return v.minScore
}

// Score grades text. It never modifies the text.
func (v *TextQualityValidator) Score(text string) QualityReport {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return QualityReport{Score: 0, Issues: []string{"no text detected"}, IsValid: false}
	}

	score := maxQualityScore
	var issues []string

	if len([]rune(trimmed)) < v.minTextLength {
		score -= shortTextPenalty
		issues = append(issues, "text is too short")
	}

	if !strings.ContainsFunc(trimmed, unicode.IsDigit) {
		score -= noDigitsPenalty
		issues = append(issues, "no digits found")
	}

	if !currencyAmountRegex.MatchString(trimmed) {
		score -= noCurrencyPenalty
		issues = append(issues, "no price amounts found")
	}

	if !receiptVocabRegex.MatchString(trimmed) {
		score -= noVocabularyPenalty
		issues = append(issues, "no receipt keywords found")
	}

	if ratio := specialCharRatio(trimmed); ratio > maxSpecialCharRatio {
		score -= specialCharPenalty
		issues = append(issues, "too many special characters")
	}

	score = max(0, min(score, maxQualityScore))

	return QualityReport{
		Score:   score,
		Issues:  issues,
		IsValid: score >= v.minScore,
	}
}

// specialCharRatio is the share of non-whitespace runes that are neither
// letters, digits nor common receipt punctuation.
func specialCharRatio(s string) float64 {
	var total, special int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case '.', ',', '$', '%', '-', '/', ':', '@', '#', '&', '\'', '(', ')', '*':
			continue
		}
		special++
	}
	if total == 0 {
		return 0
	}
	return float64(special) / float64(total)
}
