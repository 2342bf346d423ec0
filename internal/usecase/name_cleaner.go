package usecase

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/logger"
)

// Compiled regex patterns for item name cleaning
var (
	// Matches size/quantity patterns like "128 fl oz", "12 oz", "1.5 liter", "2 lb", "2l"
	sizeQuantityPattern = regexp.MustCompile(`\b\d+\.?\d*\s*(fl\s*)?oz\b|\b\d+\.?\d*\s*(fl\s*)?ounces?\b|\b\d+\.?\d*\s*lbs?\b|\b\d+\.?\d*\s*pounds?\b|\b\d+\.?\d*\s*ml\b|\b\d+\.?\d*\s*l\b|\b\d+\.?\d*\s*liters?\b|\b\d+\.?\d*\s*litres?\b|\b\d+\.?\d*\s*gallons?\b|\b\d+\.?\d*\s*quarts?\b|\b\d+\.?\d*\s*pints?\b|\b\d+\.?\d*\s*kg\b|\b\d+\.?\d*\s*grams?\b|\b\d+\.?\d*\s*g\b`)

	// Matches pack/count patterns like "12 pack", "pack of 6", "6-pack", "24 count", "6 ct"
	packCountPattern = regexp.MustCompile(`\b\d+[-\s]*(pack|pk|count|ct)\b|\bpack\s*of\s*\d+\b|\b\d+\s*cans?\b|\b\d+\s*bottles?\b|\b\d+\s*pouches?\b|\b\d+\s*bars?\b|\b\d+\s*pieces?\b`)

	// Matches standalone numbers with no unit at the edges (e.g. ", 128", "- 12")
	standaloneNumberPattern = regexp.MustCompile(`[,\-]\s*\d+\.?\d*\s*$|^\d+\.?\d*\s*[,\-]`)

	lonePunctuationPattern     = regexp.MustCompile(`\s+[,\-;:]+\s+`)
	trailingPunctuationPattern = regexp.MustCompile(`[,\-;:]+\s*$`)
	leadingPunctuationPattern  = regexp.MustCompile(`^\s*[,\-;:]+`)

	multiSpacePattern = regexp.MustCompile(`\s+`)
)

// nameNoiseWords are marketing and packaging terms that never help a dataset lookup
var nameNoiseWords = map[string]bool{
	// Marketing terms
	"value":     true,
	"family":    true,
	"bonus":     true,
	"new":       true,
	"improved":  true,
	"premium":   true,
	"select":    true,
	"choice":    true,
	"quality":   true,
	"best":      true,
	"great":     true,
	"delicious": true,
	"tasty":     true,
	"favorite":  true,
	"special":   true,

	// Size descriptors
	"size":   true,
	"large":  true,
	"medium": true,
	"small":  true,
	"mini":   true,
	"jumbo":  true,
	"giant":  true,
	"big":    true,
	"single": true,
	"double": true,
	"triple": true,

	// Packaging terms
	"package": true,
	"pkg":     true,
	"box":     true,
	"bag":     true,
	"bottle":  true,
	"jar":     true,
	"tub":     true,
	"carton":  true,
	"sleeve":  true,
	"pouch":   true,
	"tube":    true,

	// Generic terms
	"item":    true,
	"product": true,
	"brand":   true,
}

// maxCleanNameLength bounds names handed to the matcher and the model
const maxCleanNameLength = 100

// ItemNameCleaner strips receipt and shelf-label noise from item names before matching
type ItemNameCleaner struct {
	log zerolog.Logger
}

// NewItemNameCleaner creates a new item name cleaner
func NewItemNameCleaner() *ItemNameCleaner {
	return &ItemNameCleaner{log: logger.WithComponent("name-cleaner")}
}

// Clean removes size/quantity info, pack counts and marketing terms, and normalizes whitespace
func (c *ItemNameCleaner) Clean(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}

	// Step 1: Lowercase so unit patterns match regardless of receipt casing
	cleaned := strings.ToLower(name)

	// Step 2: Remove size/quantity patterns (e.g. "128 fl oz", "1.5 liter")
	cleaned = sizeQuantityPattern.ReplaceAllString(cleaned, " ")

	// Step 3: Remove pack/count patterns (e.g. "12 pack", "pack of 6")
	cleaned = packCountPattern.ReplaceAllString(cleaned, " ")

	// Step 4: Remove standalone numbers at boundaries
	cleaned = standaloneNumberPattern.ReplaceAllString(cleaned, " ")

	// Step 5: Remove noise words
	cleaned = removeNoiseWords(cleaned)

	// Step 6: Clean up punctuation that's now orphaned
	cleaned = lonePunctuationPattern.ReplaceAllString(cleaned, " ")
	cleaned = trailingPunctuationPattern.ReplaceAllString(cleaned, "")
	cleaned = leadingPunctuationPattern.ReplaceAllString(cleaned, "")

	// Step 7: Normalize whitespace
	cleaned = strings.TrimSpace(multiSpacePattern.ReplaceAllString(cleaned, " "))

	// Step 8: Limit length, cutting at a word boundary when possible
	if len(cleaned) > maxCleanNameLength {
		cleaned = cleaned[:maxCleanNameLength]
		if lastSpace := strings.LastIndex(cleaned, " "); lastSpace > maxCleanNameLength/2 {
			cleaned = cleaned[:lastSpace]
		}
	}

	c.log.Trace().Str("input", name).Str("output", cleaned).Msg("Cleaned item name")
	return cleaned
}

// Canonical returns the matching key for name. When cleaning removes
// everything, the raw name is canonicalized instead.
func (c *ItemNameCleaner) Canonical(name string) string {
	if canonical := domain.Canonicalize(c.Clean(name)); canonical != "" {
		return canonical
	}
	return domain.Canonicalize(name)
}

// removeNoiseWords drops marketing and packaging terms
func removeNoiseWords(s string) string {
	words := strings.Fields(s)
	kept := words[:0]

	for _, word := range words {
		cleanWord := strings.Trim(word, ",.!?;:-'\"")
		if !nameNoiseWords[cleanWord] {
			kept = append(kept, word)
		}
	}

	return strings.Join(kept, " ")
}
