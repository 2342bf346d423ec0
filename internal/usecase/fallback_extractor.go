package usecase

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/logger"
)

const (
	placeholderNameLength = 32
	minNameLetters        = 2
	minLineLength         = 3
	unknownItemName       = "unknown item"
)

var (
	// skipLineRegex matches totals, tax, payment, loyalty and store/contact lines
	skipLineRegex = regexp.MustCompile(`(?i)\b(total|subtotal|sub total|tax|taxes|hst|gst|pst|vat|change|cash|card|payment|visa|mastercard|amex|debit|credit|charge|balance|tender|loyalty|points|rewards|member|savings|saved|discount|coupon|receipt|thank|thanks|store|phone|tel|address|road|approval|approved|auth|ref|terminal|survey|contest|rules|regulations|cashier|invoice|date|time|gift|items sold)\b|\b(st|op|te|tr)#`)

	// trailingPriceRegex matches a price at the end of a line with an optional tax flag letter
	trailingPriceRegex = regexp.MustCompile(`\$?\s*(\d+[.,]\d{2})\s*[A-Za-z]?\s*$`)

	// weightedItemRegex matches "1.234 kg @ $2.99/kg $3.69"
	weightedItemRegex = regexp.MustCompile(`(?i)(\d+\.\d{3})\s*kg\s*@\s*\$?(\d+[.,]\d{2})\s*/\s*kg\s+\$?(\d+[.,]\d{2})`)

	// leadingCountRegex matches "2 x " or "2 @ " before a name
	leadingCountRegex = regexp.MustCompile(`^(\d{1,3})\s*[xX@*]\s+`)

	// trailingCountRegex matches "2 @ 1.50" after a name
	trailingCountRegex = regexp.MustCompile(`\s(\d{1,3})\s*@\s*\$?\d+[.,]\d{2}\s*$`)

	longDigitRunRegex = regexp.MustCompile(`\d{6,}`)
	nameNoiseRegex    = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	trailingCodeRegex = regexp.MustCompile(`\s+[A-Za-z]$`)
)

// FallbackExtractor is the rule-based item extractor used when the model yields nothing
type FallbackExtractor struct {
	categories *CategoryFallback
	log        zerolog.Logger
}

// NewFallbackExtractor creates a new fallback line extractor
func NewFallbackExtractor(categories *CategoryFallback) *FallbackExtractor {
	if categories == nil {
		categories = NewCategoryFallback()
	}
	return &FallbackExtractor{
		categories: categories,
		log:        logger.WithComponent("fallback-extractor"),
	}
}

// Extract scans receipt text for priced lines, then food keywords, and finally
// synthesizes a single placeholder. Any non-blank text yields at least one item.
func (e *FallbackExtractor) Extract(text string) []domain.RawExtractedItem {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	if items := e.extractPricedLines(lines); len(items) > 0 {
		e.log.Debug().Int("items", len(items)).Msg("Extracted items from priced lines")
		return items
	}

	if items := e.extractKeywordLines(lines); len(items) > 0 {
		e.log.Debug().Int("items", len(items)).Msg("Extracted items from food keywords")
		return items
	}

	e.log.Debug().Msg("No item lines found, using placeholder")
	return []domain.RawExtractedItem{placeholderItem(text)}
}

func (e *FallbackExtractor) extractPricedLines(lines []string) []domain.RawExtractedItem {
	var items []domain.RawExtractedItem
	// pendingName holds an unpriced line that may name the weighed item on the next line
	pendingName := ""

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if len(line) < minLineLength || skipLineRegex.MatchString(line) {
			pendingName = ""
			continue
		}

		if item, ok := parseWeightedLine(line, pendingName); ok {
			items = append(items, item)
			pendingName = ""
			continue
		}

		if item, ok := parsePricedLine(line); ok {
			items = append(items, item)
			pendingName = ""
			continue
		}

		pendingName = cleanItemName(line)
	}

	return items
}

func (e *FallbackExtractor) extractKeywordLines(lines []string) []domain.RawExtractedItem {
	var items []domain.RawExtractedItem

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if len(line) < minLineLength || skipLineRegex.MatchString(line) {
			continue
		}

		name := cleanItemName(line)
		if !hasEnoughLetters(name) {
			continue
		}

		category, ok := e.categories.Classify(domain.Canonicalize(name))
		if !ok {
			continue
		}

		items = append(items, domain.RawExtractedItem{
			Name:     name,
			Quantity: 1,
			Category: category,
			Origin:   domain.OriginKeyword,
		})
	}

	return items
}

// parseWeightedLine handles items sold by weight. When the weight line carries
// no name of its own, fallbackName from the previous line is used.
func parseWeightedLine(line, fallbackName string) (domain.RawExtractedItem, bool) {
	m := weightedItemRegex.FindStringSubmatchIndex(line)
	if m == nil {
		return domain.RawExtractedItem{}, false
	}

	name := cleanItemName(line[:m[0]])
	if !hasEnoughLetters(name) {
		name = fallbackName
	}
	if !hasEnoughLetters(name) {
		return domain.RawExtractedItem{}, false
	}

	weight := parseAmount(line[m[2]:m[3]])
	total := parseAmount(line[m[6]:m[7]])
	if weight <= 0 {
		return domain.RawExtractedItem{}, false
	}

	return domain.RawExtractedItem{
		Name:       name,
		Quantity:   weight,
		TotalPrice: total,
		Origin:     domain.OriginPriceLine,
	}, true
}

// parsePricedLine handles "NAME [codes] 3.99 [F]" lines with optional counts
func parsePricedLine(line string) (domain.RawExtractedItem, bool) {
	m := trailingPriceRegex.FindStringSubmatchIndex(line)
	if m == nil {
		return domain.RawExtractedItem{}, false
	}

	price := parseAmount(line[m[2]:m[3]])
	prefix := strings.TrimSpace(line[:m[0]])

	quantity := 1.0
	if cm := leadingCountRegex.FindStringSubmatch(prefix); cm != nil {
		if n, err := strconv.Atoi(cm[1]); err == nil && n > 0 {
			quantity = float64(n)
		}
		prefix = prefix[len(cm[0]):]
	} else if cm := trailingCountRegex.FindStringSubmatchIndex(prefix); cm != nil {
		if n, err := strconv.Atoi(prefix[cm[2]:cm[3]]); err == nil && n > 0 {
			quantity = float64(n)
		}
		prefix = prefix[:cm[0]]
	}

	name := cleanItemName(prefix)
	if !hasEnoughLetters(name) {
		return domain.RawExtractedItem{}, false
	}

	return domain.RawExtractedItem{
		Name:       name,
		Quantity:   quantity,
		TotalPrice: price,
		Origin:     domain.OriginPriceLine,
	}, true
}

// cleanItemName strips receipt codes and punctuation noise from a name
func cleanItemName(s string) string {
	s = longDigitRunRegex.ReplaceAllString(s, " ")
	s = nameNoiseRegex.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	s = trailingCodeRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func hasEnoughLetters(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if letters >= minNameLetters {
				return true
			}
		}
	}
	return false
}

// placeholderItem synthesizes the single low-information item from the start of the text
func placeholderItem(text string) domain.RawExtractedItem {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) > placeholderNameLength {
		runes = runes[:placeholderNameLength]
	}

	name := cleanItemName(string(runes))
	if !hasEnoughLetters(name) {
		name = unknownItemName
	}

	return domain.RawExtractedItem{
		Name:     name,
		Quantity: 1,
		Origin:   domain.OriginPlaceholder,
	}
}

// parseAmount parses "3.99" or "3,99"
func parseAmount(s string) float64 {
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return v
}
