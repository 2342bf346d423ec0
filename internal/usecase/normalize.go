package usecase

import (
	"math"
	"strings"

	"github.com/emissionary/backend/internal/domain"
)

// normalizedItem is a raw item with every optional field resolved.
// It is the only input enrichment accepts.
type normalizedItem struct {
	Name          string
	CanonicalName string // lowercased, punctuation stripped
	MatchKey      string // CanonicalName with sizes and noise words removed
	Quantity      float64
	TotalPrice    float64
	Category      string // normalized, "" when unknown
	IsFood        bool
	Origin        domain.ItemOrigin
}

// normalizeItem applies all defaults in one place: blank names become
// "unknown item", non-positive or non-finite quantities become 1, negative
// or non-finite prices become 0, categories are normalized and food status
// falls back to non-food keyword detection.
func (s *ReceiptService) normalizeItem(raw domain.RawExtractedItem) normalizedItem {
	name := strings.Join(strings.Fields(raw.Name), " ")
	if name == "" {
		name = unknownItemName
	}

	canonical := domain.Canonicalize(name)
	if canonical == "" {
		canonical = unknownItemName
	}
	matchKey := s.cleaner.Canonical(name)
	if matchKey == "" {
		matchKey = canonical
	}

	quantity := raw.Quantity
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity <= 0 {
		quantity = 1
	}

	price := raw.TotalPrice
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		price = 0
	}

	category := NormalizeCategory(raw.Category)

	item := normalizedItem{
		Name:          name,
		CanonicalName: canonical,
		MatchKey:      matchKey,
		Quantity:      quantity,
		TotalPrice:    price,
		Category:      category,
		Origin:        raw.Origin,
	}

	switch {
	case category == CategoryNonFood:
		item.IsFood = false
	case raw.IsFood != nil:
		item.IsFood = *raw.IsFood
	default:
		item.IsFood = !s.categories.IsNonFood(canonical)
	}

	return item
}
