package usecase

import (
	"fmt"
	"strings"
)

// Category names used by the fallback table
const (
	CategoryOther   = "other"
	CategoryNonFood = "non-food"
)

// Fallback confidence levels, by how much is known about the item
const (
	keywordConfidence   = 0.5
	hintConfidence      = 0.3
	ignoranceConfidence = 0.1
)

// categoryProfile is the default emission factor of a category plus the
// plausible range used to anchor model estimates (kg CO2e per kg)
type categoryProfile struct {
	factor float64
	low    float64
	high   float64
}

var categoryProfiles = map[string]categoryProfile{
	"meat":        {factor: 15.0, low: 7, high: 100},
	"poultry":     {factor: 6.9, low: 4, high: 12},
	"seafood":     {factor: 6.0, low: 2, high: 30},
	"dairy":       {factor: 3.0, low: 1, high: 25},
	"eggs":        {factor: 4.8, low: 3, high: 6},
	"vegetables":  {factor: 0.4, low: 0.1, high: 3},
	"fruits":      {factor: 0.5, low: 0.2, high: 3},
	"grains":      {factor: 1.0, low: 0.5, high: 4.5},
	"legumes":     {factor: 0.9, low: 0.3, high: 3},
	"beverages":   {factor: 0.5, low: 0.2, high: 3},
	"sweets":      {factor: 2.0, low: 1, high: 20},
	"snacks":      {factor: 2.0, low: 1, high: 6},
	"oils":        {factor: 3.3, low: 2, high: 8},
	"processed":   {factor: 2.0, low: 1, high: 6},
	CategoryOther: {factor: 2.0, low: 0.5, high: 10},
}

// categoryRule maps keywords to a category. Rules are checked in order and
// keywords match at the start of a word, so "apple" also matches "apples".
type categoryRule struct {
	category string
	keywords []string
}

// phraseRules resolve multi-word names that the single-word rules would misfile
var phraseRules = []categoryRule{
	{"sweets", []string{"ice cream", "frozen yogurt"}},
	{"legumes", []string{"peanut butter", "soy sauce"}},
	{"sweets", []string{"milk chocolate", "chocolate bar"}},
	{"beverages", []string{"soy milk", "almond milk", "oat milk", "coconut water", "juice"}},
	{"fruits", []string{"watermelon"}},
	{"processed", []string{"hot dog", "frozen pizza", "instant noodle"}},
	{"vegetables", []string{"sweet potato", "bell pepper", "eggplant"}},
}

var categoryRules = []categoryRule{
	{"meat", []string{"beef", "steak", "pork", "bacon", "ham", "lamb", "mutton", "veal", "sausage", "salami", "pepperoni", "prosciutto", "chorizo", "burger", "mince", "jerky", "brisket", "ribs"}},
	{"poultry", []string{"chicken", "turkey", "duck", "drumstick", "wings", "thigh"}},
	{"seafood", []string{"fish", "salmon", "tuna", "shrimp", "prawn", "cod", "tilapia", "crab", "lobster", "sardine", "mackerel", "trout", "scallop", "mussel", "clam", "oyster", "haddock"}},
	{"dairy", []string{"milk", "cheese", "cheddar", "mozzarella", "parmesan", "brie", "feta", "yogurt", "yoghurt", "cream", "butter", "margarine", "marge", "kefir", "ghee"}},
	{"eggs", []string{"egg"}},
	{"vegetables", []string{"carrot", "lettuce", "tomato", "onion", "potato", "broccoli", "spinach", "cucumber", "squash", "zucc", "scal", "pepper", "celery", "cabbage", "kale", "garlic", "mushroom", "cauliflower", "corn", "asparagus", "beet", "radish", "eggplant", "salad", "greens", "veg"}},
	{"fruits", []string{"apple", "banana", "orange", "grape", "strawberr", "blueberr", "raspberr", "berries", "mango", "pineapple", "lemon", "lime", "peach", "pear", "plum", "cherr", "melon", "watermelon", "kiwi", "avocado", "fruit"}},
	{"grains", []string{"bread", "bagel", "baguette", "buns", "croissant", "pasta", "spaghetti", "spagehtti", "macaroni", "noodle", "rice", "flour", "oat", "cereal", "tortilla", "quinoa", "barley", "couscous", "wheat", "yeast"}},
	{"legumes", []string{"bean", "lentil", "chickpea", "peas", "tofu", "hummus", "peanut", "edamame"}},
	{"beverages", []string{"soda", "cola", "water", "coffee", "tea", "beer", "wine", "lemonade", "kombucha", "drink", "smoothie"}},
	{"sweets", []string{"chocolate", "candy", "cookie", "cake", "sugar", "brownie", "donut", "doughnut", "muffin", "pie", "gum", "dessert", "syrup", "honey", "jam", "smiles"}},
	{"snacks", []string{"chip", "crisp", "pretzel", "popcorn", "cracker", "almond", "cashew", "walnut", "pistachio", "nuts", "granola", "snack"}},
	{"oils", []string{"oil", "olive"}},
	{"processed", []string{"sauce", "soup", "ketchup", "mayo", "mustard", "dressing", "pizza", "nugget", "frozen", "canned", "dinner", "meal", "chipits"}},
}

// nonFoodKeywords flag household goods, packaging and fees
var nonFoodKeywords = []string{
	"soap", "detergent", "shampoo", "conditioner", "toothpaste", "toothbrush", "floss",
	"diaper", "wipes", "tissue", "towel", "napkin", "toilet", "foil", "cling",
	"bag fee", "bottle deposit", "deposit", "battery", "batteries", "bleach", "cleaner",
	"lotion", "deodorant", "razor", "trash", "garbage", "sponge", "candle", "light bulb",
	"litter", "charcoal", "lighter", "cigarette", "tobacco", "magazine", "gift card",
	"pharmacy", "medicine", "ibuprofen", "vitamins", "plastic", "paper",
}

// categoryAliases maps category names seen from the model and the OCR service to table names
var categoryAliases = map[string]string{
	"vegetable":     "vegetables",
	"veggies":       "vegetables",
	"produce":       "vegetables",
	"fruit":         "fruits",
	"grain":         "grains",
	"bakery":        "grains",
	"bread":         "grains",
	"legume":        "legumes",
	"beverage":      "beverages",
	"drinks":        "beverages",
	"drink":         "beverages",
	"sweet":         "sweets",
	"dessert":       "sweets",
	"confectionery": "sweets",
	"snack":         "snacks",
	"oil":           "oils",
	"egg":           "eggs",
	"fish":          "seafood",
	"non_food":      CategoryNonFood,
	"nonfood":       CategoryNonFood,
	"household":     CategoryNonFood,
}

// CategoryEstimate is the always-available fallback figure for an item
type CategoryEstimate struct {
	Category            string
	EmissionFactorPerKg float64
	Confidence          float64
	IsFood              bool
	KeywordHit          bool
}

// CategoryFallback is the deterministic keyword-to-category classifier and
// default emission factor table. It has no failure mode.
type CategoryFallback struct{}

// NewCategoryFallback creates the fallback classifier
func NewCategoryFallback() *CategoryFallback {
	return &CategoryFallback{}
}

// IsNonFood reports whether a canonical name looks like a household good or fee
func (f *CategoryFallback) IsNonFood(canonicalName string) bool {
	return matchesAny(canonicalName, nonFoodKeywords)
}

// Classify returns the keyword category of a canonical name
func (f *CategoryFallback) Classify(canonicalName string) (string, bool) {
	for _, rules := range [][]categoryRule{phraseRules, categoryRules} {
		for _, rule := range rules {
			if matchesAny(canonicalName, rule.keywords) {
				return rule.category, true
			}
		}
	}
	return "", false
}

// Estimate returns a category, factor and confidence for an item.
// hintedCategory is the category supplied by the model or the OCR service, if any.
func (f *CategoryFallback) Estimate(canonicalName, hintedCategory string) CategoryEstimate {
	if f.IsNonFood(canonicalName) || NormalizeCategory(hintedCategory) == CategoryNonFood {
		return CategoryEstimate{
			Category:   CategoryNonFood,
			Confidence: keywordConfidence,
			IsFood:     false,
			KeywordHit: true,
		}
	}

	if category, ok := f.Classify(canonicalName); ok {
		return CategoryEstimate{
			Category:            category,
			EmissionFactorPerKg: categoryProfiles[category].factor,
			Confidence:          keywordConfidence,
			IsFood:              true,
			KeywordHit:          true,
		}
	}

	if hinted := NormalizeCategory(hintedCategory); hinted != "" && hinted != CategoryOther {
		factor := categoryProfiles[CategoryOther].factor
		if p, ok := categoryProfiles[hinted]; ok {
			factor = p.factor
		}
		return CategoryEstimate{
			Category:            hinted,
			EmissionFactorPerKg: factor,
			Confidence:          hintConfidence,
			IsFood:              true,
		}
	}

	return CategoryEstimate{
		Category:            CategoryOther,
		EmissionFactorPerKg: categoryProfiles[CategoryOther].factor,
		Confidence:          ignoranceConfidence,
		IsFood:              true,
	}
}

// DefaultFactor returns the default emission factor of a category, falling
// back to the "other" factor for unknown categories
func DefaultFactor(category string) float64 {
	if NormalizeCategory(category) == CategoryNonFood {
		return 0
	}
	if p, ok := categoryProfiles[NormalizeCategory(category)]; ok {
		return p.factor
	}
	return categoryProfiles[CategoryOther].factor
}

// AnchorRange formats the plausible factor range of a category for prompts
func AnchorRange(category string) string {
	p, ok := categoryProfiles[NormalizeCategory(category)]
	if !ok {
		p = categoryProfiles[CategoryOther]
	}
	return fmt.Sprintf("%g-%g", p.low, p.high)
}

// NormalizeCategory lowercases a category and maps known aliases.
// Empty and "unknown" categories normalize to "".
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	c = strings.ReplaceAll(c, "-", "_")
	switch c {
	case "", "unknown", "none", "null", "n/a":
		return ""
	}
	if alias, ok := categoryAliases[c]; ok {
		return alias
	}
	c = strings.ReplaceAll(c, "_", " ")
	if c == "non food" {
		return CategoryNonFood
	}
	return c
}

// matchesAny reports whether any keyword starts a word of name
func matchesAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.HasPrefix(name, kw) || strings.Contains(name, " "+kw) {
			return true
		}
	}
	return false
}
