package usecase

import (
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"github.com/rs/zerolog"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/logger"
)

// MatchType is the tier that resolved a dataset match
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchFuzzy    MatchType = "fuzzy"
)

const (
	defaultFuzzyThreshold  = 0.7
	minContainmentLength   = 3
	datasetMatchConfidence = 1.0
)

// MatchConfig holds configuration for the dataset matcher
type MatchConfig struct {
	// FuzzyThreshold is the similarity a fuzzy match must exceed, in (0,1)
	FuzzyThreshold float64
}

// MatchResult is a resolved dataset record
type MatchResult struct {
	Record     domain.ReferenceFoodRecord
	Type       MatchType
	Similarity float64
}

// DatasetMatcher resolves canonical item names against the reference dataset.
// Tiers are tried in order: exact, word-boundary containment, edit-distance similarity.
// Within a tier the first record in load order wins.
type DatasetMatcher struct {
	store          domain.DatasetStore
	fuzzyThreshold float64
	log            zerolog.Logger
}

// NewDatasetMatcher creates a matcher over store
func NewDatasetMatcher(store domain.DatasetStore, cfg MatchConfig) *DatasetMatcher {
	threshold := cfg.FuzzyThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = defaultFuzzyThreshold
	}

	return &DatasetMatcher{
		store:          store,
		fuzzyThreshold: threshold,
		log:            logger.WithComponent("matcher"),
	}
}

// MatchItem looks up an item by its canonical name and its cleaned key (the
// canonical form of the name with sizes and noise words removed). The
// canonical name is tried for an exact hit first, so a record printed
// verbatim always wins. The cleaned key then goes through every tier.
func (m *DatasetMatcher) MatchItem(canonicalName, cleanedKey string) (*MatchResult, bool) {
	if m.store == nil || m.store.Len() == 0 {
		return nil, false
	}
	if cleanedKey == "" {
		cleanedKey = canonicalName
	}
	if cleanedKey == "" {
		return nil, false
	}

	if canonicalName != "" {
		if rec, ok := m.store.Lookup(canonicalName); ok {
			return &MatchResult{Record: rec, Type: MatchExact, Similarity: 1}, true
		}
	}
	if cleanedKey != canonicalName {
		if rec, ok := m.store.Lookup(cleanedKey); ok {
			return &MatchResult{Record: rec, Type: MatchExact, Similarity: 1}, true
		}
	}

	for rec := range m.store.All() {
		if containsOnWordBoundary(cleanedKey, rec.CanonicalName) {
			m.log.Debug().
				Str("item", cleanedKey).
				Str("record", rec.CanonicalName).
				Msg("Dataset containment match")
			return &MatchResult{Record: rec, Type: MatchContains, Similarity: similarity(cleanedKey, rec.CanonicalName)}, true
		}
	}

	for rec := range m.store.All() {
		if !lengthsCompatible(cleanedKey, rec.CanonicalName, m.fuzzyThreshold) {
			continue
		}
		if sim := similarity(cleanedKey, rec.CanonicalName); sim > m.fuzzyThreshold {
			m.log.Debug().
				Str("item", cleanedKey).
				Str("record", rec.CanonicalName).
				Float64("similarity", sim).
				Msg("Dataset fuzzy match")
			return &MatchResult{Record: rec, Type: MatchFuzzy, Similarity: sim}, true
		}
	}

	return nil, false
}

// containsOnWordBoundary reports whether the shorter of a and b appears as a
// whole-word run inside the longer one. The shorter side must have at least
// minContainmentLength runes.
func containsOnWordBoundary(a, b string) bool {
	short, long := a, b
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	if utf8.RuneCountInString(short) < minContainmentLength {
		return false
	}
	return strings.Contains(" "+long+" ", " "+short+" ")
}

// similarity is 1 - levenshtein(a,b)/max(len(a),len(b)) over runes
func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.Distance(a, b, nil))/float64(longest)
}

// lengthsCompatible skips pairs whose length difference alone rules out
// a similarity above threshold
func lengthsCompatible(a, b string, threshold float64) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	longest := max(la, lb)
	if longest == 0 {
		return false
	}
	return 1-float64(diff)/float64(longest) > threshold
}
