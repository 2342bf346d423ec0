package dataset

import (
	"fmt"
	"iter"
	"strings"

	"github.com/emissionary/backend/internal/domain"
)

// Store is the in-memory reference emissions dataset. It is built once at
// startup and never mutated, so concurrent reads need no locking.
type Store struct {
	records []domain.ReferenceFoodRecord
	index   map[string]int // canonical name -> position in records
	source  string
}

// NewStore builds a store from records. Records with an empty canonical name
// or a negative factor are rejected; later duplicates of a canonical name are
// ignored so the first row in the file wins.
func NewStore(records []domain.ReferenceFoodRecord, source string) (*Store, error) {
	s := &Store{
		records: make([]domain.ReferenceFoodRecord, 0, len(records)),
		index:   make(map[string]int, len(records)),
		source:  source,
	}

	for i, r := range records {
		r.Name = strings.TrimSpace(r.Name)
		if r.CanonicalName == "" {
			r.CanonicalName = domain.Canonicalize(r.Name)
		}
		if r.CanonicalName == "" {
			return nil, fmt.Errorf("record %d: empty food name", i+1)
		}
		if r.EmissionFactorPerKg < 0 {
			return nil, fmt.Errorf("record %d (%s): negative emission factor %.3f", i+1, r.Name, r.EmissionFactorPerKg)
		}
		r.Category = normalizeCategory(r.Category)

		if _, dup := s.index[r.CanonicalName]; dup {
			continue
		}
		s.index[r.CanonicalName] = len(s.records)
		s.records = append(s.records, r)
	}

	return s, nil
}

// Lookup returns the record whose canonical name equals canonicalName
func (s *Store) Lookup(canonicalName string) (domain.ReferenceFoodRecord, bool) {
	i, ok := s.index[canonicalName]
	if !ok {
		return domain.ReferenceFoodRecord{}, false
	}
	return s.records[i], true
}

// All yields every record in load order
func (s *Store) All() iter.Seq[domain.ReferenceFoodRecord] {
	return func(yield func(domain.ReferenceFoodRecord) bool) {
		for _, r := range s.records {
			if !yield(r) {
				return
			}
		}
	}
}

// Len returns the number of records
func (s *Store) Len() int {
	return len(s.records)
}

// Source returns the path the store was loaded from
func (s *Store) Source() string {
	return s.source
}

// Categories returns the number of records per category
func (s *Store) Categories() map[string]int {
	out := make(map[string]int)
	for _, r := range s.records {
		out[r.Category]++
	}
	return out
}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "other"
	}
	return c
}
