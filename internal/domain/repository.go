package domain

import (
	"context"
	"iter"
	"time"
)

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// OCRClient defines the interface for the optical character recognition service
type OCRClient interface {
	ExtractText(ctx context.Context, image []byte, mimeType string) (*OCRResult, error)
}

// ChatCompleter defines the interface for the language model service.
// Implementations return the first choice's message content.
type ChatCompleter interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// DatasetStore provides read-only lookups over the reference emissions dataset.
// Implementations must be safe for concurrent reads.
type DatasetStore interface {
	Lookup(canonicalName string) (ReferenceFoodRecord, bool)
	All() iter.Seq[ReferenceFoodRecord]
	Len() int
}
