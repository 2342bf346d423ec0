package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emissionary/backend/internal/domain"
	"github.com/emissionary/backend/internal/infrastructure/dataset"
)

func newTestStore(t *testing.T, records ...domain.ReferenceFoodRecord) *dataset.Store {
	t.Helper()
	store, err := dataset.NewStore(records, "test")
	require.NoError(t, err)
	return store
}

func rec(name, category string, factor float64) domain.ReferenceFoodRecord {
	return domain.ReferenceFoodRecord{Name: name, Category: category, EmissionFactorPerKg: factor}
}

// stubCompleter is a scripted ChatCompleter. Responses are served in order;
// the last one repeats once the script runs out.
type stubCompleter struct {
	mu        sync.Mutex
	responses []stubResponse
	calls     atomic.Int32
	prompts   []domain.CompletionRequest
	respond   func(req domain.CompletionRequest) (string, error)
}

type stubResponse struct {
	content string
	err     error
}

func newStubCompleter(responses ...stubResponse) *stubCompleter {
	return &stubCompleter{responses: responses}
}

func (s *stubCompleter) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	n := int(s.calls.Add(1)) - 1

	s.mu.Lock()
	s.prompts = append(s.prompts, req)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", domain.FromContextError("stub", err)
	}
	if s.respond != nil {
		return s.respond(req)
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	if n >= len(s.responses) {
		n = len(s.responses) - 1
	}
	return s.responses[n].content, s.responses[n].err
}

func (s *stubCompleter) Calls() int {
	return int(s.calls.Load())
}

// stubOCR is a scripted OCRClient
type stubOCR struct {
	result *domain.OCRResult
	err    error
	calls  atomic.Int32
}

func (s *stubOCR) ExtractText(ctx context.Context, image []byte, mimeType string) (*domain.OCRResult, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, domain.FromContextError("stub", err)
	}
	return s.result, s.err
}

// MockCacheRepository is a mock implementation of domain.CacheRepository
type MockCacheRepository struct {
	mu        sync.Mutex
	data      map[string]interface{}
	getError  error
	setError  error
	getCalled bool
	setCalled bool
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		data: make(map[string]interface{}),
	}
}

func (m *MockCacheRepository) Get(ctx context.Context, key string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalled = true
	if m.getError != nil {
		return nil, m.getError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, domain.ErrCacheMiss
}

func (m *MockCacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalled = true
	if m.setError != nil {
		return m.setError
	}
	m.data[key] = value
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockCacheRepository) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}
