package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// IngestionStateStore is an in-memory implementation of
// storage.IngestionStateStore.
type IngestionStateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.IngestionWatermark
}

// NewIngestionStateStore creates a new in-memory watermark store.
func NewIngestionStateStore() *IngestionStateStore {
	return &IngestionStateStore{
		data: make(map[string]*domain.IngestionWatermark),
	}
}

// Get retrieves the watermark for a scope.
func (s *IngestionStateStore) Get(_ context.Context, scope domain.FeedScope) (*domain.IngestionWatermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wm, ok := s.data[scopeKey(scope)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *wm
	return &copy, nil
}

// Upsert inserts or advances a watermark.
func (s *IngestionStateStore) Upsert(_ context.Context, wm *domain.IngestionWatermark) error {
	if wm == nil || wm.Scope.Source == "" || wm.Scope.Subject == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *wm
	if copy.UpdatedAt.IsZero() {
		copy.UpdatedAt = time.Now().UTC()
	}
	s.data[scopeKey(wm.Scope)] = &copy
	return nil
}

// List retrieves all known watermarks.
func (s *IngestionStateStore) List(_ context.Context) ([]*domain.IngestionWatermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.IngestionWatermark, 0, len(s.data))
	for _, wm := range s.data {
		copy := *wm
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return scopeKey(result[i].Scope) < scopeKey(result[j].Scope)
	})
	return result, nil
}

var _ storage.IngestionStateStore = (*IngestionStateStore)(nil)
