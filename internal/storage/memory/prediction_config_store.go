package memory

import (
	"context"
	"sort"
	"sync"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// PredictionConfigStore is an in-memory implementation of
// storage.PredictionConfigStore.
type PredictionConfigStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ScheduledPredictionConfig
}

// NewPredictionConfigStore creates a new in-memory config store.
func NewPredictionConfigStore() *PredictionConfigStore {
	return &PredictionConfigStore{
		data: make(map[string]*domain.ScheduledPredictionConfig),
	}
}

// Upsert inserts a config or replaces it by ID.
func (s *PredictionConfigStore) Upsert(_ context.Context, c *domain.ScheduledPredictionConfig) error {
	if c == nil || c.ID == "" || c.ScopeKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *c
	copy.Params.Steps = append([]int64(nil), c.Params.Steps...)
	s.data[c.ID] = &copy
	return nil
}

// GetByID retrieves a config by ID.
func (s *PredictionConfigStore) GetByID(_ context.Context, id string) (*domain.ScheduledPredictionConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *c
	return &copy, nil
}

// ListActive retrieves active configs ordered by (sort order, ID).
func (s *PredictionConfigStore) ListActive(_ context.Context) ([]*domain.ScheduledPredictionConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ScheduledPredictionConfig
	for _, c := range s.data {
		if c.Active {
			copy := *c
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ storage.PredictionConfigStore = (*PredictionConfigStore)(nil)
