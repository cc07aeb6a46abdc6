package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// ModelStore is an in-memory implementation of storage.ModelStore.
type ModelStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Model
}

// NewModelStore creates a new in-memory model store.
func NewModelStore() *ModelStore {
	return &ModelStore{
		data: make(map[string]*domain.Model),
	}
}

func copyModel(m *domain.Model) *domain.Model {
	copy := *m
	if m.OverallScore != nil {
		sc := *m.OverallScore
		copy.OverallScore = &sc
	}
	copy.ScoresByScope = append([]domain.ScopeScore(nil), m.ScoresByScope...)
	return &copy
}

// Upsert inserts a model or replaces its mutable fields by ID.
func (s *ModelStore) Upsert(_ context.Context, m *domain.Model) error {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := copyModel(m)
	if existing, ok := s.data[m.ID]; ok {
		copy.CreatedAt = existing.CreatedAt
	} else if copy.CreatedAt.IsZero() {
		copy.CreatedAt = time.Now().UTC()
	}
	if copy.UpdatedAt.IsZero() {
		copy.UpdatedAt = time.Now().UTC()
	}
	s.data[m.ID] = copy
	return nil
}

// UpsertIdentity inserts a model or refreshes its identity fields by ID.
// Score columns stay untouched; the scoring engine is their single writer.
func (s *ModelStore) UpsertIdentity(_ context.Context, m *domain.Model) error {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := copyModel(m)
	copy.OverallScore = nil
	copy.ScoresByScope = nil
	if existing, ok := s.data[m.ID]; ok {
		copy.CreatedAt = existing.CreatedAt
		copy.OverallScore = existing.OverallScore
		copy.ScoresByScope = existing.ScoresByScope
	} else if copy.CreatedAt.IsZero() {
		copy.CreatedAt = time.Now().UTC()
	}
	if copy.UpdatedAt.IsZero() {
		copy.UpdatedAt = time.Now().UTC()
	}
	s.data[m.ID] = copy
	return nil
}

// GetByID retrieves a model by ID.
func (s *ModelStore) GetByID(_ context.Context, id string) (*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyModel(m), nil
}

// List retrieves all registered models, ordered by ID ASC.
func (s *ModelStore) List(_ context.Context) ([]*domain.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Model, 0, len(s.data))
	for _, m := range s.data {
		result = append(result, copyModel(m))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ storage.ModelStore = (*ModelStore)(nil)
