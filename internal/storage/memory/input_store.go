package memory

import (
	"context"
	"sort"
	"sync"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// InputStore is an in-memory implementation of storage.InputStore.
type InputStore struct {
	mu   sync.RWMutex
	data map[string]*domain.InputRecord
}

// NewInputStore creates a new in-memory input store.
func NewInputStore() *InputStore {
	return &InputStore{
		data: make(map[string]*domain.InputRecord),
	}
}

// Insert adds a new input. Returns ErrDuplicateKey if the ID exists.
func (s *InputStore) Insert(_ context.Context, in *domain.InputRecord) error {
	if in == nil || in.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[in.ID]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *in
	s.data[in.ID] = &copy
	return nil
}

// GetByID retrieves an input by ID.
func (s *InputStore) GetByID(_ context.Context, id string) (*domain.InputRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *in
	return &copy, nil
}

// Resolve stores ground truth on an input and marks it RESOLVED.
func (s *InputStore) Resolve(_ context.Context, id string, actuals map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	in.Actuals = actuals
	in.Status = domain.InputResolved
	return nil
}

// ListByStatus retrieves inputs in a status, ordered by received_at ASC.
func (s *InputStore) ListByStatus(_ context.Context, status domain.InputStatus) ([]*domain.InputRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.InputRecord
	for _, in := range s.data {
		if in.Status == status {
			copy := *in
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.Before(result[j].ReceivedAt)
	})
	return result, nil
}

var _ storage.InputStore = (*InputStore)(nil)
