package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// PredictionStore is an in-memory implementation of storage.PredictionStore.
type PredictionStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.PredictionRecord
	bySlot map[string]string // model_id|scope_key|performed_at -> id
}

// NewPredictionStore creates a new in-memory prediction store.
func NewPredictionStore() *PredictionStore {
	return &PredictionStore{
		data:   make(map[string]*domain.PredictionRecord),
		bySlot: make(map[string]string),
	}
}

func predictionSlot(modelID, scopeKey string, performedAt time.Time) string {
	return fmt.Sprintf("%s|%s|%d", modelID, scopeKey, performedAt.UTC().UnixMilli())
}

// Insert adds a new prediction. Returns ErrDuplicateKey when a record for the
// same (model_id, scope_key, performed_at) already exists.
func (s *PredictionStore) Insert(_ context.Context, p *domain.PredictionRecord) error {
	if p == nil || p.ID == "" || p.ModelID == "" || p.ScopeKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot := predictionSlot(p.ModelID, p.ScopeKey, p.PerformedAt)
	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.bySlot[slot]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *p
	s.data[p.ID] = &copy
	s.bySlot[slot] = p.ID
	return nil
}

// GetByID retrieves a prediction by ID.
func (s *PredictionStore) GetByID(_ context.Context, id string) (*domain.PredictionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// ListPendingDue retrieves PENDING predictions with resolvable_at <= before.
func (s *PredictionStore) ListPendingDue(_ context.Context, before time.Time) ([]*domain.PredictionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PredictionRecord
	for _, p := range s.data {
		if p.Status == domain.PredictionPending && !p.ResolvableAt.After(before) {
			copy := *p
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ResolvableAt.Before(result[j].ResolvableAt)
	})
	return result, nil
}

// ListByModelScopeSince retrieves a model's terminal-status predictions for a
// scope key with performed_at >= since, ordered by performed_at ASC.
func (s *PredictionStore) ListByModelScopeSince(_ context.Context, modelID, scopeKey string, since time.Time) ([]*domain.PredictionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PredictionRecord
	for _, p := range s.data {
		if p.ModelID != modelID || p.ScopeKey != scopeKey {
			continue
		}
		if p.Status == domain.PredictionPending || p.PerformedAt.Before(since) {
			continue
		}
		copy := *p
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PerformedAt.Before(result[j].PerformedAt)
	})
	return result, nil
}

// UpdateStatus transitions a prediction's status. Terminal states are final.
func (s *PredictionStore) UpdateStatus(_ context.Context, id string, status domain.PredictionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if p.Status.Terminal() && p.Status != status {
		return storage.ErrInvalidInput
	}
	p.Status = status
	return nil
}

// LastPerformedAt returns the newest performed_at for a scope key.
func (s *PredictionStore) LastPerformedAt(_ context.Context, scopeKey string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *time.Time
	for _, p := range s.data {
		if p.ScopeKey != scopeKey {
			continue
		}
		if last == nil || p.PerformedAt.After(*last) {
			t := p.PerformedAt
			last = &t
		}
	}
	return last, nil
}

// EarliestPerformedAt returns the oldest performed_at for a model and scope.
func (s *PredictionStore) EarliestPerformedAt(_ context.Context, modelID, scopeKey string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest *time.Time
	for _, p := range s.data {
		if p.ModelID != modelID || p.ScopeKey != scopeKey {
			continue
		}
		if earliest == nil || p.PerformedAt.Before(*earliest) {
			t := p.PerformedAt
			earliest = &t
		}
	}
	return earliest, nil
}

// DeleteSettledOlderThan prunes settled predictions with performed_at <
// cutoff. PENDING rows are never deleted.
func (s *PredictionStore) DeleteSettledOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []string
	for id, p := range s.data {
		if p.Status == domain.PredictionPending || !p.PerformedAt.Before(cutoff) {
			continue
		}
		delete(s.data, id)
		delete(s.bySlot, predictionSlot(p.ModelID, p.ScopeKey, p.PerformedAt))
		deleted = append(deleted, id)
	}
	return deleted, nil
}

var _ storage.PredictionStore = (*PredictionStore)(nil)
