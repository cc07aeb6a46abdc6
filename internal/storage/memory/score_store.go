package memory

import (
	"context"
	"sync"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// ScoreStore is an in-memory implementation of storage.ScoreStore.
type ScoreStore struct {
	mu           sync.RWMutex
	data         map[string]*domain.ScoreRecord
	byPrediction map[string]string
}

// NewScoreStore creates a new in-memory score store.
func NewScoreStore() *ScoreStore {
	return &ScoreStore{
		data:         make(map[string]*domain.ScoreRecord),
		byPrediction: make(map[string]string),
	}
}

// Insert adds a new score. Returns ErrDuplicateKey if the prediction is
// already scored.
func (s *ScoreStore) Insert(_ context.Context, sc *domain.ScoreRecord) error {
	if sc == nil || sc.ID == "" || sc.PredictionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sc.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byPrediction[sc.PredictionID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *sc
	s.data[sc.ID] = &copy
	s.byPrediction[sc.PredictionID] = sc.ID
	return nil
}

// GetByPredictionID retrieves the score of one prediction.
func (s *ScoreStore) GetByPredictionID(_ context.Context, predictionID string) (*domain.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPrediction[predictionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *s.data[id]
	return &copy, nil
}

// ListByPredictionIDs retrieves scores for a set of predictions.
func (s *ScoreStore) ListByPredictionIDs(_ context.Context, predictionIDs []string) ([]*domain.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ScoreRecord, 0, len(predictionIDs))
	for _, pid := range predictionIDs {
		if id, ok := s.byPrediction[pid]; ok {
			copy := *s.data[id]
			result = append(result, &copy)
		}
	}
	return result, nil
}

// DeleteByPredictionIDs removes the scores of pruned predictions.
func (s *ScoreStore) DeleteByPredictionIDs(_ context.Context, predictionIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, pid := range predictionIDs {
		id, ok := s.byPrediction[pid]
		if !ok {
			continue
		}
		delete(s.data, id)
		delete(s.byPrediction, pid)
		deleted++
	}
	return deleted, nil
}

var _ storage.ScoreStore = (*ScoreStore)(nil)
