package memory

import (
	"context"
	"sort"
	"sync"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CheckpointRecord
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make(map[string]*domain.CheckpointRecord),
	}
}

func copyCheckpoint(ck *domain.CheckpointRecord) *domain.CheckpointRecord {
	copy := *ck
	copy.Emission.CruncherRewards = append([]domain.CruncherReward(nil), ck.Emission.CruncherRewards...)
	copy.Emission.ComputeProviderRewards = append([]domain.ProviderReward(nil), ck.Emission.ComputeProviderRewards...)
	copy.Emission.DataProviderRewards = append([]domain.ProviderReward(nil), ck.Emission.DataProviderRewards...)
	return &copy
}

// Insert adds a new checkpoint. Returns ErrDuplicateKey if the period was
// already checkpointed.
func (s *CheckpointStore) Insert(_ context.Context, ck *domain.CheckpointRecord) error {
	if ck == nil || ck.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[ck.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[ck.ID] = copyCheckpoint(ck)
	return nil
}

// GetByID retrieves a checkpoint by ID.
func (s *CheckpointStore) GetByID(_ context.Context, id string) (*domain.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ck, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyCheckpoint(ck), nil
}

// GetLatest retrieves the newest checkpoint by period end.
func (s *CheckpointStore) GetLatest(_ context.Context) (*domain.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.CheckpointRecord
	for _, ck := range s.data {
		if latest == nil || ck.PeriodEnd.After(latest.PeriodEnd) {
			latest = ck
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return copyCheckpoint(latest), nil
}

// ListByStatus retrieves checkpoints in a status, ordered by period ASC.
func (s *CheckpointStore) ListByStatus(_ context.Context, status domain.CheckpointStatus) ([]*domain.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CheckpointRecord
	for _, ck := range s.data {
		if ck.Status == status {
			result = append(result, copyCheckpoint(ck))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PeriodStart.Before(result[j].PeriodStart)
	})
	return result, nil
}

// UpdateStatus transitions a checkpoint's status.
func (s *CheckpointStore) UpdateStatus(_ context.Context, id string, status domain.CheckpointStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ck, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	ck.Status = status
	return nil
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
