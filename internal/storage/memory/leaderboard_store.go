package memory

import (
	"context"
	"sync"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// LeaderboardStore is an in-memory implementation of storage.LeaderboardStore.
type LeaderboardStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Leaderboard
}

// NewLeaderboardStore creates a new in-memory leaderboard store.
func NewLeaderboardStore() *LeaderboardStore {
	return &LeaderboardStore{
		data: make(map[string]*domain.Leaderboard),
	}
}

func copyLeaderboard(lb *domain.Leaderboard) *domain.Leaderboard {
	copy := *lb
	copy.Entries = append([]domain.LeaderboardEntry(nil), lb.Entries...)
	return &copy
}

// Insert adds a new snapshot. Returns ErrDuplicateKey if the ID exists.
func (s *LeaderboardStore) Insert(_ context.Context, lb *domain.Leaderboard) error {
	if lb == nil || lb.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[lb.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[lb.ID] = copyLeaderboard(lb)
	return nil
}

// GetByID retrieves a snapshot by ID.
func (s *LeaderboardStore) GetByID(_ context.Context, id string) (*domain.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lb, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyLeaderboard(lb), nil
}

// GetLatest retrieves the newest snapshot by created_at.
func (s *LeaderboardStore) GetLatest(_ context.Context) (*domain.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Leaderboard
	for _, lb := range s.data {
		if latest == nil || lb.CreatedAt.After(latest.CreatedAt) {
			latest = lb
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return copyLeaderboard(latest), nil
}

var _ storage.LeaderboardStore = (*LeaderboardStore)(nil)
