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

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ModelScoreSnapshot // keyed by model_id|performed_at
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.ModelScoreSnapshot),
	}
}

func snapshotKey(modelID string, performedAt time.Time) string {
	return fmt.Sprintf("%s|%d", modelID, performedAt.UTC().UnixMilli())
}

func copySnapshot(snap *domain.ModelScoreSnapshot) *domain.ModelScoreSnapshot {
	copy := *snap
	if snap.Metrics != nil {
		copy.Metrics = make(map[string]*float64, len(snap.Metrics))
		for k, v := range snap.Metrics {
			copy.Metrics[k] = v
		}
	}
	return &copy
}

// Upsert inserts or replaces snapshots by (model_id, performed_at).
func (s *SnapshotStore) Upsert(_ context.Context, snapshots []*domain.ModelScoreSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		if snap == nil || snap.ModelID == "" {
			return storage.ErrInvalidInput
		}
		s.data[snapshotKey(snap.ModelID, snap.PerformedAt)] = copySnapshot(snap)
	}
	return nil
}

// ListByPeriod retrieves snapshots with performed_at in [start, end).
func (s *SnapshotStore) ListByPeriod(_ context.Context, start, end time.Time) ([]*domain.ModelScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ModelScoreSnapshot
	for _, snap := range s.data {
		if !snap.PerformedAt.Before(start) && snap.PerformedAt.Before(end) {
			result = append(result, copySnapshot(snap))
		}
	}
	sortSnapshots(result)
	return result, nil
}

// ListByModelSince retrieves one model's snapshots with performed_at >= since.
func (s *SnapshotStore) ListByModelSince(_ context.Context, modelID string, since time.Time) ([]*domain.ModelScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ModelScoreSnapshot
	for _, snap := range s.data {
		if snap.ModelID == modelID && !snap.PerformedAt.Before(since) {
			result = append(result, copySnapshot(snap))
		}
	}
	sortSnapshots(result)
	return result, nil
}

// DeleteOlderThan prunes snapshots with performed_at < cutoff.
func (s *SnapshotStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, snap := range s.data {
		if snap.PerformedAt.Before(cutoff) {
			delete(s.data, key)
			deleted++
		}
	}
	return deleted, nil
}

func sortSnapshots(snaps []*domain.ModelScoreSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].ModelID != snaps[j].ModelID {
			return snaps[i].ModelID < snaps[j].ModelID
		}
		return snaps[i].PerformedAt.Before(snaps[j].PerformedAt)
	})
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
