// Package memory provides in-memory store implementations used by tests and
// single-process development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// FeedRecordStore is an in-memory implementation of storage.FeedRecordStore.
type FeedRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FeedRecord // keyed by scope|ts_event
}

// NewFeedRecordStore creates a new in-memory feed record store.
func NewFeedRecordStore() *FeedRecordStore {
	return &FeedRecordStore{
		data: make(map[string]*domain.FeedRecord),
	}
}

func scopeKey(s domain.FeedScope) string {
	return fmt.Sprintf("%s|%s|%s|%s", s.Source, s.Subject, s.Kind, s.Granularity)
}

func recordKey(r *domain.FeedRecord) string {
	return fmt.Sprintf("%s|%d", scopeKey(r.Scope()), r.TsEvent)
}

// Upsert inserts or replaces records by (scope, ts_event).
func (s *FeedRecordStore) Upsert(_ context.Context, records []*domain.FeedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if rec == nil || rec.Source == "" || rec.Subject == "" {
			return 0, storage.ErrInvalidInput
		}
		copy := *rec
		s.data[recordKey(rec)] = &copy
	}
	return len(records), nil
}

// GetWindow retrieves records for a scope within [startTs, endTs], ordered by
// ts_event ASC. A positive limit caps the result from the window start.
func (s *FeedRecordStore) GetWindow(_ context.Context, scope domain.FeedScope, startTs, endTs int64, limit int) ([]*domain.FeedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeedRecord
	for _, rec := range s.data {
		if rec.Scope() == scope && rec.TsEvent >= startTs && rec.TsEvent <= endTs {
			copy := *rec
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TsEvent < result[j].TsEvent
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetLatest retrieves the newest record for a scope with ts_event <=
// atOrBefore (0 means no bound).
func (s *FeedRecordStore) GetLatest(_ context.Context, scope domain.FeedScope, atOrBefore int64) (*domain.FeedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.FeedRecord
	for _, rec := range s.data {
		if rec.Scope() != scope {
			continue
		}
		if atOrBefore > 0 && rec.TsEvent > atOrBefore {
			continue
		}
		if latest == nil || rec.TsEvent > latest.TsEvent {
			latest = rec
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}

	copy := *latest
	return &copy, nil
}

// DeleteOlderThan prunes records of a scope with ts_event < cutoffTs.
func (s *FeedRecordStore) DeleteOlderThan(_ context.Context, scope domain.FeedScope, cutoffTs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, rec := range s.data {
		if rec.Scope() == scope && rec.TsEvent < cutoffTs {
			delete(s.data, key)
			deleted++
		}
	}
	return deleted, nil
}

var _ storage.FeedRecordStore = (*FeedRecordStore)(nil)
