package postgres

import (
	"context"
	"fmt"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// IngestionStateStore implements storage.IngestionStateStore using PostgreSQL.
type IngestionStateStore struct {
	pool *Pool
}

// NewIngestionStateStore creates a new IngestionStateStore.
func NewIngestionStateStore(pool *Pool) *IngestionStateStore {
	return &IngestionStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.IngestionStateStore = (*IngestionStateStore)(nil)

// Get retrieves the watermark for a scope. Returns ErrNotFound if the scope
// has never been ingested.
func (s *IngestionStateStore) Get(ctx context.Context, scope domain.FeedScope) (*domain.IngestionWatermark, error) {
	query := `
		SELECT source, subject, kind, granularity, last_event_ts, updated_at, meta
		FROM market_ingestion_state
		WHERE source = $1 AND subject = $2 AND kind = $3 AND granularity = $4
	`

	row := s.pool.QueryRow(ctx, query, scope.Source, scope.Subject, scope.Kind, scope.Granularity)

	var wm domain.IngestionWatermark
	var meta []byte
	err := row.Scan(
		&wm.Scope.Source,
		&wm.Scope.Subject,
		&wm.Scope.Kind,
		&wm.Scope.Granularity,
		&wm.LastEventTs,
		&wm.UpdatedAt,
		&meta,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get ingestion watermark: %w", err)
	}

	if err := unmarshalJSONB(meta, &wm.Meta); err != nil {
		return nil, err
	}
	return &wm, nil
}

// Upsert inserts or advances a watermark.
func (s *IngestionStateStore) Upsert(ctx context.Context, wm *domain.IngestionWatermark) error {
	query := `
		INSERT INTO market_ingestion_state (
			source, subject, kind, granularity, last_event_ts, updated_at, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, subject, kind, granularity)
		DO UPDATE SET last_event_ts = EXCLUDED.last_event_ts,
		              updated_at = EXCLUDED.updated_at,
		              meta = EXCLUDED.meta
	`

	meta, err := marshalJSONB(wm.Meta)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, query,
		wm.Scope.Source,
		wm.Scope.Subject,
		wm.Scope.Kind,
		wm.Scope.Granularity,
		wm.LastEventTs,
		wm.UpdatedAt,
		meta,
	)
	if err != nil {
		return fmt.Errorf("upsert ingestion watermark: %w", err)
	}
	return nil
}

// List retrieves all known watermarks.
func (s *IngestionStateStore) List(ctx context.Context) ([]*domain.IngestionWatermark, error) {
	query := `
		SELECT source, subject, kind, granularity, last_event_ts, updated_at, meta
		FROM market_ingestion_state
		ORDER BY source ASC, subject ASC, kind ASC, granularity ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list ingestion watermarks: %w", err)
	}
	defer rows.Close()

	var result []*domain.IngestionWatermark
	for rows.Next() {
		var wm domain.IngestionWatermark
		var meta []byte
		err := rows.Scan(
			&wm.Scope.Source,
			&wm.Scope.Subject,
			&wm.Scope.Kind,
			&wm.Scope.Granularity,
			&wm.LastEventTs,
			&wm.UpdatedAt,
			&meta,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ingestion watermark row: %w", err)
		}
		if err := unmarshalJSONB(meta, &wm.Meta); err != nil {
			return nil, err
		}
		result = append(result, &wm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingestion watermark rows: %w", err)
	}

	return result, nil
}
