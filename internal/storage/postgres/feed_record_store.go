package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// FeedRecordStore implements storage.FeedRecordStore using PostgreSQL.
type FeedRecordStore struct {
	pool *Pool
}

// NewFeedRecordStore creates a new FeedRecordStore.
func NewFeedRecordStore(pool *Pool) *FeedRecordStore {
	return &FeedRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FeedRecordStore = (*FeedRecordStore)(nil)

// Upsert inserts or replaces records by (source, subject, kind, granularity,
// ts_event). Returns the number of records written.
func (s *FeedRecordStore) Upsert(ctx context.Context, records []*domain.FeedRecord) (int, error) {
	query := `
		INSERT INTO market_records (
			source, subject, kind, granularity, ts_event, "values", meta, ts_ingested
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (source, subject, kind, granularity, ts_event)
		DO UPDATE SET "values" = EXCLUDED."values", meta = EXCLUDED.meta, ts_ingested = now()
	`

	written := 0
	for _, r := range records {
		values, err := marshalJSONB(r.Values)
		if err != nil {
			return written, err
		}
		meta, err := marshalJSONB(r.Meta)
		if err != nil {
			return written, err
		}

		_, err = s.pool.Exec(ctx, query,
			r.Source,
			r.Subject,
			r.Kind,
			r.Granularity,
			r.TsEvent,
			values,
			meta,
		)
		if err != nil {
			return written, fmt.Errorf("upsert market record: %w", err)
		}
		written++
	}
	return written, nil
}

// GetWindow retrieves records for a scope within [startTs, endTs] inclusive,
// ordered by ts_event ASC. A positive limit caps the result from the start.
func (s *FeedRecordStore) GetWindow(ctx context.Context, scope domain.FeedScope, startTs, endTs int64, limit int) ([]*domain.FeedRecord, error) {
	query := `
		SELECT source, subject, kind, granularity, ts_event, "values", meta, ts_ingested
		FROM market_records
		WHERE source = $1 AND subject = $2 AND kind = $3 AND granularity = $4
		  AND ts_event >= $5 AND ts_event <= $6
		ORDER BY ts_event ASC
	`
	args := []any{scope.Source, scope.Subject, scope.Kind, scope.Granularity, startTs, endTs}
	if limit > 0 {
		query += " LIMIT $7"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get market record window: %w", err)
	}
	defer rows.Close()

	return scanFeedRecords(rows)
}

// GetLatest retrieves the newest record for a scope with ts_event <= atOrBefore
// (0 means no bound). Returns ErrNotFound when nothing matches.
func (s *FeedRecordStore) GetLatest(ctx context.Context, scope domain.FeedScope, atOrBefore int64) (*domain.FeedRecord, error) {
	query := `
		SELECT source, subject, kind, granularity, ts_event, "values", meta, ts_ingested
		FROM market_records
		WHERE source = $1 AND subject = $2 AND kind = $3 AND granularity = $4
	`
	args := []any{scope.Source, scope.Subject, scope.Kind, scope.Granularity}
	if atOrBefore > 0 {
		query += " AND ts_event <= $5"
		args = append(args, atOrBefore)
	}
	query += " ORDER BY ts_event DESC LIMIT 1"

	row := s.pool.QueryRow(ctx, query, args...)
	r, err := scanFeedRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest market record: %w", err)
	}
	return r, nil
}

// DeleteOlderThan prunes records of a scope with ts_event < cutoffTs.
func (s *FeedRecordStore) DeleteOlderThan(ctx context.Context, scope domain.FeedScope, cutoffTs int64) (int64, error) {
	query := `
		DELETE FROM market_records
		WHERE source = $1 AND subject = $2 AND kind = $3 AND granularity = $4
		  AND ts_event < $5
	`

	tag, err := s.pool.Exec(ctx, query, scope.Source, scope.Subject, scope.Kind, scope.Granularity, cutoffTs)
	if err != nil {
		return 0, fmt.Errorf("delete old market records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanFeedRecord scans a single row into a FeedRecord.
func scanFeedRecord(row pgx.Row) (*domain.FeedRecord, error) {
	var r domain.FeedRecord
	var values, meta []byte

	err := row.Scan(
		&r.Source,
		&r.Subject,
		&r.Kind,
		&r.Granularity,
		&r.TsEvent,
		&values,
		&meta,
		&r.TsIngested,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(values, &r.Values); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(meta, &r.Meta); err != nil {
		return nil, err
	}
	return &r, nil
}

// scanFeedRecords scans multiple rows into a slice of FeedRecord.
func scanFeedRecords(rows pgx.Rows) ([]*domain.FeedRecord, error) {
	var records []*domain.FeedRecord

	for rows.Next() {
		r, err := scanFeedRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market record row: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market record rows: %w", err)
	}

	return records, nil
}
