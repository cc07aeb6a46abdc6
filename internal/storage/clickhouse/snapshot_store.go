package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// The backing table is a ReplacingMergeTree keyed by (model_id, performed_at),
// so re-upserting a snapshot converges on the row with the newest created_at.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Upsert inserts or replaces snapshots by (model_id, performed_at).
func (s *SnapshotStore) Upsert(ctx context.Context, snapshots []*domain.ModelScoreSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO model_score_snapshots (
			model_id, performed_at, metrics, prediction_count, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		metrics, err := json.Marshal(snap.Metrics)
		if err != nil {
			return fmt.Errorf("marshal snapshot metrics: %w", err)
		}

		err = batch.Append(
			snap.ModelID,
			snap.PerformedAt,
			string(metrics),
			uint32(snap.PredictionCount),
			snap.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// ListByPeriod retrieves snapshots with performed_at in [start, end), ordered
// by (model_id, performed_at) ASC.
func (s *SnapshotStore) ListByPeriod(ctx context.Context, start, end time.Time) ([]*domain.ModelScoreSnapshot, error) {
	query := `
		SELECT model_id, performed_at, metrics, prediction_count, created_at
		FROM model_score_snapshots FINAL
		WHERE performed_at >= ? AND performed_at < ?
		ORDER BY model_id ASC, performed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query snapshots by period: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ListByModelSince retrieves one model's snapshots with performed_at >= since,
// ordered by performed_at ASC.
func (s *SnapshotStore) ListByModelSince(ctx context.Context, modelID string, since time.Time) ([]*domain.ModelScoreSnapshot, error) {
	query := `
		SELECT model_id, performed_at, metrics, prediction_count, created_at
		FROM model_score_snapshots FINAL
		WHERE model_id = ? AND performed_at >= ?
		ORDER BY performed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, modelID, since)
	if err != nil {
		return nil, fmt.Errorf("query snapshots by model: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// DeleteOlderThan prunes snapshots with performed_at < cutoff. Returns the
// number of deleted snapshots.
func (s *SnapshotStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM model_score_snapshots FINAL
		WHERE performed_at < ?
	`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count old snapshots: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	err = s.conn.Exec(ctx, `
		DELETE FROM model_score_snapshots
		WHERE performed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}

	return int64(count), nil
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]*domain.ModelScoreSnapshot, error) {
	var snapshots []*domain.ModelScoreSnapshot

	for rows.Next() {
		var snap domain.ModelScoreSnapshot
		var metricsStr string
		var count uint32

		err := rows.Scan(
			&snap.ModelID,
			&snap.PerformedAt,
			&metricsStr,
			&count,
			&snap.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}

		if metricsStr != "" {
			if err := json.Unmarshal([]byte(metricsStr), &snap.Metrics); err != nil {
				return nil, fmt.Errorf("unmarshal snapshot metrics: %w", err)
			}
		}
		snap.PredictionCount = int(count)
		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	return snapshots, nil
}
