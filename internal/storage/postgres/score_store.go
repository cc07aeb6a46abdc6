package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// ScoreStore implements storage.ScoreStore using PostgreSQL.
type ScoreStore struct {
	pool *Pool
}

// NewScoreStore creates a new ScoreStore.
func NewScoreStore(pool *Pool) *ScoreStore {
	return &ScoreStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ScoreStore = (*ScoreStore)(nil)

// Insert adds a new score. Returns ErrDuplicateKey if the prediction is
// already scored.
func (s *ScoreStore) Insert(ctx context.Context, sc *domain.ScoreRecord) error {
	query := `
		INSERT INTO scores (
			id, prediction_id, raw_value, final_value, success, failed_reason, scored_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		sc.ID,
		sc.PredictionID,
		sc.Raw,
		sc.Final,
		sc.Success,
		sc.FailedReason,
		sc.ScoredAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

// GetByPredictionID retrieves the score of one prediction.
func (s *ScoreStore) GetByPredictionID(ctx context.Context, predictionID string) (*domain.ScoreRecord, error) {
	query := `
		SELECT id, prediction_id, raw_value, final_value, success, failed_reason, scored_at
		FROM scores
		WHERE prediction_id = $1
	`

	row := s.pool.QueryRow(ctx, query, predictionID)
	sc, err := scanScore(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get score by prediction id: %w", err)
	}
	return sc, nil
}

// ListByPredictionIDs retrieves scores for a set of predictions. Missing
// predictions are skipped, not an error.
func (s *ScoreStore) ListByPredictionIDs(ctx context.Context, predictionIDs []string) ([]*domain.ScoreRecord, error) {
	if len(predictionIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, prediction_id, raw_value, final_value, success, failed_reason, scored_at
		FROM scores
		WHERE prediction_id = ANY($1)
		ORDER BY scored_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, predictionIDs)
	if err != nil {
		return nil, fmt.Errorf("list scores by prediction ids: %w", err)
	}
	defer rows.Close()

	var result []*domain.ScoreRecord
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan score row: %w", err)
		}
		result = append(result, sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score rows: %w", err)
	}

	return result, nil
}

// DeleteByPredictionIDs removes the scores of pruned predictions.
func (s *ScoreStore) DeleteByPredictionIDs(ctx context.Context, predictionIDs []string) (int64, error) {
	if len(predictionIDs) == 0 {
		return 0, nil
	}

	query := `DELETE FROM scores WHERE prediction_id = ANY($1)`

	tag, err := s.pool.Exec(ctx, query, predictionIDs)
	if err != nil {
		return 0, fmt.Errorf("delete scores by prediction ids: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanScore scans a single row into a ScoreRecord.
func scanScore(row pgx.Row) (*domain.ScoreRecord, error) {
	var sc domain.ScoreRecord
	err := row.Scan(
		&sc.ID,
		&sc.PredictionID,
		&sc.Raw,
		&sc.Final,
		&sc.Success,
		&sc.FailedReason,
		&sc.ScoredAt,
	)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}
