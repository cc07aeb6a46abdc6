package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// PredictionStore implements storage.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *Pool
}

// NewPredictionStore creates a new PredictionStore.
func NewPredictionStore(pool *Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PredictionStore = (*PredictionStore)(nil)

// Insert adds a new prediction. Returns ErrDuplicateKey when a record for the
// same (model_id, scope_key, performed_at) already exists.
func (s *PredictionStore) Insert(ctx context.Context, p *domain.PredictionRecord) error {
	if p == nil || p.ID == "" || p.ModelID == "" || p.ScopeKey == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO predictions (
			id, input_id, model_id, prediction_config_id, scope_key, scope,
			status, exec_time_ms, inference_output, performed_at, resolvable_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	scope, err := marshalJSONB(p.Scope)
	if err != nil {
		return err
	}
	output, err := marshalJSONB(p.InferenceOutput)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, query,
		p.ID,
		p.InputID,
		p.ModelID,
		p.PredictionConfigID,
		p.ScopeKey,
		scope,
		string(p.Status),
		p.ExecTimeMs,
		output,
		p.PerformedAt,
		p.ResolvableAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// GetByID retrieves a prediction by ID. Returns ErrNotFound if not exists.
func (s *PredictionStore) GetByID(ctx context.Context, id string) (*domain.PredictionRecord, error) {
	query := predictionSelect + ` WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	p, err := scanPrediction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get prediction by id: %w", err)
	}
	return p, nil
}

// ListPendingDue retrieves PENDING predictions with resolvable_at <= before,
// ordered by resolvable_at ASC.
func (s *PredictionStore) ListPendingDue(ctx context.Context, before time.Time) ([]*domain.PredictionRecord, error) {
	query := predictionSelect + `
		WHERE status = $1 AND resolvable_at <= $2
		ORDER BY resolvable_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(domain.PredictionPending), before)
	if err != nil {
		return nil, fmt.Errorf("list pending due predictions: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// ListByModelScopeSince retrieves a model's terminal-status predictions for a
// scope key with performed_at >= since, ordered by performed_at ASC.
func (s *PredictionStore) ListByModelScopeSince(ctx context.Context, modelID, scopeKey string, since time.Time) ([]*domain.PredictionRecord, error) {
	query := predictionSelect + `
		WHERE model_id = $1 AND scope_key = $2 AND performed_at >= $3 AND status <> $4
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, modelID, scopeKey, since, string(domain.PredictionPending))
	if err != nil {
		return nil, fmt.Errorf("list predictions by model scope: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// UpdateStatus transitions a prediction's status. SCORED and FAILED are
// terminal; transitions out of them return ErrInvalidInput.
func (s *PredictionStore) UpdateStatus(ctx context.Context, id string, status domain.PredictionStatus) error {
	query := `
		UPDATE predictions
		SET status = $2
		WHERE id = $1 AND (status NOT IN ($3, $4) OR status = $2)
	`

	tag, err := s.pool.Exec(ctx, query, id, string(status),
		string(domain.PredictionScored), string(domain.PredictionFailed))
	if err != nil {
		return fmt.Errorf("update prediction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a rejected terminal transition.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM predictions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check prediction exists: %w", err)
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrInvalidInput
	}
	return nil
}

// LastPerformedAt returns the newest performed_at across all predictions of a
// scope key, or nil when none exist.
func (s *PredictionStore) LastPerformedAt(ctx context.Context, scopeKey string) (*time.Time, error) {
	query := `
		SELECT MAX(performed_at)
		FROM predictions
		WHERE scope_key = $1
	`

	var last *time.Time
	if err := s.pool.QueryRow(ctx, query, scopeKey).Scan(&last); err != nil {
		return nil, fmt.Errorf("get last performed_at: %w", err)
	}
	return last, nil
}

// EarliestPerformedAt returns the oldest performed_at for a model and scope
// key, or nil when none exist.
func (s *PredictionStore) EarliestPerformedAt(ctx context.Context, modelID, scopeKey string) (*time.Time, error) {
	query := `
		SELECT MIN(performed_at)
		FROM predictions
		WHERE model_id = $1 AND scope_key = $2
	`

	var earliest *time.Time
	if err := s.pool.QueryRow(ctx, query, modelID, scopeKey).Scan(&earliest); err != nil {
		return nil, fmt.Errorf("get earliest performed_at: %w", err)
	}
	return earliest, nil
}

// DeleteSettledOlderThan prunes settled (non-PENDING) predictions with
// performed_at < cutoff. Returns the deleted IDs.
func (s *PredictionStore) DeleteSettledOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `
		DELETE FROM predictions
		WHERE status <> $1 AND performed_at < $2
		RETURNING id
	`

	rows, err := s.pool.Query(ctx, query, string(domain.PredictionPending), cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete settled predictions: %w", err)
	}
	defer rows.Close()

	var deleted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted prediction id: %w", err)
		}
		deleted = append(deleted, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted prediction ids: %w", err)
	}

	return deleted, nil
}

const predictionSelect = `
	SELECT id, input_id, model_id, prediction_config_id, scope_key, scope,
	       status, exec_time_ms, inference_output, performed_at, resolvable_at
	FROM predictions
`

// scanPrediction scans a single row into a PredictionRecord.
func scanPrediction(row pgx.Row) (*domain.PredictionRecord, error) {
	var p domain.PredictionRecord
	var scope, output []byte
	var statusStr string

	err := row.Scan(
		&p.ID,
		&p.InputID,
		&p.ModelID,
		&p.PredictionConfigID,
		&p.ScopeKey,
		&scope,
		&statusStr,
		&p.ExecTimeMs,
		&output,
		&p.PerformedAt,
		&p.ResolvableAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.PredictionStatus(statusStr)
	if err := unmarshalJSONB(scope, &p.Scope); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(output, &p.InferenceOutput); err != nil {
		return nil, err
	}
	return &p, nil
}

// scanPredictions scans multiple rows into a slice of PredictionRecord.
func scanPredictions(rows pgx.Rows) ([]*domain.PredictionRecord, error) {
	var result []*domain.PredictionRecord

	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction row: %w", err)
		}
		result = append(result, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prediction rows: %w", err)
	}

	return result, nil
}
