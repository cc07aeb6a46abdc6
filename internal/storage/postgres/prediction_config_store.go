package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// PredictionConfigStore implements storage.PredictionConfigStore using
// PostgreSQL.
type PredictionConfigStore struct {
	pool *Pool
}

// NewPredictionConfigStore creates a new PredictionConfigStore.
func NewPredictionConfigStore(pool *Pool) *PredictionConfigStore {
	return &PredictionConfigStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PredictionConfigStore = (*PredictionConfigStore)(nil)

// Upsert inserts a config or replaces it by ID.
func (s *PredictionConfigStore) Upsert(ctx context.Context, c *domain.ScheduledPredictionConfig) error {
	query := `
		INSERT INTO scheduled_prediction_configs (
			id, scope_key, scope_template, asset, horizon_seconds, step_seconds,
			every_seconds, resolve_after_seconds, active, sort_order
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET scope_key = EXCLUDED.scope_key,
		              scope_template = EXCLUDED.scope_template,
		              asset = EXCLUDED.asset,
		              horizon_seconds = EXCLUDED.horizon_seconds,
		              step_seconds = EXCLUDED.step_seconds,
		              every_seconds = EXCLUDED.every_seconds,
		              resolve_after_seconds = EXCLUDED.resolve_after_seconds,
		              active = EXCLUDED.active,
		              sort_order = EXCLUDED.sort_order
	`

	template, err := marshalJSONB(c.ScopeTemplate)
	if err != nil {
		return err
	}
	steps, err := marshalJSONB(c.Params.Steps)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, query,
		c.ID,
		c.ScopeKey,
		template,
		c.Params.Asset,
		c.Params.Horizon,
		steps,
		c.Schedule.EverySeconds,
		c.Schedule.ResolveAfterSeconds,
		c.Active,
		c.Order,
	)
	if err != nil {
		return fmt.Errorf("upsert prediction config: %w", err)
	}
	return nil
}

// GetByID retrieves a config by ID. Returns ErrNotFound if not exists.
func (s *PredictionConfigStore) GetByID(ctx context.Context, id string) (*domain.ScheduledPredictionConfig, error) {
	query := predictionConfigSelect + ` WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	c, err := scanPredictionConfig(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get prediction config by id: %w", err)
	}
	return c, nil
}

// ListActive retrieves active configs ordered by (sort order, ID).
func (s *PredictionConfigStore) ListActive(ctx context.Context) ([]*domain.ScheduledPredictionConfig, error) {
	query := predictionConfigSelect + `
		WHERE active
		ORDER BY sort_order ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active prediction configs: %w", err)
	}
	defer rows.Close()

	var result []*domain.ScheduledPredictionConfig
	for rows.Next() {
		c, err := scanPredictionConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prediction config row: %w", err)
		}
		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prediction config rows: %w", err)
	}

	return result, nil
}

const predictionConfigSelect = `
	SELECT id, scope_key, scope_template, asset, horizon_seconds, step_seconds,
	       every_seconds, resolve_after_seconds, active, sort_order
	FROM scheduled_prediction_configs
`

// scanPredictionConfig scans a single row into a ScheduledPredictionConfig.
func scanPredictionConfig(row pgx.Row) (*domain.ScheduledPredictionConfig, error) {
	var c domain.ScheduledPredictionConfig
	var template, steps []byte

	err := row.Scan(
		&c.ID,
		&c.ScopeKey,
		&template,
		&c.Params.Asset,
		&c.Params.Horizon,
		&steps,
		&c.Schedule.EverySeconds,
		&c.Schedule.ResolveAfterSeconds,
		&c.Active,
		&c.Order,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(template, &c.ScopeTemplate); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(steps, &c.Params.Steps); err != nil {
		return nil, err
	}
	return &c, nil
}
