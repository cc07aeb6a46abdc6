package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// ModelStore implements storage.ModelStore using PostgreSQL.
type ModelStore struct {
	pool *Pool
}

// NewModelStore creates a new ModelStore.
func NewModelStore(pool *Pool) *ModelStore {
	return &ModelStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ModelStore = (*ModelStore)(nil)

// JSONB projections of the score types.
type modelScoreJSON struct {
	Recent *float64 `json:"recent"`
	Steady *float64 `json:"steady"`
	Anchor *float64 `json:"anchor"`
}

type scopeScoreJSON struct {
	Asset   string         `json:"asset"`
	Horizon int64          `json:"horizon"`
	Steps   []int64        `json:"steps"`
	Score   modelScoreJSON `json:"score"`
}

func toScoreJSON(s domain.ModelScore) modelScoreJSON {
	return modelScoreJSON{Recent: s.Recent, Steady: s.Steady, Anchor: s.Anchor}
}

func (j modelScoreJSON) toDomain() domain.ModelScore {
	return domain.ModelScore{Recent: j.Recent, Steady: j.Steady, Anchor: j.Anchor}
}

// Upsert inserts a model or replaces its mutable fields by ID.
func (s *ModelStore) Upsert(ctx context.Context, m *domain.Model) error {
	query := `
		INSERT INTO models (
			id, name, player_id, player_name, deployment_identifier,
			overall_score, scores_by_scope, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name,
		              player_id = EXCLUDED.player_id,
		              player_name = EXCLUDED.player_name,
		              deployment_identifier = EXCLUDED.deployment_identifier,
		              overall_score = EXCLUDED.overall_score,
		              scores_by_scope = EXCLUDED.scores_by_scope,
		              updated_at = EXCLUDED.updated_at
	`

	var overall []byte
	var err error
	if m.OverallScore != nil {
		overall, err = marshalJSONB(toScoreJSON(*m.OverallScore))
		if err != nil {
			return err
		}
	}

	var scopes []byte
	if len(m.ScoresByScope) > 0 {
		entries := make([]scopeScoreJSON, len(m.ScoresByScope))
		for i, sc := range m.ScoresByScope {
			entries[i] = scopeScoreJSON{
				Asset:   sc.Params.Asset,
				Horizon: sc.Params.Horizon,
				Steps:   sc.Params.Steps,
				Score:   toScoreJSON(sc.Score),
			}
		}
		scopes, err = marshalJSONB(entries)
		if err != nil {
			return err
		}
	}

	_, err = s.pool.Exec(ctx, query,
		m.ID,
		m.Name,
		m.PlayerID,
		m.PlayerName,
		m.DeploymentIdentifier,
		overall,
		scopes,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert model: %w", err)
	}
	return nil
}

// UpsertIdentity inserts a model or refreshes its identity fields by ID.
// Score columns stay untouched; the scoring engine is their single writer.
func (s *ModelStore) UpsertIdentity(ctx context.Context, m *domain.Model) error {
	query := `
		INSERT INTO models (
			id, name, player_id, player_name, deployment_identifier,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name,
		              player_id = EXCLUDED.player_id,
		              player_name = EXCLUDED.player_name,
		              deployment_identifier = EXCLUDED.deployment_identifier,
		              updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		m.ID,
		m.Name,
		m.PlayerID,
		m.PlayerName,
		m.DeploymentIdentifier,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert model identity: %w", err)
	}
	return nil
}

// GetByID retrieves a model by ID. Returns ErrNotFound if not exists.
func (s *ModelStore) GetByID(ctx context.Context, id string) (*domain.Model, error) {
	query := modelSelect + ` WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	m, err := scanModel(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get model by id: %w", err)
	}
	return m, nil
}

// List retrieves all registered models, ordered by ID ASC.
func (s *ModelStore) List(ctx context.Context) ([]*domain.Model, error) {
	query := modelSelect + ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var result []*domain.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model row: %w", err)
		}
		result = append(result, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model rows: %w", err)
	}

	return result, nil
}

const modelSelect = `
	SELECT id, name, player_id, player_name, deployment_identifier,
	       overall_score, scores_by_scope, created_at, updated_at
	FROM models
`

// scanModel scans a single row into a Model.
func scanModel(row pgx.Row) (*domain.Model, error) {
	var m domain.Model
	var overall, scopes []byte

	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.PlayerID,
		&m.PlayerName,
		&m.DeploymentIdentifier,
		&overall,
		&scopes,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(overall) > 0 {
		var score modelScoreJSON
		if err := unmarshalJSONB(overall, &score); err != nil {
			return nil, err
		}
		overallScore := score.toDomain()
		m.OverallScore = &overallScore
	}

	if len(scopes) > 0 {
		var entries []scopeScoreJSON
		if err := unmarshalJSONB(scopes, &entries); err != nil {
			return nil, err
		}
		m.ScoresByScope = make([]domain.ScopeScore, len(entries))
		for i, e := range entries {
			m.ScoresByScope[i] = domain.ScopeScore{
				Params: domain.PredictionParams{Asset: e.Asset, Horizon: e.Horizon, Steps: e.Steps},
				Score:  e.Score.toDomain(),
			}
		}
	}

	return &m, nil
}
