package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// JSONB projection of the emission vector.
type emissionJSON struct {
	Crunch                 string               `json:"crunch"`
	CruncherRewards        []cruncherRewardJSON `json:"cruncher_rewards"`
	ComputeProviderRewards []providerRewardJSON `json:"compute_provider_rewards,omitempty"`
	DataProviderRewards    []providerRewardJSON `json:"data_provider_rewards,omitempty"`
}

type cruncherRewardJSON struct {
	CruncherIndex int    `json:"cruncher_index"`
	ModelID       string `json:"model_id"`
	RewardPct     int64  `json:"reward_pct"`
}

type providerRewardJSON struct {
	Provider  string `json:"provider"`
	RewardPct int64  `json:"reward_pct"`
}

func toEmissionJSON(e domain.EmissionCheckpoint) emissionJSON {
	out := emissionJSON{Crunch: e.Crunch}
	for _, r := range e.CruncherRewards {
		out.CruncherRewards = append(out.CruncherRewards, cruncherRewardJSON(r))
	}
	for _, r := range e.ComputeProviderRewards {
		out.ComputeProviderRewards = append(out.ComputeProviderRewards, providerRewardJSON(r))
	}
	for _, r := range e.DataProviderRewards {
		out.DataProviderRewards = append(out.DataProviderRewards, providerRewardJSON(r))
	}
	return out
}

func (j emissionJSON) toDomain() domain.EmissionCheckpoint {
	out := domain.EmissionCheckpoint{Crunch: j.Crunch}
	for _, r := range j.CruncherRewards {
		out.CruncherRewards = append(out.CruncherRewards, domain.CruncherReward(r))
	}
	for _, r := range j.ComputeProviderRewards {
		out.ComputeProviderRewards = append(out.ComputeProviderRewards, domain.ProviderReward(r))
	}
	for _, r := range j.DataProviderRewards {
		out.DataProviderRewards = append(out.DataProviderRewards, domain.ProviderReward(r))
	}
	return out
}

// Insert adds a new checkpoint. Returns ErrDuplicateKey if the period was
// already checkpointed.
func (s *CheckpointStore) Insert(ctx context.Context, ck *domain.CheckpointRecord) error {
	query := `
		INSERT INTO checkpoints (
			id, period_start, period_end, status, emission, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	emission, err := marshalJSONB(toEmissionJSON(ck.Emission))
	if err != nil {
		return err
	}
	meta, err := marshalJSONB(ck.Meta)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, query,
		ck.ID,
		ck.PeriodStart,
		ck.PeriodEnd,
		string(ck.Status),
		emission,
		meta,
		ck.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// GetByID retrieves a checkpoint by ID. Returns ErrNotFound if not exists.
func (s *CheckpointStore) GetByID(ctx context.Context, id string) (*domain.CheckpointRecord, error) {
	query := checkpointSelect + ` WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	ck, err := scanCheckpoint(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get checkpoint by id: %w", err)
	}
	return ck, nil
}

// GetLatest retrieves the newest checkpoint by period end.
func (s *CheckpointStore) GetLatest(ctx context.Context) (*domain.CheckpointRecord, error) {
	query := checkpointSelect + ` ORDER BY period_end DESC LIMIT 1`

	row := s.pool.QueryRow(ctx, query)
	ck, err := scanCheckpoint(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest checkpoint: %w", err)
	}
	return ck, nil
}

// ListByStatus retrieves checkpoints in a status, ordered by period ASC.
func (s *CheckpointStore) ListByStatus(ctx context.Context, status domain.CheckpointStatus) ([]*domain.CheckpointRecord, error) {
	query := checkpointSelect + `
		WHERE status = $1
		ORDER BY period_start ASC, period_end ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints by status: %w", err)
	}
	defer rows.Close()

	var result []*domain.CheckpointRecord
	for rows.Next() {
		ck, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		result = append(result, ck)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}

	return result, nil
}

// UpdateStatus transitions a checkpoint's status.
func (s *CheckpointStore) UpdateStatus(ctx context.Context, id string, status domain.CheckpointStatus) error {
	query := `UPDATE checkpoints SET status = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("update checkpoint status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const checkpointSelect = `
	SELECT id, period_start, period_end, status, emission, meta, created_at
	FROM checkpoints
`

// scanCheckpoint scans a single row into a CheckpointRecord.
func scanCheckpoint(row pgx.Row) (*domain.CheckpointRecord, error) {
	var ck domain.CheckpointRecord
	var emission, meta []byte
	var statusStr string

	err := row.Scan(
		&ck.ID,
		&ck.PeriodStart,
		&ck.PeriodEnd,
		&statusStr,
		&emission,
		&meta,
		&ck.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ck.Status = domain.CheckpointStatus(statusStr)
	var e emissionJSON
	if err := unmarshalJSONB(emission, &e); err != nil {
		return nil, err
	}
	ck.Emission = e.toDomain()
	if err := unmarshalJSONB(meta, &ck.Meta); err != nil {
		return nil, err
	}
	return &ck, nil
}
