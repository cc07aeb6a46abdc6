package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// LeaderboardStore implements storage.LeaderboardStore using PostgreSQL.
type LeaderboardStore struct {
	pool *Pool
}

// NewLeaderboardStore creates a new LeaderboardStore.
func NewLeaderboardStore(pool *Pool) *LeaderboardStore {
	return &LeaderboardStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LeaderboardStore = (*LeaderboardStore)(nil)

// JSONB projection of one leaderboard entry.
type leaderboardEntryJSON struct {
	Rank       int                 `json:"rank"`
	ModelID    string              `json:"model_id"`
	ModelName  string              `json:"model_name"`
	PlayerName string              `json:"player_name"`
	Metrics    map[string]*float64 `json:"metrics"`
	RankingKey string              `json:"ranking_key"`
	RankingVal *float64            `json:"ranking_value"`
	RankingDir string              `json:"ranking_direction"`
	Payload    map[string]any      `json:"payload,omitempty"`
}

// Insert adds a new snapshot. Returns ErrDuplicateKey if the ID exists.
func (s *LeaderboardStore) Insert(ctx context.Context, lb *domain.Leaderboard) error {
	query := `
		INSERT INTO leaderboards (id, entries, meta, created_at)
		VALUES ($1, $2, $3, $4)
	`

	entries := make([]leaderboardEntryJSON, len(lb.Entries))
	for i, e := range lb.Entries {
		entries[i] = leaderboardEntryJSON{
			Rank:       e.Rank,
			ModelID:    e.ModelID,
			ModelName:  e.ModelName,
			PlayerName: e.PlayerName,
			Metrics:    e.Score.Metrics,
			RankingKey: e.Score.Ranking.Key,
			RankingVal: e.Score.Ranking.Value,
			RankingDir: e.Score.Ranking.Direction,
			Payload:    e.Score.Payload,
		}
	}
	entriesData, err := marshalJSONB(entries)
	if err != nil {
		return err
	}
	meta, err := marshalJSONB(lb.Meta)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, query, lb.ID, entriesData, meta, lb.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert leaderboard: %w", err)
	}
	return nil
}

// GetByID retrieves a snapshot by ID. Returns ErrNotFound if not exists.
func (s *LeaderboardStore) GetByID(ctx context.Context, id string) (*domain.Leaderboard, error) {
	query := `
		SELECT id, entries, meta, created_at
		FROM leaderboards
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	lb, err := scanLeaderboard(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get leaderboard by id: %w", err)
	}
	return lb, nil
}

// GetLatest retrieves the newest snapshot. Returns ErrNotFound when no
// snapshot has been built yet.
func (s *LeaderboardStore) GetLatest(ctx context.Context) (*domain.Leaderboard, error) {
	query := `
		SELECT id, entries, meta, created_at
		FROM leaderboards
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query)
	lb, err := scanLeaderboard(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest leaderboard: %w", err)
	}
	return lb, nil
}

// scanLeaderboard scans a single row into a Leaderboard.
func scanLeaderboard(row pgx.Row) (*domain.Leaderboard, error) {
	var lb domain.Leaderboard
	var entriesData, meta []byte

	err := row.Scan(&lb.ID, &entriesData, &meta, &lb.CreatedAt)
	if err != nil {
		return nil, err
	}

	var entries []leaderboardEntryJSON
	if err := unmarshalJSONB(entriesData, &entries); err != nil {
		return nil, err
	}
	lb.Entries = make([]domain.LeaderboardEntry, len(entries))
	for i, e := range entries {
		lb.Entries[i] = domain.LeaderboardEntry{
			Rank:       e.Rank,
			ModelID:    e.ModelID,
			ModelName:  e.ModelName,
			PlayerName: e.PlayerName,
			Score: domain.EntryScore{
				Metrics: e.Metrics,
				Ranking: domain.RankingInfo{Key: e.RankingKey, Value: e.RankingVal, Direction: e.RankingDir},
				Payload: e.Payload,
			},
		}
	}

	if err := unmarshalJSONB(meta, &lb.Meta); err != nil {
		return nil, err
	}
	return &lb, nil
}
