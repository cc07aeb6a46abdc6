package storage

import (
	"context"
	"time"

	"crunch-coordinator/internal/domain"
)

// FeedRecordStore provides access to feed_records storage. Records are keyed
// by (scope, ts_event); re-ingesting an event replaces its values.
type FeedRecordStore interface {
	// Upsert inserts or replaces records by (scope, ts_event). Returns the
	// number of records written.
	Upsert(ctx context.Context, records []*domain.FeedRecord) (int, error)

	// GetWindow retrieves records for a scope within [startTs, endTs]
	// (inclusive, event-time seconds), ordered by ts_event ASC. A positive
	// limit caps the result from the start of the window.
	GetWindow(ctx context.Context, scope domain.FeedScope, startTs, endTs int64, limit int) ([]*domain.FeedRecord, error)

	// GetLatest retrieves the newest record for a scope with ts_event <=
	// atOrBefore (0 means no bound). Returns ErrNotFound when the scope has
	// no matching records.
	GetLatest(ctx context.Context, scope domain.FeedScope, atOrBefore int64) (*domain.FeedRecord, error)

	// DeleteOlderThan prunes records of a scope with ts_event < cutoffTs.
	// Returns the number of deleted records.
	DeleteOlderThan(ctx context.Context, scope domain.FeedScope, cutoffTs int64) (int64, error)
}

// IngestionStateStore tracks per-scope ingestion watermarks.
type IngestionStateStore interface {
	// Get retrieves the watermark for a scope. Returns ErrNotFound if the
	// scope has never been ingested.
	Get(ctx context.Context, scope domain.FeedScope) (*domain.IngestionWatermark, error)

	// Upsert inserts or advances a watermark.
	Upsert(ctx context.Context, wm *domain.IngestionWatermark) error

	// List retrieves all known watermarks.
	List(ctx context.Context) ([]*domain.IngestionWatermark, error)
}

// InputStore provides access to input_records storage.
type InputStore interface {
	// Insert adds a new input. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, in *domain.InputRecord) error

	// GetByID retrieves an input by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.InputRecord, error)

	// Resolve stores ground truth on an input and marks it RESOLVED.
	Resolve(ctx context.Context, id string, actuals map[string]any) error

	// ListByStatus retrieves inputs in a status, ordered by received_at ASC.
	ListByStatus(ctx context.Context, status domain.InputStatus) ([]*domain.InputRecord, error)
}

// PredictionStore provides access to prediction_records storage.
type PredictionStore interface {
	// Insert adds a new prediction. Returns ErrDuplicateKey when a record
	// for the same (model_id, scope_key, performed_at) already exists.
	Insert(ctx context.Context, p *domain.PredictionRecord) error

	// GetByID retrieves a prediction by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.PredictionRecord, error)

	// ListPendingDue retrieves PENDING predictions with resolvable_at <=
	// before, ordered by resolvable_at ASC.
	ListPendingDue(ctx context.Context, before time.Time) ([]*domain.PredictionRecord, error)

	// ListByModelScopeSince retrieves a model's terminal-status predictions
	// for a scope key with performed_at >= since, ordered by performed_at ASC.
	ListByModelScopeSince(ctx context.Context, modelID, scopeKey string, since time.Time) ([]*domain.PredictionRecord, error)

	// UpdateStatus transitions a prediction's status. SCORED and FAILED are
	// terminal; transitions out of them return ErrInvalidInput.
	UpdateStatus(ctx context.Context, id string, status domain.PredictionStatus) error

	// LastPerformedAt returns the newest performed_at across all predictions
	// of a scope key, or nil when none exist. Seeds scheduler state on boot.
	LastPerformedAt(ctx context.Context, scopeKey string) (*time.Time, error)

	// EarliestPerformedAt returns the oldest performed_at for a model and
	// scope key, or nil when none exist. Gates window aggregation.
	EarliestPerformedAt(ctx context.Context, modelID, scopeKey string) (*time.Time, error)

	// DeleteSettledOlderThan prunes settled (non-PENDING) predictions with
	// performed_at < cutoff. Returns the deleted IDs so callers can prune
	// the matching score rows.
	DeleteSettledOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ScoreStore provides access to score_records storage.
type ScoreStore interface {
	// Insert adds a new score. Returns ErrDuplicateKey if the prediction is
	// already scored.
	Insert(ctx context.Context, s *domain.ScoreRecord) error

	// GetByPredictionID retrieves the score of one prediction.
	GetByPredictionID(ctx context.Context, predictionID string) (*domain.ScoreRecord, error)

	// ListByPredictionIDs retrieves scores for a set of predictions. Missing
	// predictions are skipped, not an error.
	ListByPredictionIDs(ctx context.Context, predictionIDs []string) ([]*domain.ScoreRecord, error)

	// DeleteByPredictionIDs removes the scores of pruned predictions.
	// Returns the number of deleted scores.
	DeleteByPredictionIDs(ctx context.Context, predictionIDs []string) (int64, error)
}

// ModelStore provides access to the model registry.
type ModelStore interface {
	// Upsert inserts a model or replaces its mutable fields by ID.
	Upsert(ctx context.Context, m *domain.Model) error

	// UpsertIdentity inserts a model or refreshes its identity fields
	// (name, player, deployment) by ID. Aggregated scores are never
	// touched; only the scoring engine writes those.
	UpsertIdentity(ctx context.Context, m *domain.Model) error

	// GetByID retrieves a model by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Model, error)

	// List retrieves all registered models, ordered by ID ASC.
	List(ctx context.Context) ([]*domain.Model, error)
}

// PredictionConfigStore provides access to scheduled_prediction_configs.
type PredictionConfigStore interface {
	// Upsert inserts a config or replaces it by ID.
	Upsert(ctx context.Context, c *domain.ScheduledPredictionConfig) error

	// GetByID retrieves a config by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.ScheduledPredictionConfig, error)

	// ListActive retrieves active configs ordered by (sort order, ID).
	ListActive(ctx context.Context) ([]*domain.ScheduledPredictionConfig, error)
}

// LeaderboardStore provides access to leaderboard snapshots.
type LeaderboardStore interface {
	// Insert adds a new snapshot. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, lb *domain.Leaderboard) error

	// GetByID retrieves a snapshot by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Leaderboard, error)

	// GetLatest retrieves the newest snapshot. Returns ErrNotFound when no
	// snapshot has been built yet.
	GetLatest(ctx context.Context) (*domain.Leaderboard, error)
}

// CheckpointStore provides access to reward checkpoints.
type CheckpointStore interface {
	// Insert adds a new checkpoint. Returns ErrDuplicateKey if the period
	// was already checkpointed.
	Insert(ctx context.Context, ck *domain.CheckpointRecord) error

	// GetByID retrieves a checkpoint by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.CheckpointRecord, error)

	// GetLatest retrieves the newest checkpoint by period end.
	GetLatest(ctx context.Context) (*domain.CheckpointRecord, error)

	// ListByStatus retrieves checkpoints in a status, ordered by period ASC.
	ListByStatus(ctx context.Context, status domain.CheckpointStatus) ([]*domain.CheckpointRecord, error)

	// UpdateStatus transitions a checkpoint's status.
	UpdateStatus(ctx context.Context, id string, status domain.CheckpointStatus) error
}

// SnapshotStore provides access to model score history snapshots.
type SnapshotStore interface {
	// Upsert inserts or replaces snapshots by (model_id, performed_at).
	Upsert(ctx context.Context, snapshots []*domain.ModelScoreSnapshot) error

	// ListByPeriod retrieves snapshots with performed_at in [start, end),
	// ordered by (model_id, performed_at) ASC.
	ListByPeriod(ctx context.Context, start, end time.Time) ([]*domain.ModelScoreSnapshot, error)

	// ListByModelSince retrieves one model's snapshots with performed_at >=
	// since, ordered by performed_at ASC.
	ListByModelSince(ctx context.Context, modelID string, since time.Time) ([]*domain.ModelScoreSnapshot, error)

	// DeleteOlderThan prunes snapshots with performed_at < cutoff. Returns
	// the number of deleted snapshots.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
