package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

func testPrediction(id, modelID string, performedAt time.Time, status domain.PredictionStatus) *domain.PredictionRecord {
	return &domain.PredictionRecord{
		ID:              id,
		InputID:         "input-1",
		ModelID:         modelID,
		ScopeKey:        "BTC-3600-300",
		Scope:           map[string]any{"subject": "BTC", "horizon_seconds": float64(3600)},
		Status:          status,
		ExecTimeMs:      12.5,
		InferenceOutput: map[string]any{"prediction": 0.42},
		PerformedAt:     performedAt,
		ResolvableAt:    performedAt.Add(time.Hour),
	}
}

func TestPredictionStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPredictionStore(pool)
	performedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	p := testPrediction("pred-001", "model-a", performedAt, domain.PredictionPending)
	require.NoError(t, store.Insert(ctx, p))

	got, err := store.GetByID(ctx, "pred-001")
	require.NoError(t, err)
	assert.Equal(t, p.ModelID, got.ModelID)
	assert.Equal(t, p.ScopeKey, got.ScopeKey)
	assert.Equal(t, domain.PredictionPending, got.Status)
	assert.InDelta(t, 12.5, got.ExecTimeMs, 0.0001)
	assert.InDelta(t, 0.42, got.InferenceOutput["prediction"].(float64), 0.0001)
	assert.True(t, got.PerformedAt.Equal(performedAt))
}

func TestPredictionStore_InsertDuplicateSlot(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPredictionStore(pool)
	performedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, testPrediction("pred-001", "model-a", performedAt, domain.PredictionPending)))

	// Same (model_id, scope_key, performed_at), different ID.
	err := store.Insert(ctx, testPrediction("pred-002", "model-a", performedAt, domain.PredictionPending))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestPredictionStore_ListPendingDue(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPredictionStore(pool)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, testPrediction("pred-due", "model-a", now.Add(-2*time.Hour), domain.PredictionPending)))
	require.NoError(t, store.Insert(ctx, testPrediction("pred-fresh", "model-a", now.Add(-10*time.Minute), domain.PredictionPending)))
	require.NoError(t, store.Insert(ctx, testPrediction("pred-done", "model-a", now.Add(-3*time.Hour), domain.PredictionScored)))

	due, err := store.ListPendingDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "pred-due", due[0].ID)
}

func TestPredictionStore_TerminalStatusIsFinal(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPredictionStore(pool)
	performedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, testPrediction("pred-001", "model-a", performedAt, domain.PredictionPending)))
	require.NoError(t, store.UpdateStatus(ctx, "pred-001", domain.PredictionScored))

	err := store.UpdateStatus(ctx, "pred-001", domain.PredictionPending)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.UpdateStatus(ctx, "missing", domain.PredictionScored)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPredictionStore_PerformedAtBounds(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPredictionStore(pool)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	last, err := store.LastPerformedAt(ctx, "BTC-3600-300")
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, store.Insert(ctx, testPrediction("pred-old", "model-a", now.Add(-2*time.Hour), domain.PredictionScored)))
	require.NoError(t, store.Insert(ctx, testPrediction("pred-new", "model-b", now.Add(-time.Hour), domain.PredictionPending)))

	last, err = store.LastPerformedAt(ctx, "BTC-3600-300")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(now.Add(-time.Hour)))

	earliest, err := store.EarliestPerformedAt(ctx, "model-a", "BTC-3600-300")
	require.NoError(t, err)
	require.NotNil(t, earliest)
	assert.True(t, earliest.Equal(now.Add(-2*time.Hour)))
}

func TestPredictionStore_DeleteSettledOlderThan(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	predictions := NewPredictionStore(pool)
	scores := NewScoreStore(pool)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, predictions.Insert(ctx, testPrediction("pred-old", "model-a", now.Add(-48*time.Hour), domain.PredictionScored)))
	require.NoError(t, predictions.Insert(ctx, testPrediction("pred-pending", "model-b", now.Add(-48*time.Hour), domain.PredictionPending)))
	require.NoError(t, predictions.Insert(ctx, testPrediction("pred-fresh", "model-c", now.Add(-time.Hour), domain.PredictionScored)))

	require.NoError(t, scores.Insert(ctx, &domain.ScoreRecord{
		ID:           "score-old",
		PredictionID: "pred-old",
		Raw:          ptr(0.1),
		Final:        ptr(0.8),
		Success:      true,
		ScoredAt:     now,
	}))

	deleted, err := predictions.DeleteSettledOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"pred-old"}, deleted)

	n, err := scores.DeleteByPredictionIDs(ctx, deleted)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// PENDING survives regardless of age.
	_, err = predictions.GetByID(ctx, "pred-pending")
	require.NoError(t, err)
}

func TestScoreStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewScoreStore(pool)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	sc := &domain.ScoreRecord{
		ID:           "score-001",
		PredictionID: "pred-001",
		Raw:          ptr(0.05),
		Final:        ptr(0.9),
		Success:      true,
		ScoredAt:     now,
	}
	require.NoError(t, store.Insert(ctx, sc))

	err := store.Insert(ctx, &domain.ScoreRecord{ID: "score-002", PredictionID: "pred-001", ScoredAt: now})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := store.GetByPredictionID(ctx, "pred-001")
	require.NoError(t, err)
	assert.True(t, got.Success)
	require.NotNil(t, got.Final)
	assert.InDelta(t, 0.9, *got.Final, 0.0001)

	listed, err := store.ListByPredictionIDs(ctx, []string{"pred-001", "pred-missing"})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
