package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crunch-coordinator/internal/domain"
)

func testSnapshot(modelID string, performedAt time.Time, recent float64, count int) *domain.ModelScoreSnapshot {
	return &domain.ModelScoreSnapshot{
		ModelID:         modelID,
		PerformedAt:     performedAt,
		Metrics:         map[string]*float64{"score_recent": ptr(recent), "score_steady": nil},
		PredictionCount: count,
		CreatedAt:       performedAt,
	}
}

func TestSnapshotStore_UpsertAndListByPeriod(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(conn)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	err := store.Upsert(ctx, []*domain.ModelScoreSnapshot{
		testSnapshot("model-a", base, 0.8, 5),
		testSnapshot("model-b", base, 0.6, 3),
		testSnapshot("model-a", base.Add(time.Hour), 0.85, 6),
	})
	require.NoError(t, err)

	snaps, err := store.ListByPeriod(ctx, base, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "model-a", snaps[0].ModelID)
	assert.Equal(t, "model-b", snaps[1].ModelID)
	require.NotNil(t, snaps[0].Metrics["score_recent"])
	assert.InDelta(t, 0.8, *snaps[0].Metrics["score_recent"], 0.0001)
	assert.Nil(t, snaps[0].Metrics["score_steady"])
	assert.Equal(t, 5, snaps[0].PredictionCount)
}

func TestSnapshotStore_UpsertReplacesByKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(conn)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, []*domain.ModelScoreSnapshot{testSnapshot("model-a", base, 0.5, 2)}))

	replacement := testSnapshot("model-a", base, 0.9, 4)
	replacement.CreatedAt = base.Add(time.Minute)
	require.NoError(t, store.Upsert(ctx, []*domain.ModelScoreSnapshot{replacement}))

	snaps, err := store.ListByModelSince(ctx, "model-a", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.NotNil(t, snaps[0].Metrics["score_recent"])
	assert.InDelta(t, 0.9, *snaps[0].Metrics["score_recent"], 0.0001)
	assert.Equal(t, 4, snaps[0].PredictionCount)
}

func TestSnapshotStore_ListByModelSince(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(conn)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	err := store.Upsert(ctx, []*domain.ModelScoreSnapshot{
		testSnapshot("model-a", base.Add(-2*time.Hour), 0.5, 1),
		testSnapshot("model-a", base, 0.7, 2),
		testSnapshot("model-b", base, 0.6, 2),
	})
	require.NoError(t, err)

	snaps, err := store.ListByModelSince(ctx, "model-a", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].PerformedAt.Equal(base))
}

func TestSnapshotStore_DeleteOlderThan(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(conn)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	err := store.Upsert(ctx, []*domain.ModelScoreSnapshot{
		testSnapshot("model-a", base.Add(-100*24*time.Hour), 0.5, 1),
		testSnapshot("model-a", base, 0.7, 2),
	})
	require.NoError(t, err)

	deleted, err := store.DeleteOlderThan(ctx, base.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
