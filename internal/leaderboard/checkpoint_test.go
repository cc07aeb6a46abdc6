package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
	"crunch-coordinator/internal/storage/memory"
)

type checkpointFixture struct {
	worker      *CheckpointWorker
	snapshots   *memory.SnapshotStore
	models      *memory.ModelStore
	checkpoints *memory.CheckpointStore
	now         time.Time
}

func newCheckpointFixture(t *testing.T) *checkpointFixture {
	t.Helper()
	f := &checkpointFixture{
		snapshots:   memory.NewSnapshotStore(),
		models:      memory.NewModelStore(),
		checkpoints: memory.NewCheckpointStore(),
		now:         time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.worker = NewCheckpointWorker(CheckpointOptions{
		Snapshots:   f.snapshots,
		Models:      f.models,
		Checkpoints: f.checkpoints,
		Interval:    time.Hour,
		Now:         func() time.Time { return f.now },
	})
	return f
}

func (f *checkpointFixture) addSnapshot(t *testing.T, modelID string, at time.Time, recent float64, count int) {
	t.Helper()
	require.NoError(t, f.snapshots.Upsert(context.Background(), []*domain.ModelScoreSnapshot{{
		ModelID:         modelID,
		PerformedAt:     at,
		Metrics:         map[string]*float64{"score_recent": &recent},
		PredictionCount: count,
		CreatedAt:       at,
	}}))
}

func TestBuildCheckpointEmissionSumsExactly(t *testing.T) {
	f := newCheckpointFixture(t)
	ctx := context.Background()
	start := f.now.Add(-time.Hour)

	f.addSnapshot(t, "model-a", start.Add(10*time.Minute), 0.9, 5)
	f.addSnapshot(t, "model-b", start.Add(10*time.Minute), 0.6, 5)
	f.addSnapshot(t, "model-c", start.Add(10*time.Minute), 0.3, 5)

	ck, err := f.worker.BuildCheckpoint(ctx, start, f.now)
	require.NoError(t, err)

	assert.Equal(t, domain.CheckpointPending, ck.Status)
	require.Len(t, ck.Emission.CruncherRewards, 3)
	assert.Equal(t, domain.Frac64Multiplier, ck.Emission.CruncherSum())

	// Three participants: 35/10/10 plus 15 redistribution each.
	assert.Equal(t, int64(500_000_000), ck.Emission.CruncherRewards[0].RewardPct)
	assert.Equal(t, "model-a", ck.Emission.CruncherRewards[0].ModelID)
	assert.Equal(t, int64(250_000_000), ck.Emission.CruncherRewards[1].RewardPct)
	assert.Equal(t, int64(250_000_000), ck.Emission.CruncherRewards[2].RewardPct)
}

func TestBuildCheckpointWeightsByPredictionCount(t *testing.T) {
	f := newCheckpointFixture(t)
	ctx := context.Background()
	start := f.now.Add(-time.Hour)

	// model-a averages (0.9*9 + 0.0*1)/10 = 0.81; model-b sits at 0.5.
	f.addSnapshot(t, "model-a", start.Add(10*time.Minute), 0.9, 9)
	f.addSnapshot(t, "model-a", start.Add(40*time.Minute), 0.0, 1)
	f.addSnapshot(t, "model-b", start.Add(10*time.Minute), 0.5, 10)

	ck, err := f.worker.BuildCheckpoint(ctx, start, f.now)
	require.NoError(t, err)

	require.Len(t, ck.Emission.CruncherRewards, 2)
	assert.Equal(t, "model-a", ck.Emission.CruncherRewards[0].ModelID)
	assert.Equal(t, "model-b", ck.Emission.CruncherRewards[1].ModelID)
}

func TestBuildCheckpointPeriodIsIdempotent(t *testing.T) {
	f := newCheckpointFixture(t)
	ctx := context.Background()
	start := f.now.Add(-time.Hour)
	f.addSnapshot(t, "model-a", start.Add(10*time.Minute), 0.9, 5)

	_, err := f.worker.BuildCheckpoint(ctx, start, f.now)
	require.NoError(t, err)

	_, err = f.worker.BuildCheckpoint(ctx, start, f.now)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestBuildCheckpointEmptyPeriod(t *testing.T) {
	f := newCheckpointFixture(t)
	ctx := context.Background()

	ck, err := f.worker.BuildCheckpoint(ctx, f.now.Add(-time.Hour), f.now)
	require.NoError(t, err)
	assert.Empty(t, ck.Emission.CruncherRewards)
	assert.Equal(t, 0, ck.Meta["participants"])
}
