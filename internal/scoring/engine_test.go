package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/idhash"
	"crunch-coordinator/internal/storage"
	"crunch-coordinator/internal/storage/memory"
)

type engineFixture struct {
	engine      *Engine
	predictions *memory.PredictionStore
	inputs      *memory.InputStore
	scores      *memory.ScoreStore
	models      *memory.ModelStore
	configs     *memory.PredictionConfigStore
	snapshots   *memory.SnapshotStore
	now         time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		predictions: memory.NewPredictionStore(),
		inputs:      memory.NewInputStore(),
		scores:      memory.NewScoreStore(),
		models:      memory.NewModelStore(),
		configs:     memory.NewPredictionConfigStore(),
		snapshots:   memory.NewSnapshotStore(),
		now:         time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(Options{
		Predictions: f.predictions,
		Inputs:      f.inputs,
		Scores:      f.scores,
		Models:      f.models,
		Configs:     f.configs,
		Snapshots:   f.snapshots,
		Now:         func() time.Time { return f.now },
	})
	return f
}

func scopeParams() domain.PredictionParams {
	return domain.PredictionParams{Asset: "BTC", Horizon: 3600, Steps: []int64{300}}
}

func (f *engineFixture) addResolvedInput(t *testing.T, id string, receivedAt time.Time, actuals map[string]any) {
	t.Helper()
	require.NoError(t, f.inputs.Insert(context.Background(), &domain.InputRecord{
		ID:           id,
		Scope:        map[string]any{"subject": "BTC"},
		Status:       domain.InputReceived,
		ReceivedAt:   receivedAt,
		ResolvableAt: receivedAt.Add(time.Hour),
	}))
	if actuals != nil {
		require.NoError(t, f.inputs.Resolve(context.Background(), id, actuals))
	}
}

func (f *engineFixture) addPending(t *testing.T, modelID, inputID string, performedAt time.Time, value float64) string {
	t.Helper()
	rec := &domain.PredictionRecord{
		ID:              idhash.PredictionID(modelID, scopeParams().Key(), performedAt, false),
		InputID:         inputID,
		ModelID:         modelID,
		ScopeKey:        scopeParams().Key(),
		Status:          domain.PredictionPending,
		InferenceOutput: map[string]any{"value": value},
		PerformedAt:     performedAt,
		ResolvableAt:    performedAt.Add(time.Hour),
	}
	require.NoError(t, f.predictions.Insert(context.Background(), rec))
	return rec.ID
}

func TestCycleScoresRoundWithNormalization(t *testing.T) {
	f := newEngineFixture(t)
	performedAt := f.now.Add(-2 * time.Hour)

	// Realized return 0: raw score is just |value|, lower is better.
	f.addResolvedInput(t, "INP_1", performedAt, map[string]any{"return": 0.0})
	idBest := f.addPending(t, "model-a", "INP_1", performedAt, 0.1)
	idMid := f.addPending(t, "model-b", "INP_1", performedAt, 0.2)
	idWorst := f.addPending(t, "model-c", "INP_1", performedAt, 0.3)

	require.NoError(t, f.engine.Cycle(context.Background()))

	expect := map[string]float64{idBest: 1.0, idMid: 0.0, idWorst: 0.0}
	for id, want := range expect {
		rec, err := f.predictions.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.PredictionScored, rec.Status, id)

		score, err := f.scores.GetByPredictionID(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, score.Success)
		require.NotNil(t, score.Final)
		assert.InDelta(t, want, *score.Final, 1e-9, id)
		require.NotNil(t, score.Raw)
	}
}

func TestCycleFailsRoundWithoutSuccesses(t *testing.T) {
	f := newEngineFixture(t)
	performedAt := f.now.Add(-2 * time.Hour)

	// Actuals without the return field make every scoring call fail.
	f.addResolvedInput(t, "INP_1", performedAt, map[string]any{"note": "missing return"})
	id := f.addPending(t, "model-a", "INP_1", performedAt, 0.1)

	require.NoError(t, f.engine.Cycle(context.Background()))

	rec, err := f.predictions.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionFailed, rec.Status)

	score, err := f.scores.GetByPredictionID(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, score.Success)
	assert.Equal(t, 0.0, *score.Final)
	require.NotNil(t, score.FailedReason)
}

func TestCycleFailsPredictionsOnNilActuals(t *testing.T) {
	f := newEngineFixture(t)
	performedAt := f.now.Add(-30 * time.Hour)

	// Force-resolved input: RESOLVED with no actuals.
	f.addResolvedInput(t, "INP_1", performedAt, nil)
	require.NoError(t, f.inputs.Resolve(context.Background(), "INP_1", nil))
	id := f.addPending(t, "model-a", "INP_1", performedAt, 0.1)

	require.NoError(t, f.engine.Cycle(context.Background()))

	rec, err := f.predictions.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionFailed, rec.Status)

	score, err := f.scores.GetByPredictionID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ground truth unavailable", *score.FailedReason)
}

func TestCycleLeavesUnresolvedInputsPending(t *testing.T) {
	f := newEngineFixture(t)
	performedAt := f.now.Add(-2 * time.Hour)

	f.addResolvedInput(t, "INP_1", performedAt, nil) // still RECEIVED
	id := f.addPending(t, "model-a", "INP_1", performedAt, 0.1)

	require.NoError(t, f.engine.Cycle(context.Background()))

	rec, err := f.predictions.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionPending, rec.Status)

	_, err = f.scores.GetByPredictionID(context.Background(), id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func (f *engineFixture) addSettled(t *testing.T, modelID string, performedAt time.Time, final float64) {
	t.Helper()
	rec := &domain.PredictionRecord{
		ID:           idhash.PredictionID(modelID, scopeParams().Key(), performedAt, false),
		InputID:      "INP_hist",
		ModelID:      modelID,
		ScopeKey:     scopeParams().Key(),
		Status:       domain.PredictionScored,
		PerformedAt:  performedAt,
		ResolvableAt: performedAt.Add(time.Hour),
	}
	require.NoError(t, f.predictions.Insert(context.Background(), rec))
	require.NoError(t, f.scores.Insert(context.Background(), &domain.ScoreRecord{
		ID:           idhash.ScoreID(rec.ID),
		PredictionID: rec.ID,
		Final:        &final,
		Success:      true,
		ScoredAt:     performedAt,
	}))
}

func TestCycleAggregatesWindowedScores(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	params := scopeParams()
	require.NoError(t, f.configs.Upsert(ctx, &domain.ScheduledPredictionConfig{
		ID:       "cfg-1",
		ScopeKey: params.Key(),
		Params:   params,
		Schedule: domain.Schedule{EverySeconds: 3600},
		Active:   true,
	}))
	require.NoError(t, f.models.Upsert(ctx, &domain.Model{ID: "model-a", Name: "m", CreatedAt: f.now}))

	// History spans the 24h window but not the 72h one.
	f.addSettled(t, "model-a", f.now.Add(-25*time.Hour), 0.2) // outside 24h, anchors the history span
	f.addSettled(t, "model-a", f.now.Add(-10*time.Hour), 0.5)
	f.addSettled(t, "model-a", f.now.Add(-2*time.Hour), 1.0)

	require.NoError(t, f.engine.Cycle(ctx))

	m, err := f.models.GetByID(ctx, "model-a")
	require.NoError(t, err)
	require.NotNil(t, m.OverallScore)
	require.NotNil(t, m.OverallScore.Recent)
	assert.InDelta(t, 0.75, *m.OverallScore.Recent, 1e-9)
	assert.Nil(t, m.OverallScore.Steady)
	assert.Nil(t, m.OverallScore.Anchor)

	snaps, err := f.snapshots.ListByModelSince(ctx, "model-a", time.Time{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 2, snaps[0].PredictionCount)
	require.NotNil(t, snaps[0].Metrics["score_recent"])
	assert.InDelta(t, 0.75, *snaps[0].Metrics["score_recent"], 1e-9)
}

func TestCycleShortHistoryYieldsNoMetrics(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	params := scopeParams()
	require.NoError(t, f.configs.Upsert(ctx, &domain.ScheduledPredictionConfig{
		ID:       "cfg-1",
		ScopeKey: params.Key(),
		Params:   params,
		Schedule: domain.Schedule{EverySeconds: 3600},
		Active:   true,
	}))
	require.NoError(t, f.models.Upsert(ctx, &domain.Model{ID: "model-a", CreatedAt: f.now}))

	f.addSettled(t, "model-a", f.now.Add(-3*time.Hour), 1.0)

	require.NoError(t, f.engine.Cycle(ctx))

	m, err := f.models.GetByID(ctx, "model-a")
	require.NoError(t, err)
	assert.Nil(t, m.OverallScore)
}

func TestCyclePrunesOldSettledPredictions(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	old := f.now.AddDate(0, 0, -40)
	f.addSettled(t, "model-a", old, 0.5)
	keepID := f.addPending(t, "model-b", "INP_keep", old, 0.1)

	require.NoError(t, f.engine.Cycle(ctx))

	oldID := idhash.PredictionID("model-a", scopeParams().Key(), old, false)
	_, err := f.predictions.GetByID(ctx, oldID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.scores.GetByPredictionID(ctx, oldID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Unscored rows survive pruning regardless of age.
	_, err = f.predictions.GetByID(ctx, keepID)
	assert.NoError(t, err)
}

func TestRoundsSettleIndependently(t *testing.T) {
	f := newEngineFixture(t)

	early := f.now.Add(-3 * time.Hour)
	late := f.now.Add(-2 * time.Hour)
	f.addResolvedInput(t, "INP_early", early, map[string]any{"return": 0.0})
	f.addResolvedInput(t, "INP_late", late, map[string]any{"return": 0.0})

	var earlyIDs, lateIDs []string
	for i, v := range []float64{0.1, 0.2, 0.4} {
		model := fmt.Sprintf("model-%d", i)
		earlyIDs = append(earlyIDs, f.addPending(t, model, "INP_early", early, v))
		lateIDs = append(lateIDs, f.addPending(t, model, "INP_late", late, v*10))
	}

	require.NoError(t, f.engine.Cycle(context.Background()))

	// Each round normalizes against its own members: the best of each round
	// scores 1.0 even though the late round's raws are ten times larger.
	for _, ids := range [][]string{earlyIDs, lateIDs} {
		best, _ := f.scores.GetByPredictionID(context.Background(), ids[0])
		worst, _ := f.scores.GetByPredictionID(context.Background(), ids[2])
		assert.Equal(t, 1.0, *best.Final)
		assert.Equal(t, 0.0, *worst.Final)
	}
}
