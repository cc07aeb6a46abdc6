package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crunch-coordinator/internal/domain"
)

const (
	minute = int64(60)
	hour   = 60 * minute
	day    = 24 * hour
)

func threeAssetConfigs() []*domain.ScheduledPredictionConfig {
	configs := make([]*domain.ScheduledPredictionConfig, 0, 3)
	for i, asset := range []string{"BTC", "ETH", "XAUT"} {
		params := domain.PredictionParams{Asset: asset, Horizon: day, Steps: []int64{5 * minute}}
		configs = append(configs, &domain.ScheduledPredictionConfig{
			ID:       asset,
			ScopeKey: params.Key(),
			Params:   params,
			Schedule: domain.Schedule{EverySeconds: hour},
			Active:   true,
			Order:    i,
		})
	}
	return configs
}

func lastExecutions(now time.Time, offsets map[string]time.Duration) []Execution {
	execs := make([]Execution, 0, len(offsets))
	for _, asset := range []string{"BTC", "ETH", "XAUT"} {
		execs = append(execs, Execution{
			Params:      domain.PredictionParams{Asset: asset, Horizon: day, Steps: []int64{5 * minute}},
			PerformedAt: now.Add(-offsets[asset]),
		})
	}
	return execs
}

func TestGroupSchedulerRoundRobinBasic(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	schedulers, err := NewGroupSchedulers(threeAssetConfigs(), now)
	require.NoError(t, err)
	require.Len(t, schedulers, 1)
	g := schedulers[0]

	params := g.Next(now, nil)
	require.NotNil(t, params)
	assert.Equal(t, "BTC", params.Asset)
	g.MarkExecuted("BTC", now)

	// Not due yet.
	assert.Nil(t, g.Next(now, nil))

	assert.Equal(t, "ETH", g.PeekAsset())
	assert.Equal(t, now.Add(20*time.Minute), g.NextRun())
}

func TestGroupSchedulerSkipsAssetWithoutFreshData(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	schedulers, _ := NewGroupSchedulers(threeAssetConfigs(), now)
	g := schedulers[0]

	g.SetLastExecutions(lastExecutions(now, map[string]time.Duration{
		"BTC":  60 * time.Minute,
		"ETH":  40 * time.Minute,
		"XAUT": 20 * time.Minute,
	}))
	require.Equal(t, "BTC", g.PeekAsset())

	// Data older than BTC's last execution: skip and advance.
	outdated := now.Add(-70 * time.Minute)
	assert.Nil(t, g.Next(now, &outdated))
	assert.Equal(t, "ETH", g.PeekAsset())
}

func TestGroupSchedulerRecoveryPicksLRUFirst(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	schedulers, _ := NewGroupSchedulers(threeAssetConfigs(), now)
	g := schedulers[0]

	g.SetLastExecutions(lastExecutions(now, map[string]time.Duration{
		"BTC":  20 * time.Minute,
		"ETH":  40 * time.Minute,
		"XAUT": 60 * time.Minute,
	}))

	fresh := now
	params := g.Next(now, &fresh)
	require.NotNil(t, params)
	assert.Equal(t, "XAUT", params.Asset)

	assert.Equal(t, "BTC", g.PeekAsset())
	assert.Equal(t, now.Add(20*time.Minute), g.NextRun())
}

func TestGroupSchedulerRecoveryCatchesUpAllOverdueAssets(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	schedulers, _ := NewGroupSchedulers(threeAssetConfigs(), now)
	g := schedulers[0]

	g.SetLastExecutions(lastExecutions(now, map[string]time.Duration{
		"BTC":  120 * time.Minute,
		"ETH":  140 * time.Minute,
		"XAUT": 160 * time.Minute,
	}))

	fresh := now
	var ran []string
	for i := 0; i < 3; i++ {
		params := g.Next(now, &fresh)
		require.NotNil(t, params, "asset %d should run without waiting", i)
		ran = append(ran, params.Asset)
		g.MarkExecuted(params.Asset, now)
	}

	assert.Equal(t, []string{"XAUT", "BTC", "ETH"}, ran)
	// After the catch-up burst, normal spacing resumes.
	assert.Equal(t, now.Add(20*time.Minute), g.NextRun())
}

func TestGroupSchedulerNeverExecutedAssetRunsFirst(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	schedulers, _ := NewGroupSchedulers(threeAssetConfigs(), now)
	g := schedulers[0]

	// ETH has no persisted execution: it is due immediately, before the others.
	execs := lastExecutions(now, map[string]time.Duration{
		"BTC":  20 * time.Minute,
		"ETH":  40 * time.Minute,
		"XAUT": 60 * time.Minute,
	})
	var withoutETH []Execution
	for _, ex := range execs {
		if ex.Params.Asset != "ETH" {
			withoutETH = append(withoutETH, ex)
		}
	}
	g.SetLastExecutions(withoutETH)

	// No feed data at all: a never-executed asset still runs once.
	params := g.Next(now, nil)
	require.NotNil(t, params)
	assert.Equal(t, "ETH", params.Asset)
}

func TestNewGroupSchedulersGroupsByCadence(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	configs := threeAssetConfigs()
	solParams := domain.PredictionParams{Asset: "SOL", Horizon: day, Steps: []int64{15 * minute}}
	configs = append(configs, &domain.ScheduledPredictionConfig{
		ID:       "SOL",
		ScopeKey: solParams.Key(),
		Params:   solParams,
		Schedule: domain.Schedule{EverySeconds: hour},
		Active:   true,
	}, &domain.ScheduledPredictionConfig{
		ID:       "inactive",
		ScopeKey: "inactive",
		Params:   domain.PredictionParams{Asset: "DOGE", Horizon: day, Steps: []int64{5 * minute}},
		Schedule: domain.Schedule{EverySeconds: hour},
		Active:   false,
	})

	schedulers, err := NewGroupSchedulers(configs, now)
	require.NoError(t, err)
	require.Len(t, schedulers, 2)

	assert.Equal(t, []string{"BTC", "ETH", "XAUT"}, schedulers[0].Assets())
	assert.Equal(t, []string{"SOL"}, schedulers[1].Assets())
}

func TestGroupSchedulerFairSpacingOverFullInterval(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	schedulers, _ := NewGroupSchedulers(threeAssetConfigs(), start)
	g := schedulers[0]

	// Drive two full intervals; every asset must run exactly twice, spaced by
	// per-asset delta.
	counts := map[string]int{}
	now := start
	fresh := func() *time.Time { t := now; return &t }
	for now.Before(start.Add(2 * time.Hour)) {
		if params := g.Next(now, fresh()); params != nil {
			counts[params.Asset]++
			g.MarkExecuted(params.Asset, now)
		}
		now = now.Add(time.Minute)
	}

	for _, asset := range []string{"BTC", "ETH", "XAUT"} {
		assert.Equal(t, 2, counts[asset], "asset %s run count", asset)
	}
}
