// Package scheduler spreads prediction rounds across assets that share one
// cadence. Assets with equal (horizon, steps, interval) form a group; the
// group rotates through them round-robin so each asset runs once per interval
// with even spacing.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"crunch-coordinator/internal/domain"
)

// Execution is one persisted (params, performed_at) pair used to rebuild
// scheduler state after a restart.
type Execution struct {
	Params      domain.PredictionParams
	PerformedAt time.Time
}

// GroupScheduler cycles through a group's assets in round-robin order while
// tracking the last execution time per asset for restart and catch-up
// behavior.
//
// Not safe for concurrent use; the predict loop owns it.
type GroupScheduler struct {
	horizon  int64
	steps    []int64
	interval time.Duration
	assets   []string

	index         int
	nextRun       time.Time
	lastExec      map[string]time.Time
	perAssetDelta time.Duration
}

// NewGroupScheduler creates a scheduler for one group. The asset list must be
// non-empty.
func NewGroupScheduler(horizon int64, steps []int64, interval time.Duration, assets []string, now time.Time) (*GroupScheduler, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("scheduler group has no assets")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %s", interval)
	}
	return &GroupScheduler{
		horizon:       horizon,
		steps:         append([]int64(nil), steps...),
		interval:      interval,
		assets:        append([]string(nil), assets...),
		nextRun:       now,
		lastExec:      make(map[string]time.Time),
		perAssetDelta: interval / time.Duration(len(assets)),
	}, nil
}

// Key returns the group identity for logs.
func (g *GroupScheduler) Key() string {
	return fmt.Sprintf("%d-%s-%s", g.horizon, domain.PredictionParams{Steps: g.steps}.StepsKey(), g.interval)
}

// Assets returns the group's asset rotation.
func (g *GroupScheduler) Assets() []string {
	return append([]string(nil), g.assets...)
}

// NextRun returns the next due time.
func (g *GroupScheduler) NextRun() time.Time {
	return g.nextRun
}

// PeekAsset returns the asset the next call to Next would consider.
func (g *GroupScheduler) PeekAsset() string {
	return g.assets[g.index]
}

// SetLastExecutions rebuilds per-asset state from persisted executions,
// keeping only rows matching this group, then starts from the
// least-recently-executed asset.
func (g *GroupScheduler) SetLastExecutions(executions []Execution) {
	g.lastExec = make(map[string]time.Time)

	for _, ex := range executions {
		if ex.Params.Horizon != g.horizon {
			continue
		}
		if ex.Params.StepsKey() != (domain.PredictionParams{Steps: g.steps}).StepsKey() {
			continue
		}
		if !g.hasAsset(ex.Params.Asset) {
			continue
		}
		g.lastExec[ex.Params.Asset] = ex.PerformedAt
	}

	if len(g.lastExec) > 0 {
		g.startFromLRUAsset()
	}
}

// Next returns the params to run now, or nil when the group is not due or
// the current asset has no fresh data. latestInfo is the event time of the
// newest feed record for the current asset; nil means no data is available.
func (g *GroupScheduler) Next(now time.Time, latestInfo *time.Time) *domain.PredictionParams {
	if now.Before(g.nextRun) {
		return nil
	}

	asset := g.assets[g.index]

	if !g.isReady(asset, latestInfo) {
		g.advanceSchedule(now)
		return nil
	}

	g.advanceSchedule(now)

	return &domain.PredictionParams{
		Asset:   asset,
		Horizon: g.horizon,
		Steps:   append([]int64(nil), g.steps...),
	}
}

// MarkExecuted records that an asset's round completed at dt.
func (g *GroupScheduler) MarkExecuted(asset string, dt time.Time) {
	if !g.hasAsset(asset) {
		return
	}
	g.lastExec[asset] = dt
}

// startFromLRUAsset points the rotation at the least-recently-executed asset.
// Never-executed assets come first and are due immediately.
func (g *GroupScheduler) startFromLRUAsset() {
	lruIdx := 0
	var lruAt time.Time
	lruSeen := false
	for i, asset := range g.assets {
		at, ok := g.lastExec[asset]
		if !ok {
			// never executed, run it first
			g.index = i
			g.nextRun = time.Time{}
			return
		}
		if !lruSeen || at.Before(lruAt) {
			lruIdx, lruAt, lruSeen = i, at, true
		}
	}

	g.index = lruIdx
	g.nextRun = lruAt.Add(g.interval)
}

// advanceSchedule moves the rotation forward and computes the next due time.
// A late next asset (past its full interval) is caught up immediately;
// otherwise the due time never lands before the normal per-asset spacing.
func (g *GroupScheduler) advanceSchedule(now time.Time) {
	g.index = (g.index + 1) % len(g.assets)

	nextRun := now.Add(g.perAssetDelta)
	if lastExec, ok := g.lastExec[g.assets[g.index]]; ok {
		deadline := lastExec.Add(g.interval)
		if !deadline.After(now) {
			nextRun = now
		} else if spaced := lastExec.Add(g.perAssetDelta); spaced.After(nextRun) {
			nextRun = spaced
		}
	}
	g.nextRun = nextRun
}

// isReady reports whether an asset has data fresher than its last execution.
// A never-executed asset is allowed once regardless.
func (g *GroupScheduler) isReady(asset string, latestInfo *time.Time) bool {
	lastExec, ok := g.lastExec[asset]
	if !ok {
		return true
	}
	if latestInfo == nil {
		return false
	}
	return latestInfo.After(lastExec)
}

func (g *GroupScheduler) hasAsset(asset string) bool {
	for _, a := range g.assets {
		if a == asset {
			return true
		}
	}
	return false
}

// groupKey identifies a scheduling group.
type groupKey struct {
	horizon  int64
	stepsKey string
	every    int64
}

// NewGroupSchedulers builds one scheduler per (horizon, steps, interval)
// group found in the active configs. Asset order inside a group follows the
// configs' (sort order, scope key) ordering.
func NewGroupSchedulers(configs []*domain.ScheduledPredictionConfig, now time.Time) ([]*GroupScheduler, error) {
	ordered := append([]*domain.ScheduledPredictionConfig(nil), configs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Order != ordered[j].Order {
			return ordered[i].Order < ordered[j].Order
		}
		return ordered[i].ScopeKey < ordered[j].ScopeKey
	})

	groups := make(map[groupKey][]string)
	steps := make(map[groupKey][]int64)
	var keys []groupKey
	for _, cfg := range ordered {
		if !cfg.Active {
			continue
		}
		key := groupKey{
			horizon:  cfg.Params.Horizon,
			stepsKey: cfg.Params.StepsKey(),
			every:    cfg.Schedule.EverySeconds,
		}
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
			steps[key] = cfg.Params.Steps
		}
		groups[key] = append(groups[key], cfg.Params.Asset)
	}

	schedulers := make([]*GroupScheduler, 0, len(keys))
	for _, key := range keys {
		g, err := NewGroupScheduler(
			key.horizon,
			steps[key],
			time.Duration(key.every)*time.Second,
			groups[key],
			now,
		)
		if err != nil {
			return nil, err
		}
		schedulers = append(schedulers, g)
	}
	return schedulers, nil
}
