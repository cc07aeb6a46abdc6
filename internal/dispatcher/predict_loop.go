package dispatcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/notify"
	"crunch-coordinator/internal/scheduler"
	"crunch-coordinator/internal/storage"
)

// Loop wait bounds. The loop sleeps until the earliest group deadline, but
// never spins tighter than the floor and re-checks at least every ceiling so
// config drift and missed signals cannot stall it.
const (
	minLoopWait = 250 * time.Millisecond
	maxLoopWait = 30 * time.Second
)

// LoopOptions contains the dependencies for creating a Loop.
type LoopOptions struct {
	Dispatcher  *Dispatcher
	Configs     storage.PredictionConfigStore
	Predictions storage.PredictionStore
	Notifier    notify.Notifier
	Logger      *log.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// Loop owns the group schedulers and drives prediction rounds: wait for the
// next deadline or a new-feed-data signal, emit due params, dispatch.
type Loop struct {
	dispatcher  *Dispatcher
	configs     storage.PredictionConfigStore
	predictions storage.PredictionStore
	notifier    notify.Notifier
	logger      *log.Logger
	now         func() time.Time

	schedulers []*scheduler.GroupScheduler
	byScopeKey map[string]*domain.ScheduledPredictionConfig
}

// NewLoop creates a predict loop.
func NewLoop(opts LoopOptions) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Loop{
		dispatcher:  opts.Dispatcher,
		configs:     opts.Configs,
		predictions: opts.Predictions,
		notifier:    opts.Notifier,
		logger:      logger,
		now:         now,
		byScopeKey:  make(map[string]*domain.ScheduledPredictionConfig),
	}
}

// Load builds the group schedulers from the active configs and seeds their
// rotation from the newest persisted execution per scope.
func (l *Loop) Load(ctx context.Context) error {
	configs, err := l.configs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active configs: %w", err)
	}
	if len(configs) == 0 {
		return fmt.Errorf("no active prediction configs")
	}

	now := l.now()
	schedulers, err := scheduler.NewGroupSchedulers(configs, now)
	if err != nil {
		return err
	}

	var executions []scheduler.Execution
	byScopeKey := make(map[string]*domain.ScheduledPredictionConfig, len(configs))
	for _, cfg := range configs {
		byScopeKey[cfg.Params.Key()] = cfg

		last, err := l.predictions.LastPerformedAt(ctx, cfg.ScopeKey)
		if err != nil {
			return fmt.Errorf("load last execution for %s: %w", cfg.ScopeKey, err)
		}
		if last != nil {
			executions = append(executions, scheduler.Execution{Params: cfg.Params, PerformedAt: *last})
		}
	}
	for _, g := range schedulers {
		g.SetLastExecutions(executions)
	}

	l.schedulers = schedulers
	l.byScopeKey = byScopeKey
	l.logger.Printf("predict loop loaded groups=%d configs=%d recovered=%d",
		len(schedulers), len(configs), len(executions))
	return nil
}

// Run drives rounds until ctx is cancelled. Load must have succeeded first.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.RunOnce(ctx)

		if err := l.wait(ctx); err != nil {
			return err
		}
	}
}

// RunOnce offers the current time to every group and dispatches whatever is
// due. Dispatch errors are logged, not raised; the round retries on the next
// rotation.
func (l *Loop) RunOnce(ctx context.Context) int {
	dispatched := 0
	now := l.now()

	for _, g := range l.schedulers {
		if now.Before(g.NextRun()) {
			continue
		}

		latest := l.latestEventTime(ctx, g.PeekAsset())
		params := g.Next(now, latest)
		if params == nil {
			continue
		}

		cfg := l.byScopeKey[params.Key()]
		written, err := l.dispatcher.Dispatch(ctx, cfg, *params, now)
		if err != nil {
			l.logger.Printf("dispatch %s failed: %v", params.Key(), err)
			continue
		}
		if written > 0 {
			g.MarkExecuted(params.Asset, now)
			dispatched++
			l.logger.Printf("dispatched %s predictions=%d", params.Key(), written)
		}
	}
	return dispatched
}

func (l *Loop) latestEventTime(ctx context.Context, asset string) *time.Time {
	latest, err := l.dispatcher.Reader().LatestEventTime(ctx, asset)
	if err != nil {
		l.logger.Printf("latest event time for %s failed: %v", asset, err)
		return nil
	}
	return latest
}

// wait sleeps until the earliest group deadline or a new-feed-data signal,
// whichever comes first.
func (l *Loop) wait(ctx context.Context) error {
	wait := maxLoopWait
	now := l.now()
	for _, g := range l.schedulers {
		if until := g.NextRun().Sub(now); until < wait {
			wait = until
		}
	}
	if wait < minLoopWait {
		wait = minLoopWait
	}

	if l.notifier != nil {
		_, err := l.notifier.Wait(ctx, wait)
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
