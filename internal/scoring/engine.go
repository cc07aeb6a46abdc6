package scoring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"crunch-coordinator/internal/contract"
	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/idhash"
	"crunch-coordinator/internal/notify"
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/storage"
)

// Defaults for retention and the cycle safety-net timer.
const (
	DefaultRetentionDays  = 30
	DefaultSnapshotMaxAge = 90 * 24 * time.Hour
	DefaultCycleInterval  = 30 * time.Second
)

// InputResolver settles due inputs before scoring; see the resolution package.
type InputResolver interface {
	ResolveDue(ctx context.Context) (int, error)
}

// Options contains the dependencies for creating an Engine.
type Options struct {
	Predictions storage.PredictionStore
	Inputs      storage.InputStore
	Scores      storage.ScoreStore
	Models      storage.ModelStore
	Configs     storage.PredictionConfigStore
	Snapshots   storage.SnapshotStore
	Resolver    InputResolver
	Contract    *contract.Contract
	Notifier    notify.Notifier

	RetentionDays  int
	SnapshotMaxAge time.Duration
	CycleInterval  time.Duration
	Logger         *log.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// Engine runs the scoring cycle: resolve inputs, score settled rounds with
// per-round normalization, aggregate windowed model scores and prune old
// history.
type Engine struct {
	predictions storage.PredictionStore
	inputs      storage.InputStore
	scores      storage.ScoreStore
	models      storage.ModelStore
	configs     storage.PredictionConfigStore
	snapshots   storage.SnapshotStore
	resolver    InputResolver
	contract    *contract.Contract
	notifier    notify.Notifier

	retentionDays  int
	snapshotMaxAge time.Duration
	cycleInterval  time.Duration
	logger         *log.Logger
	now            func() time.Time
}

// NewEngine creates a scoring engine.
func NewEngine(opts Options) *Engine {
	c := opts.Contract
	if c == nil {
		c = contract.Default()
	}
	c.Normalize()

	retention := opts.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	maxAge := opts.SnapshotMaxAge
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}
	interval := opts.CycleInterval
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Engine{
		predictions:    opts.Predictions,
		inputs:         opts.Inputs,
		scores:         opts.Scores,
		models:         opts.Models,
		configs:        opts.Configs,
		snapshots:      opts.Snapshots,
		resolver:       opts.Resolver,
		contract:       c,
		notifier:       opts.Notifier,
		retentionDays:  retention,
		snapshotMaxAge: maxAge,
		cycleInterval:  interval,
		logger:         logger,
		now:            now,
	}
}

// Run drives cycles until ctx is cancelled, waking on new-feed-data signals
// or on the safety-net timer.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Printf("score loop started interval=%s retention=%dd", e.cycleInterval, e.retentionDays)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.Cycle(ctx); err != nil {
			e.logger.Printf("scoring cycle failed: %v", err)
		}

		if e.notifier != nil {
			if _, err := e.notifier.Wait(ctx, e.cycleInterval); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cycleInterval):
		}
	}
}

// Cycle runs one scoring pass.
func (e *Engine) Cycle(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RecordScoringCycle(status, time.Since(start).Seconds())
	}()

	if e.resolver != nil {
		resolved, resolveErr := e.resolver.ResolveDue(ctx)
		if resolveErr != nil {
			e.logger.Printf("resolve due inputs failed: %v", resolveErr)
		}
		if resolved > 0 {
			observability.DefaultMetrics.InputsResolved.Add(float64(resolved))
		}
	}

	now := e.now()
	scored, err := e.scoreReadyRounds(ctx, now)
	if err != nil {
		return err
	}
	if scored > 0 {
		e.logger.Printf("scored predictions=%d", scored)
	}

	if err := e.aggregate(ctx, now); err != nil {
		return err
	}

	e.prune(ctx, now)
	observability.DefaultMetrics.LastSuccessfulCycle.SetToCurrentTime()
	return nil
}

// round is the set of pending predictions sharing (scope_key, performed_at).
type round struct {
	members []*domain.PredictionRecord
}

// scoreReadyRounds scores every PENDING prediction whose input is RESOLVED.
// Rounds settle atomically: the normalization bounds come from the full
// member set.
func (e *Engine) scoreReadyRounds(ctx context.Context, now time.Time) (int, error) {
	pending, err := e.predictions.ListPendingDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list pending predictions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	inputsByID := make(map[string]*domain.InputRecord)
	rounds := make(map[string]*round)
	var order []string

	for _, p := range pending {
		in, ok := inputsByID[p.InputID]
		if !ok {
			in, err = e.inputs.GetByID(ctx, p.InputID)
			if err != nil {
				e.logger.Printf("load input %s for prediction %s failed: %v", p.InputID, p.ID, err)
				continue
			}
			inputsByID[p.InputID] = in
		}
		if in.Status != domain.InputResolved {
			continue
		}

		key := fmt.Sprintf("%s|%d", p.ScopeKey, p.PerformedAt.UnixMilli())
		r, ok := rounds[key]
		if !ok {
			r = &round{}
			rounds[key] = r
			order = append(order, key)
		}
		r.members = append(r.members, p)
	}

	total := 0
	for _, key := range order {
		n, err := e.scoreRound(ctx, rounds[key], inputsByID, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// memberResult is one member's raw scoring outcome before normalization.
type memberResult struct {
	prediction *domain.PredictionRecord
	raw        *float64
	success    bool
	reason     string
}

func (e *Engine) scoreRound(ctx context.Context, r *round, inputs map[string]*domain.InputRecord, now time.Time) (int, error) {
	results := make([]memberResult, 0, len(r.members))
	var raws []float64

	for _, p := range r.members {
		in := inputs[p.InputID]
		if in.Actuals == nil {
			results = append(results, memberResult{prediction: p, reason: "ground truth unavailable"})
			continue
		}

		res := e.contract.Score(p.InferenceOutput, in.Actuals)
		if !res.Success || res.Value == nil {
			reason := res.FailedReason
			if reason == "" {
				reason = "scoring failed"
			}
			results = append(results, memberResult{prediction: p, reason: reason})
			continue
		}

		results = append(results, memberResult{prediction: p, raw: res.Value, success: true})
		raws = append(raws, e.direct(*res.Value))
	}

	var norm roundNorm
	hasSuccess := len(raws) > 0
	if hasSuccess {
		norm = newRoundNorm(raws)
	}

	written := 0
	for _, res := range results {
		status := domain.PredictionFailed
		final := 0.0
		score := &domain.ScoreRecord{
			ID:           idhash.ScoreID(res.prediction.ID),
			PredictionID: res.prediction.ID,
			Raw:          res.raw,
			ScoredAt:     now,
		}

		if res.success && hasSuccess {
			status = domain.PredictionScored
			final = norm.final(e.direct(*res.raw))
			score.Success = true
		} else {
			reason := res.reason
			if reason == "" {
				// Success with no round to normalize against cannot happen;
				// failures always carry a reason.
				reason = "round had no successful scores"
			}
			score.FailedReason = &reason
		}
		score.Final = &final

		if err := e.scores.Insert(ctx, score); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return written, fmt.Errorf("insert score for %s: %w", res.prediction.ID, err)
		}
		if err := e.predictions.UpdateStatus(ctx, res.prediction.ID, status); err != nil {
			return written, fmt.Errorf("settle prediction %s: %w", res.prediction.ID, err)
		}
		written++
		observability.RecordSettledPrediction(string(status))
	}
	observability.DefaultMetrics.RoundsScored.Inc()
	return written, nil
}

// direct orients a raw score so lower is better, matching the normalization
// formula. Higher-is-better contracts are negated.
func (e *Engine) direct(raw float64) float64 {
	if e.contract.ScoreLowerIsBetter {
		return raw
	}
	return -raw
}

// aggregate recomputes windowed scores for every model and scope, persists
// the models and upserts one history snapshot per model.
func (e *Engine) aggregate(ctx context.Context, now time.Time) error {
	models, err := e.models.List(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if len(models) == 0 {
		return nil
	}

	configs, err := e.configs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active configs: %w", err)
	}

	var snapshots []*domain.ModelScoreSnapshot
	for _, m := range models {
		count := 0
		for _, cfg := range configs {
			score, n, err := e.scopeScore(ctx, m.ID, cfg, now)
			if err != nil {
				return err
			}
			if n == 0 && !score.HasAny() {
				continue
			}
			m.UpdateScopeScore(cfg.Params, score)
			count += n
		}

		if len(m.ScoresByScope) == 0 {
			continue
		}
		m.CalcOverallScore()
		m.UpdatedAt = now

		if err := e.models.Upsert(ctx, m); err != nil {
			return fmt.Errorf("persist model %s: %w", m.ID, err)
		}

		snapshots = append(snapshots, &domain.ModelScoreSnapshot{
			ModelID:         m.ID,
			PerformedAt:     now,
			Metrics:         m.OverallScore.Metrics(),
			PredictionCount: count,
			CreatedAt:       now,
		})
	}

	if len(snapshots) == 0 {
		return nil
	}
	if err := e.snapshots.Upsert(ctx, snapshots); err != nil {
		return fmt.Errorf("persist snapshots: %w", err)
	}
	return nil
}

// scopeScore computes a model's windowed score for one scope. A window metric
// stays nil until the model's history for the scope spans the whole window,
// which keeps short-history models off the top of the board. Returns the
// number of settled predictions inside the ranking window.
func (e *Engine) scopeScore(ctx context.Context, modelID string, cfg *domain.ScheduledPredictionConfig, now time.Time) (domain.ModelScore, int, error) {
	var score domain.ModelScore

	earliest, err := e.predictions.EarliestPerformedAt(ctx, modelID, cfg.ScopeKey)
	if err != nil {
		return score, 0, fmt.Errorf("earliest performed_at for %s/%s: %w", modelID, cfg.ScopeKey, err)
	}
	if earliest == nil {
		return score, 0, nil
	}

	rankingCount := 0
	for name, window := range e.contract.Aggregation.Windows {
		span := time.Duration(window.Hours) * time.Hour
		if now.Sub(*earliest) < span {
			continue
		}

		mean, n, err := e.windowMean(ctx, modelID, cfg.ScopeKey, now.Add(-span))
		if err != nil {
			return score, 0, err
		}
		if n == 0 {
			continue
		}
		if name == e.contract.Aggregation.RankingKey {
			rankingCount = n
		}

		switch name {
		case "score_recent":
			score.Recent = &mean
		case "score_steady":
			score.Steady = &mean
		case "score_anchor":
			score.Anchor = &mean
		}
	}
	return score, rankingCount, nil
}

// windowMean averages the final scores of a model's settled predictions for
// one scope since the window start. ABSENT rounds carry no signal and are
// skipped.
func (e *Engine) windowMean(ctx context.Context, modelID, scopeKey string, since time.Time) (float64, int, error) {
	settled, err := e.predictions.ListByModelScopeSince(ctx, modelID, scopeKey, since)
	if err != nil {
		return 0, 0, fmt.Errorf("list settled predictions: %w", err)
	}

	ids := make([]string, 0, len(settled))
	for _, p := range settled {
		if p.Status == domain.PredictionAbsent {
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return 0, 0, nil
	}

	scores, err := e.scores.ListByPredictionIDs(ctx, ids)
	if err != nil {
		return 0, 0, fmt.Errorf("load scores: %w", err)
	}

	sum, n := 0.0, 0
	for _, s := range scores {
		if s.Final == nil {
			continue
		}
		sum += *s.Final
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

// prune drops settled predictions and history snapshots past their retention.
func (e *Engine) prune(ctx context.Context, now time.Time) {
	cutoff := now.AddDate(0, 0, -e.retentionDays)
	ids, err := e.predictions.DeleteSettledOlderThan(ctx, cutoff)
	if err != nil {
		e.logger.Printf("prune predictions failed: %v", err)
	} else if len(ids) > 0 {
		if _, err := e.scores.DeleteByPredictionIDs(ctx, ids); err != nil {
			e.logger.Printf("prune scores failed: %v", err)
		}
		e.logger.Printf("pruned settled predictions=%d", len(ids))
	}

	if deleted, err := e.snapshots.DeleteOlderThan(ctx, now.Add(-e.snapshotMaxAge)); err != nil {
		e.logger.Printf("prune snapshots failed: %v", err)
	} else if deleted > 0 {
		e.logger.Printf("pruned snapshots=%d", deleted)
	}
}
