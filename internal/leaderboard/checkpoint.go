package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"crunch-coordinator/internal/contract"
	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/idhash"
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/storage"
)

// DefaultCheckpointInterval is the reward period length.
const DefaultCheckpointInterval = time.Hour

// CheckpointOptions contains the dependencies for creating a
// CheckpointWorker.
type CheckpointOptions struct {
	Snapshots   storage.SnapshotStore
	Models      storage.ModelStore
	Checkpoints storage.CheckpointStore
	Contract    *contract.Contract

	Interval time.Duration
	Logger   *log.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// CheckpointWorker converts each elapsed reward period into an emission
// checkpoint: the period's score snapshots are averaged per model, ranked,
// and run through the contract's emission builder.
type CheckpointWorker struct {
	snapshots   storage.SnapshotStore
	models      storage.ModelStore
	checkpoints storage.CheckpointStore
	contract    *contract.Contract
	interval    time.Duration
	logger      *log.Logger
	now         func() time.Time
}

// NewCheckpointWorker creates a checkpoint worker.
func NewCheckpointWorker(opts CheckpointOptions) *CheckpointWorker {
	c := opts.Contract
	if c == nil {
		c = contract.Default()
	}
	c.Normalize()

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &CheckpointWorker{
		snapshots:   opts.Snapshots,
		models:      opts.Models,
		checkpoints: opts.Checkpoints,
		contract:    c,
		interval:    interval,
		logger:      logger,
		now:         now,
	}
}

// Run checkpoints every elapsed period until ctx is cancelled. Overdue
// periods after downtime are caught up back to back.
func (w *CheckpointWorker) Run(ctx context.Context) error {
	w.logger.Printf("checkpoint loop started interval=%s crunch=%s", w.interval, w.contract.CrunchID)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := w.now()
		start, err := w.periodStart(ctx, now)
		if err != nil {
			return err
		}
		end := start.Add(w.interval)

		if end.After(now) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(end.Sub(now)):
			}
			continue
		}

		if _, err := w.BuildCheckpoint(ctx, start, end); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			w.logger.Printf("checkpoint [%s, %s) failed: %v", start.Format(time.RFC3339), end.Format(time.RFC3339), err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Minute):
			}
		}
	}
}

// periodStart resumes from the latest checkpoint, or starts one interval back
// on a fresh database.
func (w *CheckpointWorker) periodStart(ctx context.Context, now time.Time) (time.Time, error) {
	latest, err := w.checkpoints.GetLatest(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return now.Add(-w.interval), nil
		}
		return time.Time{}, fmt.Errorf("load latest checkpoint: %w", err)
	}
	return latest.PeriodEnd, nil
}

// BuildCheckpoint ranks the period's snapshot history and persists the
// resulting emission as a PENDING checkpoint.
func (w *CheckpointWorker) BuildCheckpoint(ctx context.Context, start, end time.Time) (*domain.CheckpointRecord, error) {
	entries, err := w.rankPeriod(ctx, start, end)
	if err != nil {
		return nil, err
	}

	emission := w.contract.BuildEmission(entries, w.contract.CrunchPubkey, w.contract.ComputeProvider, w.contract.DataProvider)

	ck := &domain.CheckpointRecord{
		ID:          idhash.CheckpointID(start, end),
		PeriodStart: start,
		PeriodEnd:   end,
		Status:      domain.CheckpointPending,
		Emission:    emission,
		Meta: map[string]any{
			"participants": len(entries),
			"ranking_key":  w.contract.Aggregation.RankingKey,
		},
		CreatedAt: w.now(),
	}

	if err := w.checkpoints.Insert(ctx, ck); err != nil {
		return nil, err
	}
	observability.DefaultMetrics.CheckpointsCreated.Inc()
	w.logger.Printf("checkpoint %s participants=%d", ck.ID, len(entries))
	return ck, nil
}

// periodScore is one model's weighted standing over a reward period.
type periodScore struct {
	modelID string
	sum     float64
	weight  float64
}

// rankPeriod averages the ranking metric over the period's snapshots per
// model, weighted by each snapshot's prediction count, and ranks the result.
func (w *CheckpointWorker) rankPeriod(ctx context.Context, start, end time.Time) ([]domain.LeaderboardEntry, error) {
	snaps, err := w.snapshots.ListByPeriod(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	key := w.contract.Aggregation.RankingKey
	byModel := make(map[string]*periodScore)
	var order []string

	for _, snap := range snaps {
		v := snap.Metrics[key]
		if v == nil {
			continue
		}
		weight := float64(snap.PredictionCount)
		if weight <= 0 {
			weight = 1
		}

		ps, ok := byModel[snap.ModelID]
		if !ok {
			ps = &periodScore{modelID: snap.ModelID}
			byModel[snap.ModelID] = ps
			order = append(order, snap.ModelID)
		}
		ps.sum += *v * weight
		ps.weight += weight
	}

	scores := make([]*periodScore, 0, len(order))
	for _, id := range order {
		scores = append(scores, byModel[id])
	}

	direction := w.contract.Aggregation.RankingDirection
	sort.SliceStable(scores, func(i, j int) bool {
		vi := scores[i].sum / scores[i].weight
		vj := scores[j].sum / scores[j].weight
		if vi != vj {
			if direction == "asc" {
				return vi < vj
			}
			return vi > vj
		}
		return scores[i].modelID < scores[j].modelID
	})

	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for i, ps := range scores {
		mean := ps.sum / ps.weight
		entry := domain.LeaderboardEntry{
			Rank:    i + 1,
			ModelID: ps.modelID,
			Score: domain.EntryScore{
				Metrics: map[string]*float64{key: &mean},
				Ranking: domain.RankingInfo{Key: key, Value: &mean, Direction: direction},
			},
		}
		if m, err := w.models.GetByID(ctx, ps.modelID); err == nil {
			entry.ModelName = m.Name
			entry.PlayerName = m.PlayerName
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
