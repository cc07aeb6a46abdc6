// Package leaderboard ranks models on their aggregated scores and converts
// periodic rankings into reward checkpoints.
package leaderboard

import (
	"context"
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

// DefaultBuildInterval is the leaderboard refresh cadence.
const DefaultBuildInterval = 60 * time.Second

// BuilderOptions contains the dependencies for creating a Builder.
type BuilderOptions struct {
	Models       storage.ModelStore
	Leaderboards storage.LeaderboardStore
	Contract     *contract.Contract

	BuildInterval time.Duration
	Logger        *log.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// Builder constructs and persists leaderboard snapshots from the models'
// aggregated scores.
type Builder struct {
	models       storage.ModelStore
	leaderboards storage.LeaderboardStore
	contract     *contract.Contract
	interval     time.Duration
	logger       *log.Logger
	now          func() time.Time
}

// NewBuilder creates a leaderboard builder.
func NewBuilder(opts BuilderOptions) *Builder {
	c := opts.Contract
	if c == nil {
		c = contract.Default()
	}
	c.Normalize()

	interval := opts.BuildInterval
	if interval <= 0 {
		interval = DefaultBuildInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Builder{
		models:       opts.Models,
		leaderboards: opts.Leaderboards,
		contract:     c,
		interval:     interval,
		logger:       logger,
		now:          now,
	}
}

// Run rebuilds the leaderboard on the configured cadence until ctx is
// cancelled.
func (b *Builder) Run(ctx context.Context) error {
	b.logger.Printf("leaderboard loop started interval=%s key=%s", b.interval, b.contract.Aggregation.RankingKey)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if _, err := b.Build(ctx); err != nil {
			b.logger.Printf("leaderboard build failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Build ranks every scored model and persists the snapshot. Models that have
// never aggregated a score are left off the board.
func (b *Builder) Build(ctx context.Context) (*domain.Leaderboard, error) {
	models, err := b.models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	var scored []*domain.Model
	for _, m := range models {
		if m.OverallScore != nil {
			scored = append(scored, m)
		}
	}

	key := b.contract.Aggregation.RankingKey
	direction := b.contract.Aggregation.RankingDirection
	entries := Rank(scored, key, direction)

	now := b.now()
	lb := &domain.Leaderboard{
		ID:        idhash.LeaderboardID(now),
		Entries:   entries,
		CreatedAt: now,
		Meta: map[string]any{
			"generator":         "leaderboard_loop",
			"ranking_key":       key,
			"ranking_direction": direction,
			"model_count":       len(entries),
		},
	}

	if err := b.leaderboards.Insert(ctx, lb); err != nil {
		return nil, fmt.Errorf("persist leaderboard: %w", err)
	}
	observability.DefaultMetrics.LeaderboardsBuilt.Inc()
	return lb, nil
}

// Rank orders models by the ranking metric and assigns dense ranks. Models
// missing the metric sort last; ties break on model ID so the order is
// deterministic.
func Rank(models []*domain.Model, key, direction string) []domain.LeaderboardEntry {
	ordered := append([]*domain.Model(nil), models...)
	sort.SliceStable(ordered, func(i, j int) bool {
		vi := metricValue(ordered[i], key)
		vj := metricValue(ordered[j], key)

		switch {
		case vi == nil && vj == nil:
			return ordered[i].ID < ordered[j].ID
		case vi == nil:
			return false
		case vj == nil:
			return true
		case *vi != *vj:
			if direction == "asc" {
				return *vi < *vj
			}
			return *vi > *vj
		default:
			return ordered[i].ID < ordered[j].ID
		}
	})

	entries := make([]domain.LeaderboardEntry, 0, len(ordered))
	for i, m := range ordered {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:       i + 1,
			ModelID:    m.ID,
			ModelName:  m.Name,
			PlayerName: m.PlayerName,
			Score: domain.EntryScore{
				Metrics: m.OverallScore.Metrics(),
				Ranking: domain.RankingInfo{
					Key:       key,
					Value:     metricValue(m, key),
					Direction: direction,
				},
				Payload: scopePayload(m),
			},
		})
	}
	return entries
}

func metricValue(m *domain.Model, key string) *float64 {
	if m.OverallScore == nil {
		return nil
	}
	return m.OverallScore.Metrics()[key]
}

// scopePayload exposes the per-scope breakdown on the entry for reports.
func scopePayload(m *domain.Model) map[string]any {
	if len(m.ScoresByScope) == 0 {
		return nil
	}
	byScope := make(map[string]any, len(m.ScoresByScope))
	for _, s := range m.ScoresByScope {
		byScope[s.Params.Key()] = s.Score.Metrics()
	}
	return map[string]any{"scores_by_scope": byScope}
}
