// Package scoring settles pending predictions against resolved inputs and
// maintains the windowed per-model scores that feed the leaderboard.
package scoring

import (
	"math"
	"sort"
)

// roundNorm holds the cap bounds of one round's successful raw scores.
// Raw values are oriented so lower is better before they get here.
type roundNorm struct {
	worst float64
	best  float64
}

// percentileCapIndex is the "closest observation" pick: the value at
// position ceil(0.95*N)-1 of the ascending-sorted raw scores.
func percentileCapIndex(n int) int {
	return int(math.Ceil(0.95*float64(n))) - 1
}

// newRoundNorm computes the normalization bounds for a round:
// the cap is the p95 closest observation, worst is the largest raw below
// the cap (the cap itself when nothing is below it), best is the minimum.
func newRoundNorm(raws []float64) roundNorm {
	sorted := append([]float64(nil), raws...)
	sort.Float64s(sorted)

	cap := sorted[percentileCapIndex(len(sorted))]

	worst := cap
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i] < cap {
			worst = sorted[i]
			break
		}
	}

	return roundNorm{worst: worst, best: sorted[0]}
}

// final maps one raw score into [0, 1]. Scores above worst are capped to it;
// a degenerate round (worst == best) scores 1.0 for everyone.
func (n roundNorm) final(raw float64) float64 {
	capped := math.Min(raw, n.worst)
	if n.worst == n.best {
		return 1.0
	}
	f := (n.worst - capped) / (n.worst - n.best)
	return math.Max(0, math.Min(1, f))
}
