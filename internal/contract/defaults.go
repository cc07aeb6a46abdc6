package contract

import (
	"math"

	"crunch-coordinator/internal/domain"
)

// recordPrice extracts a usable price from one feed record, preferring close
// over price.
func recordPrice(rec *domain.FeedRecord) (float64, bool) {
	if rec == nil {
		return 0, false
	}
	if v, ok := Float(rec.Values, "close"); ok {
		return v, true
	}
	if v, ok := Float(rec.Values, "price"); ok {
		return v, true
	}
	return 0, false
}

// DefaultResolveGroundTruth derives entry/resolved prices from the first and
// last usable records of the horizon window. Returns nil when either end of
// the window has no usable price yet.
func DefaultResolveGroundTruth(records []*domain.FeedRecord) map[string]any {
	if len(records) == 0 {
		return nil
	}

	var entry, resolved float64
	entryOK, resolvedOK := false, false
	for _, rec := range records {
		if v, ok := recordPrice(rec); ok {
			entry = v
			entryOK = true
			break
		}
	}
	for i := len(records) - 1; i >= 0; i-- {
		if v, ok := recordPrice(records[i]); ok {
			resolved = v
			resolvedOK = true
			break
		}
	}
	if !entryOK || !resolvedOK {
		return nil
	}

	ret := (resolved - entry) / math.Max(math.Abs(entry), 1e-9)
	return map[string]any{
		"entry_price":    entry,
		"resolved_price": resolved,
		"return":         ret,
		"direction_up":   resolved > entry,
	}
}

// DefaultScore measures the absolute error between the model's predicted
// return and the realized return. Lower is better; normalization maps it to
// [0, 1] per round.
func DefaultScore(inferenceOutput, actuals map[string]any) ScoreResult {
	predicted, ok := Float(inferenceOutput, "value")
	if !ok {
		return ScoreResult{FailedReason: "output missing numeric value"}
	}
	realized, ok := Float(actuals, "return")
	if !ok {
		return ScoreResult{FailedReason: "ground truth missing return"}
	}
	raw := math.Abs(predicted - realized)
	return ScoreResult{Value: &raw, Success: true}
}

// DefaultAggregateSnapshot averages every numeric field across the score
// results and reports the sample count.
func DefaultAggregateSnapshot(results []map[string]any) map[string]any {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, res := range results {
		for key := range res {
			if v, ok := Float(res, key); ok {
				sums[key] += v
				counts[key]++
			}
		}
	}

	out := map[string]any{"count": len(results)}
	for key, sum := range sums {
		out[key] = sum / float64(counts[key])
	}
	return out
}
