// Package contract defines the typed envelopes and pluggable callables that
// wire a specific challenge into the coordinator pipeline. Components depend
// on the contract by capability: each reads only the types and callables used
// at the boundary it owns.
package contract

import (
	"fmt"

	"crunch-coordinator/internal/domain"
)

// Candle is one OHLCV bar inside a RawInput window.
type Candle struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Map converts the candle to the JSON envelope shape.
func (c Candle) Map() map[string]any {
	return map[string]any{
		"ts":     c.Ts,
		"open":   c.Open,
		"high":   c.High,
		"low":    c.Low,
		"close":  c.Close,
		"volume": c.Volume,
	}
}

// PredictionScope identifies a single prediction context. Extra fields from
// config scope templates are merged on top of these at dispatch time.
type PredictionScope struct {
	Subject        string
	HorizonSeconds int64
	StepSeconds    int64
}

// Map returns the scope as a mergeable envelope.
func (s PredictionScope) Map() map[string]any {
	return map[string]any{
		"subject":         s.Subject,
		"horizon_seconds": s.HorizonSeconds,
		"step_seconds":    s.StepSeconds,
	}
}

// AggregationWindow is one rolling wall-clock interval for score aggregation.
type AggregationWindow struct {
	Hours int
}

// Aggregation describes how per-prediction scores roll up per model and how
// the leaderboard is ranked.
type Aggregation struct {
	Windows          map[string]AggregationWindow
	RankingKey       string
	RankingDirection string // "desc" or "asc"
}

// DefaultAggregation returns the standard recent/steady/anchor windows.
func DefaultAggregation() Aggregation {
	return Aggregation{
		Windows: map[string]AggregationWindow{
			"score_recent": {Hours: 24},
			"score_steady": {Hours: 72},
			"score_anchor": {Hours: 168},
		},
		RankingKey:       "score_recent",
		RankingDirection: "desc",
	}
}

// ScoreResult is what the scoring function produces for one prediction.
type ScoreResult struct {
	Value        *float64
	Success      bool
	FailedReason string
}

// ScoringFunc scores one inference output against resolved actuals.
// Direction (whether lower raw values are better) is a property of the
// function and is declared on the Contract next to it.
type ScoringFunc func(inferenceOutput, actuals map[string]any) ScoreResult

// ResolveFunc derives ground truth from a feed window. A nil return means
// the truth is currently indeterminate and the input should be retried.
type ResolveFunc func(records []*domain.FeedRecord) map[string]any

// AggregateFunc rolls score results up into a snapshot summary.
type AggregateFunc func(results []map[string]any) map[string]any

// EmissionFunc converts ranked leaderboard entries into an emission artifact.
type EmissionFunc func(entries []domain.LeaderboardEntry, crunchPubkey, computeProvider, dataProvider string) domain.EmissionCheckpoint

// TransformFunc optionally reshapes raw feed input before it reaches models.
type TransformFunc func(raw map[string]any) map[string]any

// OutputValidator checks a model response against the InferenceOutput schema.
// Extra fields are always permitted.
type OutputValidator func(output map[string]any) error

// Contract wires the challenge-specific types and callables. Zero-value
// callables are filled in by Default().
type Contract struct {
	CrunchID string

	Scope       PredictionScope
	Aggregation Aggregation

	// On-chain identifiers. Providers are optional; empty means no vector.
	CrunchPubkey    string
	ComputeProvider string
	DataProvider    string

	ResolveGroundTruth ResolveFunc
	AggregateSnapshot  AggregateFunc
	BuildEmission      EmissionFunc
	Transform          TransformFunc
	ValidateOutput     OutputValidator

	Score ScoringFunc
	// ScoreLowerIsBetter declares the raw-score direction of Score.
	ScoreLowerIsBetter bool
}

// Default returns a contract with the built-in callables: close/price ground
// truth, numeric-mean snapshot aggregation, tiered emission, absolute-error
// scoring (lower is better) and a permissive value-required output schema.
func Default() *Contract {
	return &Contract{
		CrunchID:           "starter-challenge",
		Scope:              PredictionScope{Subject: "BTC", HorizonSeconds: 3600, StepSeconds: 300},
		Aggregation:        DefaultAggregation(),
		ResolveGroundTruth: DefaultResolveGroundTruth,
		AggregateSnapshot:  DefaultAggregateSnapshot,
		BuildEmission:      DefaultBuildEmission,
		ValidateOutput:     DefaultValidateOutput,
		Score:              DefaultScore,
		ScoreLowerIsBetter: true,
	}
}

// Normalize fills nil callables with the defaults so partially specified
// contracts stay usable.
func (c *Contract) Normalize() {
	if c.ResolveGroundTruth == nil {
		c.ResolveGroundTruth = DefaultResolveGroundTruth
	}
	if c.AggregateSnapshot == nil {
		c.AggregateSnapshot = DefaultAggregateSnapshot
	}
	if c.BuildEmission == nil {
		c.BuildEmission = DefaultBuildEmission
	}
	if c.ValidateOutput == nil {
		c.ValidateOutput = DefaultValidateOutput
	}
	if c.Score == nil {
		c.Score = DefaultScore
		c.ScoreLowerIsBetter = true
	}
	if c.Aggregation.Windows == nil {
		c.Aggregation = DefaultAggregation()
	}
}

// Float reads a numeric field out of a JSON-shaped envelope. Returns false
// when the field is absent or not a number.
func Float(envelope map[string]any, key string) (float64, bool) {
	if envelope == nil {
		return 0, false
	}
	switch v := envelope[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// DefaultValidateOutput requires a numeric "value" field. Extra fields pass.
func DefaultValidateOutput(output map[string]any) error {
	if output == nil {
		return fmt.Errorf("inference output is empty")
	}
	if _, ok := Float(output, "value"); !ok {
		return fmt.Errorf("inference output missing numeric field %q", "value")
	}
	return nil
}
