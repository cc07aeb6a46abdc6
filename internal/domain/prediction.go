package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InputStatus is the lifecycle state of an InputRecord.
type InputStatus string

const (
	InputReceived InputStatus = "RECEIVED"
	InputResolved InputStatus = "RESOLVED"
)

// PredictionStatus is the lifecycle state of a PredictionRecord.
// SCORED and FAILED are terminal; no backward transitions.
type PredictionStatus string

const (
	PredictionPending PredictionStatus = "PENDING"
	PredictionScored  PredictionStatus = "SCORED"
	PredictionFailed  PredictionStatus = "FAILED"
	PredictionAbsent  PredictionStatus = "ABSENT"
)

// Terminal reports whether a prediction may no longer change status.
func (s PredictionStatus) Terminal() bool {
	return s == PredictionScored || s == PredictionFailed
}

// PredictionParams is the frozen (asset, horizon, steps) identity used by the
// scheduler and by round grouping. Value-equal params share the same Key.
type PredictionParams struct {
	Asset   string
	Horizon int64   // seconds from performed_at to resolvable_at
	Steps   []int64 // ordered sub-horizon offsets in seconds
}

// Key returns the stable string projection used as map identity and scope_key.
func (p PredictionParams) Key() string {
	steps := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = strconv.FormatInt(s, 10)
	}
	return fmt.Sprintf("%s-%d-%s", p.Asset, p.Horizon, strings.Join(steps, "_"))
}

// StepsKey returns the steps tuple as a stable string, used for grouping.
func (p PredictionParams) StepsKey() string {
	steps := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = strconv.FormatInt(s, 10)
	}
	return strings.Join(steps, "_")
}

// Equal compares params by value, including step order.
func (p PredictionParams) Equal(o PredictionParams) bool {
	if p.Asset != o.Asset || p.Horizon != o.Horizon || len(p.Steps) != len(o.Steps) {
		return false
	}
	for i := range p.Steps {
		if p.Steps[i] != o.Steps[i] {
			return false
		}
	}
	return true
}

// Schedule describes the cadence of a prediction config.
type Schedule struct {
	EverySeconds int64
	// ResolveAfterSeconds overrides the horizon-derived resolution delay
	// when set.
	ResolveAfterSeconds *int64
}

// ScheduledPredictionConfig is a persisted prediction cadence definition.
// Configs sharing (horizon, steps, every_seconds) are scheduled as one group.
type ScheduledPredictionConfig struct {
	ID            string
	ScopeKey      string
	ScopeTemplate map[string]any
	Params        PredictionParams
	Schedule      Schedule
	Active        bool
	Order         int
}

// InputRecord is one observed market snapshot handed to models, later
// resolved against ground truth.
type InputRecord struct {
	ID           string
	RawData      map[string]any // contract RawInput shape
	Actuals      map[string]any // contract GroundTruth shape, nil until resolved
	Scope        map[string]any
	Status       InputStatus
	ReceivedAt   time.Time
	ResolvableAt time.Time
	Meta         map[string]any
}

// PredictionRecord is one model's answer for one scope at one instant.
// At most one prediction exists per (model_id, scope_key, performed_at).
type PredictionRecord struct {
	ID                 string
	InputID            string
	ModelID            string
	PredictionConfigID *string
	ScopeKey           string
	Scope              map[string]any
	Status             PredictionStatus
	ExecTimeMs         float64
	InferenceOutput    map[string]any
	PerformedAt        time.Time
	ResolvableAt       time.Time
}

// ScoreRecord carries the raw and normalized score of one prediction.
// A score row exists iff its prediction is in {SCORED, FAILED, ABSENT}.
type ScoreRecord struct {
	ID           string
	PredictionID string
	Raw          *float64 // nil on failure
	Final        *float64 // normalized to [0, 1]
	Success      bool
	FailedReason *string
	ScoredAt     time.Time
}
