package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"crunch-coordinator/internal/contract"
	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/idhash"
	"crunch-coordinator/internal/modelrunner"
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/storage"
)

// DefaultCallTimeout bounds one broadcast call to the model runner.
const DefaultCallTimeout = 30 * time.Second

// InputReader is the feed projection the dispatcher reads model inputs from.
type InputReader interface {
	GetInput(ctx context.Context, subject string, now time.Time) (map[string]any, error)
	LatestEventTime(ctx context.Context, subject string) (*time.Time, error)
}

// Options contains the dependencies for creating a Dispatcher.
type Options struct {
	Runner      modelrunner.Runner
	Reader      InputReader
	Registry    *Registry
	Inputs      storage.InputStore
	Predictions storage.PredictionStore
	Scores      storage.ScoreStore
	Contract    *contract.Contract
	CallTimeout time.Duration
	Logger      *log.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// Dispatcher runs one prediction round per scheduler emission: tick with the
// latest market input, broadcast predict, classify the per-model outcomes and
// persist the batch.
type Dispatcher struct {
	runner      modelrunner.Runner
	reader      InputReader
	registry    *Registry
	inputs      storage.InputStore
	predictions storage.PredictionStore
	scores      storage.ScoreStore
	contract    *contract.Contract
	callTimeout time.Duration
	logger      *log.Logger
	now         func() time.Time
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	c := opts.Contract
	if c == nil {
		c = contract.Default()
	}
	c.Normalize()

	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Dispatcher{
		runner:      opts.Runner,
		reader:      opts.Reader,
		registry:    opts.Registry,
		inputs:      opts.Inputs,
		predictions: opts.Predictions,
		scores:      opts.Scores,
		contract:    c,
		callTimeout: timeout,
		logger:      logger,
		now:         now,
	}
}

// Reader returns the feed projection, shared with the predict loop.
func (d *Dispatcher) Reader() InputReader {
	return d.reader
}

// buildScope merges the config's scope template with the round's identity
// fields. Template entries never override the identity.
func buildScope(cfg *domain.ScheduledPredictionConfig, params domain.PredictionParams) map[string]any {
	scope := make(map[string]any)
	if cfg != nil {
		for k, v := range cfg.ScopeTemplate {
			scope[k] = v
		}
	}
	scope["subject"] = params.Asset
	scope["horizon_seconds"] = params.Horizon
	scope["step_seconds"] = append([]int64(nil), params.Steps...)
	return scope
}

// Dispatch runs one round for params. Returns the number of prediction
// records written; the caller marks the scheduler executed only when at
// least one was.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg *domain.ScheduledPredictionConfig, params domain.PredictionParams, now time.Time) (written int, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		observability.RecordDispatchRun(status, time.Since(start).Seconds())
	}()

	scopeKey := params.Key()
	if cfg != nil && cfg.ScopeKey != "" {
		scopeKey = cfg.ScopeKey
	}
	scope := buildScope(cfg, params)

	raw, err := d.reader.GetInput(ctx, params.Asset, now)
	if err != nil {
		return 0, fmt.Errorf("get input for %s: %w", params.Asset, err)
	}

	inference := raw
	if d.contract.Transform != nil {
		inference = d.contract.Transform(raw)
	}

	d.tick(ctx, inference, now)

	responses, predictErr := d.predict(ctx, params)
	for _, resp := range responses {
		d.registry.Register(ctx, resp.Info, now)
	}

	input := &domain.InputRecord{
		ID:           idhash.InputID(scopeKey, now),
		RawData:      raw,
		Scope:        scope,
		Status:       domain.InputReceived,
		ReceivedAt:   now,
		ResolvableAt: now.Add(time.Duration(params.Horizon) * time.Second),
	}
	if err := d.inputs.Insert(ctx, input); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return 0, fmt.Errorf("insert input: %w", err)
	}

	records := d.classify(input, cfg, scopeKey, scope, responses, predictErr, now)
	return d.persist(ctx, records, now)
}

// tick pushes the fresh input to every model. Best effort; a failed tick does
// not cancel the round.
func (d *Dispatcher) tick(ctx context.Context, inference map[string]any, now time.Time) {
	tickCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	start := time.Now()
	responses, err := d.runner.Tick(tickCtx, inference)
	observability.RecordModelCall("tick", time.Since(start).Seconds())
	if err != nil {
		d.logger.Printf("tick broadcast failed: %v", err)
		return
	}
	for _, resp := range responses {
		d.registry.Register(ctx, resp.Info, now)
	}
}

func (d *Dispatcher) predict(ctx context.Context, params domain.PredictionParams) ([]modelrunner.ModelResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	start := time.Now()
	responses, err := d.runner.Predict(callCtx, map[string]any{
		"subject":         params.Asset,
		"horizon_seconds": params.Horizon,
		"step_seconds":    append([]int64(nil), params.Steps...),
	})
	observability.RecordModelCall("predict", time.Since(start).Seconds())
	return responses, err
}

// classified is one prediction record plus the failure reason carried onto
// its score row.
type classified struct {
	record *domain.PredictionRecord
	reason string
}

// classify maps runner responses onto prediction records. Registered models
// missing from the responses become ABSENT.
func (d *Dispatcher) classify(input *domain.InputRecord, cfg *domain.ScheduledPredictionConfig, scopeKey string, scope map[string]any, responses []modelrunner.ModelResponse, predictErr error, now time.Time) []classified {
	var configID *string
	if cfg != nil {
		id := cfg.ID
		configID = &id
	}

	base := func(modelID string, absent bool) *domain.PredictionRecord {
		return &domain.PredictionRecord{
			ID:                 idhash.PredictionID(modelID, scopeKey, now, absent),
			InputID:            input.ID,
			ModelID:            modelID,
			PredictionConfigID: configID,
			ScopeKey:           scopeKey,
			Scope:              scope,
			PerformedAt:        now,
			ResolvableAt:       input.ResolvableAt,
		}
	}

	var out []classified
	answered := make(map[string]bool, len(responses))

	for _, resp := range responses {
		if resp.Info.ModelID == "" {
			continue
		}
		answered[resp.Info.ModelID] = true

		rec := base(resp.Info.ModelID, false)
		rec.ExecTimeMs = resp.ExecTimeMs()

		var reason string
		switch resp.Status {
		case modelrunner.CallSuccess:
			if err := d.contract.ValidateOutput(resp.Result); err != nil {
				rec.Status = domain.PredictionFailed
				reason = err.Error()
			} else {
				rec.Status = domain.PredictionPending
				rec.InferenceOutput = resp.Result
			}
		case modelrunner.CallTimeout:
			rec.Status = domain.PredictionFailed
			reason = "timeout"
		default:
			rec.Status = domain.PredictionFailed
			reason = resp.Reason
			if reason == "" {
				reason = "model call failed"
			}
		}
		out = append(out, classified{record: rec, reason: reason})
	}

	// Models we know about but got nothing back from. A broadcast that timed
	// out as a whole counts as a per-model timeout, not an absence.
	timedOut := errors.Is(predictErr, context.DeadlineExceeded)
	for _, info := range d.registry.Snapshot() {
		if answered[info.ModelID] {
			continue
		}
		if timedOut {
			rec := base(info.ModelID, false)
			rec.Status = domain.PredictionFailed
			rec.ExecTimeMs = float64(d.callTimeout.Milliseconds())
			out = append(out, classified{record: rec, reason: "timeout"})
			continue
		}
		rec := base(info.ModelID, true)
		rec.Status = domain.PredictionAbsent
		out = append(out, classified{record: rec, reason: "model absent"})
	}

	if predictErr != nil && !timedOut {
		d.logger.Printf("predict broadcast failed: %v", predictErr)
	}
	return out
}

// persist writes the round's records. FAILED and ABSENT records settle
// immediately, so their score rows are written alongside.
func (d *Dispatcher) persist(ctx context.Context, records []classified, now time.Time) (int, error) {
	written := 0
	for _, c := range records {
		rec := c.record
		if err := d.predictions.Insert(ctx, rec); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				continue
			}
			return written, fmt.Errorf("insert prediction %s: %w", rec.ID, err)
		}
		written++
		observability.RecordDispatchedPrediction(string(rec.Status))

		if rec.Status == domain.PredictionPending {
			continue
		}

		zero := 0.0
		reason := c.reason
		score := &domain.ScoreRecord{
			ID:           idhash.ScoreID(rec.ID),
			PredictionID: rec.ID,
			Final:        &zero,
			Success:      false,
			FailedReason: &reason,
			ScoredAt:     now,
		}
		if err := d.scores.Insert(ctx, score); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return written, fmt.Errorf("insert score for %s: %w", rec.ID, err)
		}
	}
	return written, nil
}
