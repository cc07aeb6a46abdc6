// Package resolution settles input records against ground truth once their
// horizon has elapsed.
package resolution

import (
	"context"
	"fmt"
	"log"
	"time"

	"crunch-coordinator/internal/contract"
	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// DefaultMaxRetryAge bounds how long an unresolvable input keeps being
// retried past its resolvable_at before it is force-settled with no actuals.
const DefaultMaxRetryAge = 24 * time.Hour

// WindowFetcher reads the feed records covering an input's horizon.
type WindowFetcher interface {
	FetchWindow(ctx context.Context, subject string, start, end time.Time) ([]*domain.FeedRecord, error)
}

// Options contains the dependencies for creating a Resolver.
type Options struct {
	Inputs      storage.InputStore
	Reader      WindowFetcher
	Contract    *contract.Contract
	MaxRetryAge time.Duration
	Logger      *log.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// Resolver transitions due inputs RECEIVED -> RESOLVED by applying the
// contract's ground truth callable to the feed window of each horizon.
type Resolver struct {
	inputs      storage.InputStore
	reader      WindowFetcher
	contract    *contract.Contract
	maxRetryAge time.Duration
	logger      *log.Logger
	now         func() time.Time
}

// New creates a resolver.
func New(opts Options) *Resolver {
	c := opts.Contract
	if c == nil {
		c = contract.Default()
	}
	c.Normalize()

	maxAge := opts.MaxRetryAge
	if maxAge <= 0 {
		maxAge = DefaultMaxRetryAge
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Resolver{
		inputs:      opts.Inputs,
		reader:      opts.Reader,
		contract:    c,
		maxRetryAge: maxAge,
		logger:      logger,
		now:         now,
	}
}

// ResolveDue settles every RECEIVED input whose resolvable_at has passed.
// Indeterminate inputs are left for the next cycle until the retry age is
// exhausted, then settled with no actuals so their predictions can fail.
// Returns the number of inputs resolved.
func (r *Resolver) ResolveDue(ctx context.Context) (int, error) {
	received, err := r.inputs.ListByStatus(ctx, domain.InputReceived)
	if err != nil {
		return 0, fmt.Errorf("list received inputs: %w", err)
	}

	now := r.now()
	resolved := 0
	for _, in := range received {
		if in.ResolvableAt.After(now) {
			continue
		}

		actuals, err := r.resolveOne(ctx, in)
		if err != nil {
			r.logger.Printf("resolve input %s failed: %v", in.ID, err)
			continue
		}

		if actuals == nil {
			if now.Sub(in.ResolvableAt) < r.maxRetryAge {
				continue
			}
			// Retry budget exhausted. Settle without actuals; downstream
			// predictions transition to FAILED.
			r.logger.Printf("input %s unresolvable after %s, settling without actuals", in.ID, r.maxRetryAge)
		}

		if err := r.inputs.Resolve(ctx, in.ID, actuals); err != nil {
			r.logger.Printf("mark input %s resolved failed: %v", in.ID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// resolveOne fetches the input's feed window and applies the contract
// resolver. A nil result means the ground truth is still indeterminate.
func (r *Resolver) resolveOne(ctx context.Context, in *domain.InputRecord) (map[string]any, error) {
	subject, _ := in.Scope["subject"].(string)
	if subject == "" {
		return nil, fmt.Errorf("input %s has no subject in scope", in.ID)
	}

	records, err := r.reader.FetchWindow(ctx, subject, in.ReceivedAt, in.ResolvableAt)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}

	return r.contract.ResolveGroundTruth(records), nil
}
