package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"crunch-coordinator/internal/contract"
	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage"
)

// timeframe is one derived candle series attached to the raw input alongside
// the base 1m window.
type timeframe struct {
	Field  string
	Factor int // base candles per derived candle
	Count  int // derived candles to attach
}

// derivedTimeframes are aggregated from the base series when the base
// granularity is one minute.
var derivedTimeframes = []timeframe{
	{Field: "candles_5m", Factor: 5, Count: 60},
	{Field: "candles_15m", Factor: 15, Count: 40},
	{Field: "candles_1h", Factor: 60, Count: 24},
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Records  storage.FeedRecordStore
	Provider Provider // optional, enables on-demand recovery backfill

	Source      string
	Kind        string // "tick" or "candle"
	Granularity string
	WindowSize  int // base candles per input

	Logger *log.Logger
}

// Reader builds model inputs from stored feed records, backfilling from the
// provider when the store window is too thin.
type Reader struct {
	records  storage.FeedRecordStore
	provider Provider

	source      string
	kind        string
	granularity string
	granStep    time.Duration
	windowSize  int

	logger *log.Logger
}

// NewReader creates a feed reader.
func NewReader(opts ReaderOptions) (*Reader, error) {
	if opts.Records == nil {
		return nil, fmt.Errorf("reader requires a feed record store")
	}
	if opts.Source == "" {
		opts.Source = "binance"
	}
	if opts.Kind == "" {
		opts.Kind = "candle"
	}
	if opts.Granularity == "" {
		opts.Granularity = "1m"
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = 120
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[feed-reader] ", log.LstdFlags|log.Lshortfile)
	}

	step, err := GranularityDuration(opts.Granularity)
	if err != nil {
		return nil, err
	}

	return &Reader{
		records:     opts.Records,
		provider:    opts.Provider,
		source:      opts.Source,
		kind:        opts.Kind,
		granularity: opts.Granularity,
		granStep:    step,
		windowSize:  opts.WindowSize,
		logger:      opts.Logger,
	}, nil
}

func (r *Reader) scope(subject string) domain.FeedScope {
	return domain.FeedScope{
		Source:      r.source,
		Subject:     subject,
		Kind:        r.kind,
		Granularity: r.granularity,
	}
}

// GetInput builds the raw input envelope for one subject: the symbol, the
// event time of the newest candle, and the recent base-granularity window,
// plus derived timeframes when the base is 1m. A thin window triggers one
// on-demand recovery backfill before giving up.
func (r *Reader) GetInput(ctx context.Context, subject string, now time.Time) (map[string]any, error) {
	candles, err := r.loadRecentCandles(ctx, subject, now)
	if err != nil {
		return nil, err
	}

	minCandles := r.windowSize
	if minCandles > 3 {
		minCandles = 3
	}
	if len(candles) < minCandles && r.provider != nil {
		window := time.Duration(max(5, r.windowSize)) * r.granStep
		r.recoverWindow(ctx, subject, now.Add(-window), now)
		if candles, err = r.loadRecentCandles(ctx, subject, now); err != nil {
			return nil, err
		}
	}

	asofTs := now.UTC().Unix()
	if len(candles) > 0 {
		asofTs = candles[len(candles)-1].Ts
	}

	input := map[string]any{
		"symbol":     subject,
		"asof_ts":    asofTs,
		"candles_1m": candleMaps(candles),
	}
	if r.granularity == "1m" {
		for _, tf := range derivedTimeframes {
			input[tf.Field] = candleMaps(aggregateCandles(candles, tf.Factor, tf.Count, int64(r.granStep.Seconds())))
		}
	}
	return input, nil
}

// FetchWindow retrieves feed records inside [start, end], recovering from the
// provider when the store has nothing for the window.
func (r *Reader) FetchWindow(ctx context.Context, subject string, start, end time.Time) ([]*domain.FeedRecord, error) {
	records, err := r.records.GetWindow(ctx, r.scope(subject), start.UTC().Unix(), end.UTC().Unix(), 0)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 || r.provider == nil {
		return records, nil
	}

	r.recoverWindow(ctx, subject, start.Add(-2*time.Minute), end.Add(2*time.Minute))
	return r.records.GetWindow(ctx, r.scope(subject), start.UTC().Unix(), end.UTC().Unix(), 0)
}

// LatestEventTime returns the event time of the newest stored record for a
// subject, or nil when none exists. Feeds the scheduler's freshness gate.
func (r *Reader) LatestEventTime(ctx context.Context, subject string) (*time.Time, error) {
	rec, err := r.records.GetLatest(ctx, r.scope(subject), 0)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := time.Unix(rec.TsEvent, 0).UTC()
	return &t, nil
}

func (r *Reader) loadRecentCandles(ctx context.Context, subject string, now time.Time) ([]contract.Candle, error) {
	// Over-fetch two windows back so gaps do not starve the projection.
	start := now.Add(-2 * time.Duration(r.windowSize) * r.granStep)
	records, err := r.records.GetWindow(ctx, r.scope(subject), start.UTC().Unix(), now.UTC().Unix(), 0)
	if err != nil {
		return nil, err
	}

	candles := make([]contract.Candle, 0, len(records))
	for _, rec := range records {
		if c, ok := recordCandle(rec); ok {
			candles = append(candles, c)
		}
	}
	if len(candles) > r.windowSize {
		candles = candles[len(candles)-r.windowSize:]
	}
	return candles, nil
}

// recoverWindow pulls records from the provider and stores them. Recovery is
// best effort; provider errors only log.
func (r *Reader) recoverWindow(ctx context.Context, subject string, start, end time.Time) {
	records, err := r.provider.Fetch(ctx, FetchRequest{
		Subjects:    []string{subject},
		Kind:        r.kind,
		Granularity: r.granularity,
		StartTs:     start.UTC().Unix(),
		EndTs:       end.UTC().Unix(),
		Limit:       500,
	})
	if err != nil {
		r.logger.Printf("recovery fetch for %s failed: %v", subject, err)
		return
	}
	if len(records) == 0 {
		return
	}

	if _, err := r.records.Upsert(ctx, records); err != nil {
		r.logger.Printf("recovery append for %s failed: %v", subject, err)
	}
}

// recordCandle projects a stored record onto the candle shape. Ticks become
// flat candles around their price.
func recordCandle(rec *domain.FeedRecord) (contract.Candle, bool) {
	price, ok := contract.Float(rec.Values, "close")
	if !ok {
		price, ok = contract.Float(rec.Values, "price")
	}
	if !ok {
		return contract.Candle{}, false
	}

	c := contract.Candle{Ts: rec.TsEvent, Open: price, High: price, Low: price, Close: price}
	if rec.Kind == "candle" {
		if v, ok := contract.Float(rec.Values, "open"); ok {
			c.Open = v
		}
		if v, ok := contract.Float(rec.Values, "high"); ok {
			c.High = v
		}
		if v, ok := contract.Float(rec.Values, "low"); ok {
			c.Low = v
		}
		if v, ok := contract.Float(rec.Values, "volume"); ok {
			c.Volume = v
		}
	}
	return c, true
}

// aggregateCandles rolls base candles into buckets of factor candles aligned
// on bucket boundaries, returning at most count trailing buckets.
func aggregateCandles(base []contract.Candle, factor, count int, stepSeconds int64) []contract.Candle {
	if len(base) == 0 || factor <= 1 {
		return nil
	}
	bucketSpan := int64(factor) * stepSeconds

	buckets := make(map[int64][]contract.Candle)
	var order []int64
	for _, c := range base {
		key := (c.Ts / bucketSpan) * bucketSpan
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], c)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]contract.Candle, 0, len(order))
	for _, key := range order {
		group := buckets[key]
		agg := contract.Candle{
			Ts:   key,
			Open: group[0].Open,
			High: group[0].High,
			Low:  group[0].Low,
		}
		for _, c := range group {
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Volume += c.Volume
		}
		agg.Close = group[len(group)-1].Close
		out = append(out, agg)
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out
}

func candleMaps(candles []contract.Candle) []map[string]any {
	out := make([]map[string]any, 0, len(candles))
	for _, c := range candles {
		out = append(out, c.Map())
	}
	return out
}
