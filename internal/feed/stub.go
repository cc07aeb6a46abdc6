package feed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"crunch-coordinator/internal/domain"
)

// StubProvider generates a deterministic synthetic price walk. Used in tests
// and local development where no exchange connectivity exists. The series is
// a pure function of (subject, ts_event), so backfill and listen agree.
type StubProvider struct {
	basePrice float64
	tick      time.Duration
}

// NewStubProvider creates a stub provider with one-minute candles.
func NewStubProvider() *StubProvider {
	return &StubProvider{basePrice: 100.0, tick: time.Minute}
}

// Name returns the provider key.
func (p *StubProvider) Name() string { return "stub" }

// ListSubjects returns a fixed demo asset set.
func (p *StubProvider) ListSubjects(_ context.Context) ([]SubjectDescriptor, error) {
	var subjects []SubjectDescriptor
	for _, sym := range []string{"BTC", "ETH", "XAUT"} {
		subjects = append(subjects, SubjectDescriptor{
			Symbol:        sym,
			DisplayName:   sym + "/USD (synthetic)",
			Kinds:         []string{"candle"},
			Granularities: []string{"1m"},
			Quote:         "USD",
			Base:          sym,
			Venue:         "stub",
		})
	}
	return subjects, nil
}

// priceAt derives a deterministic pseudo-price for a subject at a timestamp.
func (p *StubProvider) priceAt(subject string, ts int64) float64 {
	h := sha256.Sum256([]byte(subject))
	seed := float64(binary.BigEndian.Uint16(h[:2]))
	base := p.basePrice + seed

	minutes := float64(ts) / 60.0
	wave := math.Sin(minutes/15.0+seed) + 0.5*math.Sin(minutes/90.0)
	return base * (1 + 0.01*wave)
}

func (p *StubProvider) candleAt(subject, granularity string, ts int64) *domain.FeedRecord {
	open := p.priceAt(subject, ts)
	close := p.priceAt(subject, ts+int64(p.tick.Seconds())-1)
	high := math.Max(open, close) * 1.0005
	low := math.Min(open, close) * 0.9995

	return &domain.FeedRecord{
		Source:      "stub",
		Subject:     strings.ToUpper(subject),
		Kind:        "candle",
		Granularity: granularity,
		TsEvent:     ts,
		Values: map[string]any{
			"open":   open,
			"high":   high,
			"low":    low,
			"close":  close,
			"volume": 10.0,
		},
		TsIngested: time.Now().UTC(),
	}
}

// Fetch generates candles on tick boundaries inside [StartTs, EndTs].
func (p *StubProvider) Fetch(_ context.Context, req FetchRequest) ([]*domain.FeedRecord, error) {
	granularity := req.Granularity
	if granularity == "" {
		granularity = "1m"
	}
	step := int64(p.tick.Seconds())

	end := req.EndTs
	if end == 0 {
		end = time.Now().UTC().Unix()
	}
	start := req.StartTs
	if start == 0 {
		start = end - 120*step
	}
	start = (start / step) * step

	var records []*domain.FeedRecord
	for _, subject := range req.Subjects {
		count := 0
		for ts := start; ts <= end; ts += step {
			if req.Limit > 0 && count >= req.Limit {
				break
			}
			records = append(records, p.candleAt(subject, granularity, ts))
			count++
		}
	}
	return records, nil
}

// Listen emits one candle per subject per tick until ctx is cancelled.
func (p *StubProvider) Listen(ctx context.Context, sub Subscription, sink Sink) error {
	granularity := sub.Granularity
	if granularity == "" {
		granularity = "1m"
	}

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			step := int64(p.tick.Seconds())
			ts := (now.UTC().Unix() / step) * step
			for _, subject := range sub.Subjects {
				sink(p.candleAt(subject, granularity, ts))
			}
		}
	}
}

var _ Provider = (*StubProvider)(nil)
