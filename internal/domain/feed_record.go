package domain

import "time"

// FeedScope identifies one logical feed stream.
type FeedScope struct {
	Source      string
	Subject     string
	Kind        string // "tick" or "candle"
	Granularity string // e.g. "1m"
}

// FeedRecord is the canonical market data record normalized by feed providers.
// The natural key is (source, subject, kind, granularity, ts_event); repeated
// ingestion of the same key updates values/meta/ts_ingested.
type FeedRecord struct {
	Source      string
	Subject     string
	Kind        string
	Granularity string
	TsEvent     int64 // unix seconds
	Values      map[string]any
	Meta        map[string]any
	TsIngested  time.Time
}

// Scope returns the stream identity of the record.
func (r *FeedRecord) Scope() FeedScope {
	return FeedScope{
		Source:      r.Source,
		Subject:     r.Subject,
		Kind:        r.Kind,
		Granularity: r.Granularity,
	}
}

// IngestionWatermark tracks the highest ts_event durably appended for a scope.
// LastEventTs is monotonic non-decreasing and advanced only after the batch
// containing it has been written.
type IngestionWatermark struct {
	Scope       FeedScope
	LastEventTs int64 // unix seconds
	UpdatedAt   time.Time
	Meta        map[string]any
}
