// Package ingestion runs the continuous market data pipeline: backfill from
// the provider on startup, then listen for live records, with a retention
// loop pruning expired history.
package ingestion

import (
	"context"
	"log"
	"sync"
	"time"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/feed"
	"crunch-coordinator/internal/notify"
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/storage"
)

// Settings configures one ingestor.
type Settings struct {
	Source      string
	Subjects    []string
	Kind        string
	Granularity string

	BackfillMinutes       int
	PageLimit             int
	PollSeconds           int
	TTLDays               int
	RetentionCheckSeconds int
}

// IngestorOptions contains the dependencies for creating an Ingestor.
type IngestorOptions struct {
	Provider feed.Provider
	Records  storage.FeedRecordStore
	State    storage.IngestionStateStore
	Notifier notify.Notifier
	Settings Settings
	Logger   *log.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// Ingestor orchestrates backfill, live listening, watermarks and retention
// for one provider's subjects.
type Ingestor struct {
	provider feed.Provider
	records  storage.FeedRecordStore
	state    storage.IngestionStateStore
	notifier notify.Notifier
	settings Settings
	logger   *log.Logger
	now      func() time.Time
}

// NewIngestor creates an ingestor.
func NewIngestor(opts IngestorOptions) *Ingestor {
	s := opts.Settings
	if s.Source == "" && opts.Provider != nil {
		s.Source = opts.Provider.Name()
	}
	if len(s.Subjects) == 0 {
		s.Subjects = []string{"BTC"}
	}
	if s.Kind == "" {
		s.Kind = "candle"
	}
	if s.Granularity == "" {
		s.Granularity = "1m"
	}
	if s.BackfillMinutes <= 0 {
		s.BackfillMinutes = 180
	}
	if s.PageLimit <= 0 {
		s.PageLimit = 500
	}
	if s.PollSeconds <= 0 {
		s.PollSeconds = 60
	}
	if s.TTLDays <= 0 {
		s.TTLDays = 90
	}
	if s.RetentionCheckSeconds < 30 {
		s.RetentionCheckSeconds = 3600
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Ingestor{
		provider: opts.Provider,
		records:  opts.Records,
		state:    opts.State,
		notifier: opts.Notifier,
		settings: s,
		logger:   logger,
		now:      now,
	}
}

func (i *Ingestor) scope(subject string) domain.FeedScope {
	return domain.FeedScope{
		Source:      i.settings.Source,
		Subject:     subject,
		Kind:        i.settings.Kind,
		Granularity: i.settings.Granularity,
	}
}

// Run backfills every subject, then listens for live records and prunes
// retention until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	i.logger.Printf("ingestor started source=%s subjects=%v kind=%s granularity=%s",
		i.settings.Source, i.settings.Subjects, i.settings.Kind, i.settings.Granularity)

	for _, subject := range i.settings.Subjects {
		if err := i.Backfill(ctx, subject); err != nil {
			// Provider trouble must not stop the service; the listen loop
			// resumes from the persisted watermark.
			i.logger.Printf("backfill subject=%s failed: %v", subject, err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		i.listenLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		i.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		i.retentionLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	i.logger.Println("ingestor stopped")
	return ctx.Err()
}

// Backfill pulls pages from the watermark (or the backfill window start)
// up to now, appending and advancing the watermark per page. Stops on an
// empty page or when the cursor stops advancing.
func (i *Ingestor) Backfill(ctx context.Context, subject string) error {
	now := i.now()
	start := now.Add(-time.Duration(i.settings.BackfillMinutes) * time.Minute).Unix()

	if wm, err := i.state.Get(ctx, i.scope(subject)); err == nil && wm.LastEventTs > start {
		start = wm.LastEventTs
	}

	cursor := start
	total := 0
	for {
		fetchStart := time.Now()
		records, err := i.provider.Fetch(ctx, feed.FetchRequest{
			Subjects:    []string{subject},
			Kind:        i.settings.Kind,
			Granularity: i.settings.Granularity,
			StartTs:     cursor,
			EndTs:       now.Unix(),
			Limit:       i.settings.PageLimit,
		})
		observability.DefaultMetrics.FeedPollLatency.WithLabelValues(i.settings.Source).Observe(time.Since(fetchStart).Seconds())
		if err != nil {
			observability.RecordFeedError(i.settings.Source)
			return err
		}
		if len(records) == 0 {
			break
		}

		written, maxTs, err := i.append(ctx, subject, records, "backfill")
		if err != nil {
			return err
		}
		total += written

		if maxTs <= cursor {
			// no-progress break
			break
		}
		cursor = maxTs
	}

	if total > 0 {
		i.logger.Printf("backfill subject=%s wrote=%d", subject, total)
	}
	return nil
}

// pollLoop re-runs backfill on every poll interval. The listen stream drops
// records across provider outages; polling closes those gaps from the
// persisted watermark.
func (i *Ingestor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(i.settings.PollSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.pollOnce(ctx)
		}
	}
}

// pollOnce backfills every subject from its current watermark.
func (i *Ingestor) pollOnce(ctx context.Context) {
	for _, subject := range i.settings.Subjects {
		if err := i.Backfill(ctx, subject); err != nil {
			i.logger.Printf("poll subject=%s failed: %v", subject, err)
		}
	}
}

// listenLoop subscribes for live records; each record is appended, advances
// the watermark and raises the new-feed-data signal.
func (i *Ingestor) listenLoop(ctx context.Context) {
	sink := func(rec *domain.FeedRecord) {
		if _, _, err := i.append(ctx, rec.Subject, []*domain.FeedRecord{rec}, "listen"); err != nil {
			i.logger.Printf("append live record subject=%s failed: %v", rec.Subject, err)
			return
		}
		if i.notifier != nil {
			if err := i.notifier.Notify(ctx); err != nil {
				i.logger.Printf("notify failed: %v", err)
			}
		}
	}

	err := i.provider.Listen(ctx, feed.Subscription{
		Subjects:    i.settings.Subjects,
		Kind:        i.settings.Kind,
		Granularity: i.settings.Granularity,
	}, sink)
	if err != nil && ctx.Err() == nil {
		i.logger.Printf("listen stopped: %v", err)
	}
}

// retentionLoop prunes records older than the TTL on every check interval.
func (i *Ingestor) retentionLoop(ctx context.Context) {
	interval := time.Duration(i.settings.RetentionCheckSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.PruneExpired(ctx)
		}
	}
}

// PruneExpired deletes records older than the TTL for every subject.
func (i *Ingestor) PruneExpired(ctx context.Context) {
	cutoff := i.now().Add(-time.Duration(i.settings.TTLDays) * 24 * time.Hour).Unix()
	for _, subject := range i.settings.Subjects {
		deleted, err := i.records.DeleteOlderThan(ctx, i.scope(subject), cutoff)
		if err != nil {
			i.logger.Printf("retention subject=%s failed: %v", subject, err)
			continue
		}
		if deleted > 0 {
			i.logger.Printf("retention subject=%s pruned=%d", subject, deleted)
		}
	}
}

// append writes records and advances the watermark to the batch's max
// ts_event. The watermark moves only after the append succeeded.
func (i *Ingestor) append(ctx context.Context, subject string, records []*domain.FeedRecord, phase string) (int, int64, error) {
	written, err := i.records.Upsert(ctx, records)
	if err != nil {
		observability.RecordFeedError(i.settings.Source)
		return 0, 0, err
	}
	observability.RecordFeedBatch(i.settings.Source, subject, written)
	observability.DefaultMetrics.LastSuccessfulIngestion.SetToCurrentTime()

	var maxTs int64
	for _, rec := range records {
		if rec.TsEvent > maxTs {
			maxTs = rec.TsEvent
		}
	}

	// Watermarks only move forward.
	if existing, err := i.state.Get(ctx, i.scope(subject)); err == nil && existing.LastEventTs >= maxTs {
		return written, maxTs, nil
	}

	wm := &domain.IngestionWatermark{
		Scope:       i.scope(subject),
		LastEventTs: maxTs,
		UpdatedAt:   i.now(),
		Meta:        map[string]any{"phase": phase},
	}
	if err := i.state.Upsert(ctx, wm); err != nil {
		return written, maxTs, err
	}
	observability.UpdateWatermark(i.settings.Source, subject, i.settings.Kind, i.settings.Granularity, maxTs)
	return written, maxTs, nil
}
