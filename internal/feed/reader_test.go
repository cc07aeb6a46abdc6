package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crunch-coordinator/internal/contract"
	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage/memory"
)

func storedCandle(ts int64, close float64) *domain.FeedRecord {
	return &domain.FeedRecord{
		Source:      "stub",
		Subject:     "BTC",
		Kind:        "candle",
		Granularity: "1m",
		TsEvent:     ts,
		Values: map[string]any{
			"open": close - 1, "high": close + 1, "low": close - 2, "close": close, "volume": 3.0,
		},
	}
}

func newTestReader(t *testing.T, store *memory.FeedRecordStore, provider Provider) *Reader {
	t.Helper()
	reader, err := NewReader(ReaderOptions{
		Records:     store,
		Provider:    provider,
		Source:      "stub",
		Kind:        "candle",
		Granularity: "1m",
		WindowSize:  10,
	})
	require.NoError(t, err)
	return reader
}

func TestReaderGetInputFromStore(t *testing.T) {
	store := memory.NewFeedRecordStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(0); i < 5; i++ {
		_, _ = store.Upsert(ctx, []*domain.FeedRecord{
			storedCandle(now.Unix()-(5-i)*60, 100+float64(i)),
		})
	}

	input, err := newTestReader(t, store, nil).GetInput(ctx, "BTC", now)
	require.NoError(t, err)

	assert.Equal(t, "BTC", input["symbol"])
	candles := input["candles_1m"].([]map[string]any)
	require.Len(t, candles, 5)
	assert.Equal(t, input["asof_ts"], candles[4]["ts"])
	assert.Equal(t, 104.0, candles[4]["close"])
}

func TestReaderGetInputRecoversThinWindow(t *testing.T) {
	store := memory.NewFeedRecordStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Empty store: the reader should backfill from the provider.
	input, err := newTestReader(t, store, NewStubProvider()).GetInput(ctx, "BTC", now)
	require.NoError(t, err)

	candles := input["candles_1m"].([]map[string]any)
	assert.NotEmpty(t, candles)

	// Recovery persisted the fetched records.
	stored, _ := store.GetWindow(ctx, domain.FeedScope{
		Source: "stub", Subject: "BTC", Kind: "candle", Granularity: "1m",
	}, 0, now.Unix(), 0)
	assert.NotEmpty(t, stored)
}

func TestReaderGetInputDerivedTimeframes(t *testing.T) {
	store := memory.NewFeedRecordStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	reader, err := NewReader(ReaderOptions{
		Records: store, Source: "stub", Kind: "candle", Granularity: "1m", WindowSize: 30,
	})
	require.NoError(t, err)

	for i := int64(0); i < 30; i++ {
		_, _ = store.Upsert(ctx, []*domain.FeedRecord{
			storedCandle(now.Unix()-(30-i)*60, 100+float64(i)),
		})
	}

	input, err := reader.GetInput(ctx, "BTC", now)
	require.NoError(t, err)

	for _, field := range []string{"candles_5m", "candles_15m", "candles_1h"} {
		_, ok := input[field]
		assert.True(t, ok, "missing derived field %s", field)
	}
	fiveMin := input["candles_5m"].([]map[string]any)
	assert.NotEmpty(t, fiveMin)
}

func TestReaderFetchWindowRecovery(t *testing.T) {
	store := memory.NewFeedRecordStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	reader := newTestReader(t, store, NewStubProvider())
	records, err := reader.FetchWindow(ctx, "BTC", now.Add(-10*time.Minute), now)
	require.NoError(t, err)
	assert.NotEmpty(t, records)
}

func TestReaderLatestEventTime(t *testing.T) {
	store := memory.NewFeedRecordStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	reader := newTestReader(t, store, nil)

	latest, err := reader.LatestEventTime(ctx, "BTC")
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, _ = store.Upsert(ctx, []*domain.FeedRecord{storedCandle(now.Unix()-60, 100)})
	latest, err = reader.LatestEventTime(ctx, "BTC")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, now.Add(-time.Minute).Unix(), latest.Unix())
}

func TestAggregateCandles(t *testing.T) {
	var base []contract.Candle
	for i := int64(0); i < 10; i++ {
		base = append(base, contract.Candle{
			Ts:     i * 60,
			Open:   float64(100 + i),
			High:   float64(110 + i),
			Low:    float64(90 + i),
			Close:  float64(105 + i),
			Volume: 1,
		})
	}

	agg := aggregateCandles(base, 5, 10, 60)
	require.Len(t, agg, 2)

	first := agg[0]
	assert.Equal(t, int64(0), first.Ts)
	assert.Equal(t, 100.0, first.Open)  // first candle's open
	assert.Equal(t, 109.0, first.Close) // last candle's close
	assert.Equal(t, 114.0, first.High)
	assert.Equal(t, 90.0, first.Low)
	assert.Equal(t, 5.0, first.Volume)
}
