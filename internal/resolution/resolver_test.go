package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/storage/memory"
)

// fakeWindow serves canned feed windows per subject.
type fakeWindow struct {
	records map[string][]*domain.FeedRecord
}

func (f *fakeWindow) FetchWindow(_ context.Context, subject string, _, _ time.Time) ([]*domain.FeedRecord, error) {
	return f.records[subject], nil
}

func candle(ts int64, close float64) *domain.FeedRecord {
	return &domain.FeedRecord{
		Source:      "test",
		Subject:     "BTC",
		Kind:        "candle",
		Granularity: "1m",
		TsEvent:     ts,
		Values:      map[string]any{"close": close},
	}
}

func dueInput(id string, receivedAt time.Time) *domain.InputRecord {
	return &domain.InputRecord{
		ID:           id,
		Scope:        map[string]any{"subject": "BTC"},
		Status:       domain.InputReceived,
		ReceivedAt:   receivedAt,
		ResolvableAt: receivedAt.Add(time.Hour),
	}
}

func TestResolveDueSetsActuals(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inputs := memory.NewInputStore()
	received := now.Add(-2 * time.Hour)
	require.NoError(t, inputs.Insert(context.Background(), dueInput("INP_1", received)))

	window := &fakeWindow{records: map[string][]*domain.FeedRecord{
		"BTC": {
			candle(received.Unix(), 100.0),
			candle(received.Unix()+60, 99.0),
			candle(received.Unix()+120, 101.0),
		},
	}}

	r := New(Options{Inputs: inputs, Reader: window, Now: func() time.Time { return now }})
	resolved, err := r.ResolveDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	in, err := inputs.GetByID(context.Background(), "INP_1")
	require.NoError(t, err)
	assert.Equal(t, domain.InputResolved, in.Status)
	assert.Equal(t, 100.0, in.Actuals["entry_price"])
	assert.Equal(t, 101.0, in.Actuals["resolved_price"])
	assert.InDelta(t, 0.01, in.Actuals["return"].(float64), 1e-9)
	assert.Equal(t, true, in.Actuals["direction_up"])
}

func TestResolveSkipsNotYetDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inputs := memory.NewInputStore()
	require.NoError(t, inputs.Insert(context.Background(), dueInput("INP_1", now.Add(-time.Minute))))

	r := New(Options{Inputs: inputs, Reader: &fakeWindow{}, Now: func() time.Time { return now }})
	resolved, err := r.ResolveDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	in, _ := inputs.GetByID(context.Background(), "INP_1")
	assert.Equal(t, domain.InputReceived, in.Status)
}

func TestResolveIndeterminateRetriesThenForces(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inputs := memory.NewInputStore()

	// Empty window: the default resolver returns nil.
	window := &fakeWindow{}

	// Freshly due: stays RECEIVED.
	require.NoError(t, inputs.Insert(context.Background(), dueInput("INP_fresh", now.Add(-2*time.Hour))))
	// Past the retry budget: settles without actuals.
	require.NoError(t, inputs.Insert(context.Background(), dueInput("INP_stale", now.Add(-30*time.Hour))))

	r := New(Options{Inputs: inputs, Reader: window, MaxRetryAge: 24 * time.Hour, Now: func() time.Time { return now }})
	resolved, err := r.ResolveDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	fresh, _ := inputs.GetByID(context.Background(), "INP_fresh")
	assert.Equal(t, domain.InputReceived, fresh.Status)

	stale, _ := inputs.GetByID(context.Background(), "INP_stale")
	assert.Equal(t, domain.InputResolved, stale.Status)
	assert.Nil(t, stale.Actuals)
}

func TestResolveSingleRecordWindowIsFlat(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	inputs := memory.NewInputStore()
	received := now.Add(-2 * time.Hour)
	require.NoError(t, inputs.Insert(context.Background(), dueInput("INP_1", received)))

	window := &fakeWindow{records: map[string][]*domain.FeedRecord{
		"BTC": {candle(received.Unix(), 100.0)},
	}}

	r := New(Options{Inputs: inputs, Reader: window, Now: func() time.Time { return now }})
	resolved, err := r.ResolveDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	in, _ := inputs.GetByID(context.Background(), "INP_1")
	assert.Equal(t, 0.0, in.Actuals["return"])
	assert.Equal(t, false, in.Actuals["direction_up"])
}
