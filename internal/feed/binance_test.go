package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinanceFetchNormalizesKlines(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/klines", r.URL.Path)
		gotQuery = map[string]string{
			"symbol":    r.URL.Query().Get("symbol"),
			"interval":  r.URL.Query().Get("interval"),
			"startTime": r.URL.Query().Get("startTime"),
		}
		payload := [][]any{
			{float64(1700000000000), "100.0", "101.5", "99.5", "101.0", "12.5", float64(1700000059999)},
			{float64(1700000060000), "101.0", "102.0", "100.0", "101.5", "8.0", float64(1700000119999)},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	p := NewBinanceProvider(BinanceOptions{BaseURL: srv.URL})
	records, err := p.Fetch(context.Background(), FetchRequest{
		Subjects:    []string{"BTC"},
		Kind:        "candle",
		Granularity: "1m",
		StartTs:     1700000000,
		EndTs:       1700000120,
		Limit:       100,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "BTCUSDT", gotQuery["symbol"])
	assert.Equal(t, "1m", gotQuery["interval"])
	assert.Equal(t, "1700000000000", gotQuery["startTime"])

	rec := records[0]
	assert.Equal(t, "binance", rec.Source)
	assert.Equal(t, "BTC", rec.Subject)
	assert.Equal(t, "candle", rec.Kind)
	assert.Equal(t, int64(1700000000), rec.TsEvent)
	assert.Equal(t, 100.0, rec.Values["open"])
	assert.Equal(t, 101.0, rec.Values["close"])
	assert.Equal(t, 12.5, rec.Values["volume"])
}

func TestBinanceFetchRejectsTickKind(t *testing.T) {
	p := NewBinanceProvider(BinanceOptions{})
	_, err := p.Fetch(context.Background(), FetchRequest{Subjects: []string{"BTC"}, Kind: "tick"})
	assert.Error(t, err)
}

func TestBinanceFetchSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewBinanceProvider(BinanceOptions{BaseURL: srv.URL})
	_, err := p.Fetch(context.Background(), FetchRequest{Subjects: []string{"NOPE"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestGranularityDuration(t *testing.T) {
	tests := []struct {
		in      string
		seconds int64
		wantErr bool
	}{
		{"1s", 1, false},
		{"1m", 60, false},
		{"15m", 900, false},
		{"1h", 3600, false},
		{"1d", 86400, false},
		{"", 0, true},
		{"m1", 0, true},
		{"0m", 0, true},
	}
	for _, tt := range tests {
		d, err := GranularityDuration(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.seconds, int64(d.Seconds()), tt.in)
	}
}
