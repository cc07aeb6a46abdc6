package idhash

import (
	"testing"
	"time"
)

var testInstant = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func TestPredictionID(t *testing.T) {
	tests := []struct {
		name     string
		modelID  string
		scopeKey string
		absent   bool
		want     string
	}{
		{
			name:     "scored prediction",
			modelID:  "model-1",
			scopeKey: "BTC-3600-300_600",
			want:     "PRE_model-1_BTC-3600-300_600_20260314_092653.589",
		},
		{
			name:     "absent prediction",
			modelID:  "model-1",
			scopeKey: "BTC-3600-300_600",
			absent:   true,
			want:     "ABS_model-1_BTC-3600-300_600_20260314_092653.589",
		},
		{
			name:     "scope key with unsafe characters",
			modelID:  "model/2",
			scopeKey: "ETH:USDT-600-60",
			want:     "PRE_model_2_ETH_USDT-600-60_20260314_092653.589",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PredictionID(tt.modelID, tt.scopeKey, testInstant, tt.absent)
			if got != tt.want {
				t.Errorf("PredictionID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInputID(t *testing.T) {
	got := InputID("BTC-3600-300_600", testInstant)
	want := "INP_BTC-3600-300_600_20260314_092653.589"
	if got != want {
		t.Errorf("InputID() = %q, want %q", got, want)
	}
}

func TestTimestampTokenUsesUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	local := testInstant.In(est)
	if got, want := InputID("k", local), InputID("k", testInstant); got != want {
		t.Errorf("InputID differs across zones: %q != %q", got, want)
	}
}

func TestScoreIDDeterminism(t *testing.T) {
	a := ScoreID("PRE_model-1_BTC-3600-300_20260314_092653.589")
	b := ScoreID("PRE_model-1_BTC-3600-300_20260314_092653.589")
	c := ScoreID("PRE_model-2_BTC-3600-300_20260314_092653.589")

	if a != b {
		t.Errorf("ScoreID not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Errorf("ScoreID collided for different predictions: %s", a)
	}
	if len(a) != len("SCR_")+16 {
		t.Errorf("ScoreID length = %d, want %d", len(a), len("SCR_")+16)
	}
}

func TestConfigID(t *testing.T) {
	resolve := int64(7200)
	a := ConfigID("BTC-3600-300", 600, nil)
	b := ConfigID("BTC-3600-300", 600, &resolve)
	if a == b {
		t.Errorf("ConfigID ignored resolve override: %s", a)
	}
	if a != ConfigID("BTC-3600-300", 600, nil) {
		t.Errorf("ConfigID not deterministic")
	}
}

func TestCheckpointID(t *testing.T) {
	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	got := CheckpointID(start, end)
	want := "CKP_20260314_000000.000_20260315_000000.000"
	if got != want {
		t.Errorf("CheckpointID() = %q, want %q", got, want)
	}
}
