package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedFromEnvDefaults(t *testing.T) {
	s := FeedFromEnv()
	assert.Equal(t, "binance", s.Provider)
	assert.Equal(t, []string{"BTC"}, s.Subjects)
	assert.Equal(t, "candle", s.Kind)
	assert.Equal(t, "1m", s.Granularity)
	assert.Equal(t, 1440, s.BackfillMinutes)
}

func TestFeedFromEnvOverrides(t *testing.T) {
	t.Setenv("FEED_PROVIDER", "stub")
	t.Setenv("FEED_SUBJECTS", "BTC, ETH ,SOL")
	t.Setenv("FEED_POLL_SECONDS", "5")

	s := FeedFromEnv()
	assert.Equal(t, "stub", s.Provider)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, s.Subjects)
	assert.Equal(t, 5, s.PollSeconds)
}

func TestRunnerEndpoint(t *testing.T) {
	t.Setenv("MODEL_RUNNER_NODE_HOST", "runner.internal")
	t.Setenv("MODEL_RUNNER_NODE_PORT", "9000")
	t.Setenv("MODEL_RUNNER_TIMEOUT_SECONDS", "45")

	s := RunnerFromEnv()
	assert.Equal(t, "http://runner.internal:9000", s.Endpoint())
	assert.Equal(t, 45*time.Second, s.Timeout())
}

func TestTournamentFromEnvRequiresCrunchID(t *testing.T) {
	t.Setenv("CRUNCH_ID", "")
	_, err := TournamentFromEnv()
	require.Error(t, err)

	t.Setenv("CRUNCH_ID", "crunch-1")
	t.Setenv("CHECKPOINT_INTERVAL_SECONDS", "1800")
	s, err := TournamentFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "crunch-1", s.CrunchID)
	assert.Equal(t, 30*time.Minute, s.CheckpointInterval)
}

func TestTournamentFromEnvRejectsMalformedPubkey(t *testing.T) {
	t.Setenv("CRUNCH_ID", "crunch-1")
	t.Setenv("CRUNCH_PUBKEY", "not-a-valid-key")

	_, err := TournamentFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRUNCH_PUBKEY")
}

func TestStorageFromEnvRequiresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("USE_MEMORY_STORAGE", "")
	_, err := StorageFromEnv()
	require.Error(t, err)

	t.Setenv("USE_MEMORY_STORAGE", "true")
	s, err := StorageFromEnv()
	require.NoError(t, err)
	assert.True(t, s.UseMemory)
}
