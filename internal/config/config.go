// Package config loads worker settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crunch-coordinator/internal/pubkey"
)

// FeedSettings configures feed ingestion and the reader projection.
type FeedSettings struct {
	Provider        string   // FEED_PROVIDER, e.g. "binance" or "stub"
	Subjects        []string // FEED_SUBJECTS, comma separated
	Kind            string   // FEED_KIND, "candle" or "tick"
	Granularity     string   // FEED_GRANULARITY, e.g. "1m"
	PollSeconds     int      // FEED_POLL_SECONDS
	BackfillMinutes int      // FEED_BACKFILL_MINUTES
	CandlesWindow   int      // FEED_CANDLES_WINDOW, base candles per input
	RecordTTLDays   int      // FEED_RECORD_TTL_DAYS
}

// FeedFromEnv reads feed settings, applying defaults for unset variables.
func FeedFromEnv() FeedSettings {
	return FeedSettings{
		Provider:        envString("FEED_PROVIDER", "binance"),
		Subjects:        envList("FEED_SUBJECTS", []string{"BTC"}),
		Kind:            envString("FEED_KIND", "candle"),
		Granularity:     envString("FEED_GRANULARITY", "1m"),
		PollSeconds:     envInt("FEED_POLL_SECONDS", 30),
		BackfillMinutes: envInt("FEED_BACKFILL_MINUTES", 24*60),
		CandlesWindow:   envInt("FEED_CANDLES_WINDOW", 180),
		RecordTTLDays:   envInt("FEED_RECORD_TTL_DAYS", 10),
	}
}

// RunnerSettings configures the model runner client.
type RunnerSettings struct {
	Host           string // MODEL_RUNNER_NODE_HOST
	Port           int    // MODEL_RUNNER_NODE_PORT
	TimeoutSeconds int    // MODEL_RUNNER_TIMEOUT_SECONDS
}

// RunnerFromEnv reads model runner settings.
func RunnerFromEnv() RunnerSettings {
	return RunnerSettings{
		Host:           envString("MODEL_RUNNER_NODE_HOST", "localhost"),
		Port:           envInt("MODEL_RUNNER_NODE_PORT", 8091),
		TimeoutSeconds: envInt("MODEL_RUNNER_TIMEOUT_SECONDS", 30),
	}
}

// Endpoint returns the runner's HTTP base URL.
func (s RunnerSettings) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// Timeout returns the per-call timeout as a duration.
func (s RunnerSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// TournamentSettings configures scoring and checkpoint cadence.
type TournamentSettings struct {
	CrunchID           string // CRUNCH_ID, emission target identity
	CrunchPubkey       string // CRUNCH_PUBKEY, optional base58 ed25519 key
	CheckpointInterval time.Duration
	RetentionDays      int
}

// TournamentFromEnv reads tournament settings. CRUNCH_ID is required and a
// non-empty CRUNCH_PUBKEY must be a well-formed on-curve key.
func TournamentFromEnv() (TournamentSettings, error) {
	crunchID := os.Getenv("CRUNCH_ID")
	if crunchID == "" {
		return TournamentSettings{}, fmt.Errorf("CRUNCH_ID is required")
	}
	crunchPubkey := os.Getenv("CRUNCH_PUBKEY")
	if crunchPubkey != "" {
		if _, err := pubkey.Validate(crunchPubkey); err != nil {
			return TournamentSettings{}, fmt.Errorf("CRUNCH_PUBKEY: %w", err)
		}
	}
	return TournamentSettings{
		CrunchID:           crunchID,
		CrunchPubkey:       crunchPubkey,
		CheckpointInterval: time.Duration(envInt("CHECKPOINT_INTERVAL_SECONDS", 3600)) * time.Second,
		RetentionDays:      envInt("PREDICTION_RETENTION_DAYS", 30),
	}, nil
}

// StorageSettings selects the persistence backends.
type StorageSettings struct {
	PostgresDSN   string // POSTGRES_DSN
	ClickhouseDSN string // CLICKHOUSE_DSN
	UseMemory     bool   // USE_MEMORY_STORAGE
}

// StorageFromEnv reads storage settings. DSNs are required unless the
// in-memory backend is selected.
func StorageFromEnv() (StorageSettings, error) {
	s := StorageSettings{
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		ClickhouseDSN: os.Getenv("CLICKHOUSE_DSN"),
		UseMemory:     envBool("USE_MEMORY_STORAGE", false),
	}
	if !s.UseMemory && s.PostgresDSN == "" {
		return s, fmt.Errorf("POSTGRES_DSN is required (set USE_MEMORY_STORAGE=true for in-memory storage)")
	}
	return s, nil
}

// LoadEnvFile loads environment variables from a .env file if it exists.
// Existing variables are never overridden.
func LoadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
