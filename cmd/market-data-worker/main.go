// Package main runs the market data worker: backfill historical feed
// records from the configured provider, then listen for live records,
// advancing per-stream watermarks and pruning expired history.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crunch-coordinator/internal/config"
	"crunch-coordinator/internal/feed"
	"crunch-coordinator/internal/ingestion"
	"crunch-coordinator/internal/notify"
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/storage"
	"crunch-coordinator/internal/storage/memory"
	"crunch-coordinator/internal/storage/migrations"
	pgstore "crunch-coordinator/internal/storage/postgres"
)

type stores struct {
	records  storage.FeedRecordStore
	state    storage.IngestionStateStore
	notifier notify.Notifier
}

func main() {
	config.LoadEnvFile()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", os.Getenv("USE_MEMORY_STORAGE") == "true", "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", ":9091", "Prometheus metrics HTTP address")
	flag.Parse()

	logger := log.New(os.Stdout, "[market-data] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	feedCfg := config.FeedFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	provider, err := feed.DefaultRegistry().CreateFromEnv(environMap(), feedCfg.Provider)
	if err != nil {
		logger.Fatalf("Failed to create feed provider: %v", err)
	}

	ingestor := ingestion.NewIngestor(ingestion.IngestorOptions{
		Provider: provider,
		Records:  st.records,
		State:    st.state,
		Notifier: st.notifier,
		Settings: ingestion.Settings{
			Source:          provider.Name(),
			Subjects:        feedCfg.Subjects,
			Kind:            feedCfg.Kind,
			Granularity:     feedCfg.Granularity,
			BackfillMinutes: feedCfg.BackfillMinutes,
			PollSeconds:     feedCfg.PollSeconds,
			TTLDays:         feedCfg.RecordTTLDays,
		},
		Logger: logger,
	})

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	go startMetricsServer(*metricsAddr, logger)

	err = ingestor.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Ingestor error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates the feed record and watermark stores.
func createStores(ctx context.Context, postgresDSN string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		return &stores{
			records:  memory.NewFeedRecordStore(),
			state:    memory.NewIngestionStateStore(),
			notifier: notify.NewMemoryNotifier(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	return &stores{
		records:  pgstore.NewFeedRecordStore(pool),
		state:    pgstore.NewIngestionStateStore(pool),
		notifier: notify.NewPostgresNotifier(pool.Pool),
	}, pool.Close, nil
}

// environMap converts os.Environ into the key/value map the feed registry
// reads provider options from.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, entry := range os.Environ() {
		if key, value, ok := strings.Cut(entry, "="); ok {
			env[key] = value
		}
	}
	return env
}

// startMetricsServer serves health and Prometheus metrics.
func startMetricsServer(addr string, logger *log.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	logger.Printf("Starting metrics server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("Metrics server error: %v", err)
	}
}
