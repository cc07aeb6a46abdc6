// Package main runs the score worker: resolve due inputs against ground
// truth from the feed history, settle prediction rounds with per-round
// normalization, aggregate windowed model scores and prune old history.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crunch-coordinator/internal/config"
	"crunch-coordinator/internal/contract"
	"crunch-coordinator/internal/feed"
	"crunch-coordinator/internal/notify"
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/resolution"
	"crunch-coordinator/internal/scoring"
	"crunch-coordinator/internal/storage"
	chstore "crunch-coordinator/internal/storage/clickhouse"
	"crunch-coordinator/internal/storage/memory"
	"crunch-coordinator/internal/storage/migrations"
	pgstore "crunch-coordinator/internal/storage/postgres"
)

type stores struct {
	records     storage.FeedRecordStore
	inputs      storage.InputStore
	predictions storage.PredictionStore
	scores      storage.ScoreStore
	models      storage.ModelStore
	configs     storage.PredictionConfigStore
	snapshots   storage.SnapshotStore
	notifier    notify.Notifier
}

func main() {
	config.LoadEnvFile()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", os.Getenv("USE_MEMORY_STORAGE") == "true", "Use in-memory storage instead of PostgreSQL/ClickHouse")
	cycleInterval := flag.Duration("cycle-interval", 30*time.Second, "Scoring cycle interval")
	metricsAddr := flag.String("metrics-addr", ":9093", "Prometheus metrics HTTP address")
	flag.Parse()

	logger := log.New(os.Stdout, "[score] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	tournamentCfg, err := config.TournamentFromEnv()
	if err != nil {
		logger.Fatalf("Invalid tournament config: %v", err)
	}
	feedCfg := config.FeedFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	reader, err := feed.NewReader(feed.ReaderOptions{
		Records:     st.records,
		Source:      feedCfg.Provider,
		Kind:        feedCfg.Kind,
		Granularity: feedCfg.Granularity,
		WindowSize:  feedCfg.CandlesWindow,
	})
	if err != nil {
		logger.Fatalf("Failed to create feed reader: %v", err)
	}

	c := contract.Default()
	c.CrunchID = tournamentCfg.CrunchID
	c.CrunchPubkey = tournamentCfg.CrunchPubkey

	resolver := resolution.New(resolution.Options{
		Inputs:   st.inputs,
		Reader:   reader,
		Contract: c,
		Logger:   logger,
	})

	engine := scoring.NewEngine(scoring.Options{
		Predictions:   st.predictions,
		Inputs:        st.inputs,
		Scores:        st.scores,
		Models:        st.models,
		Configs:       st.configs,
		Snapshots:     st.snapshots,
		Resolver:      resolver,
		Contract:      c,
		Notifier:      st.notifier,
		RetentionDays: tournamentCfg.RetentionDays,
		CycleInterval: *cycleInterval,
		Logger:        logger,
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

	err = engine.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Scoring engine error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates the stores the scoring cycle depends on.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		return &stores{
			records:     memory.NewFeedRecordStore(),
			inputs:      memory.NewInputStore(),
			predictions: memory.NewPredictionStore(),
			scores:      memory.NewScoreStore(),
			models:      memory.NewModelStore(),
			configs:     memory.NewPredictionConfigStore(),
			snapshots:   memory.NewSnapshotStore(),
			notifier:    notify.NewMemoryNotifier(),
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

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
	}

	st := &stores{
		records:     pgstore.NewFeedRecordStore(pool),
		inputs:      pgstore.NewInputStore(pool),
		predictions: pgstore.NewPredictionStore(pool),
		scores:      pgstore.NewScoreStore(pool),
		models:      pgstore.NewModelStore(pool),
		configs:     pgstore.NewPredictionConfigStore(pool),
		snapshots:   chstore.NewSnapshotStore(chConn),
		notifier:    notify.NewPostgresNotifier(pool.Pool),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return st, cleanup, nil
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
