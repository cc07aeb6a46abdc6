// Package main runs the checkpoint worker: refresh leaderboard snapshots on
// a short cadence and convert each elapsed reward period into an emission
// checkpoint with frac64 reward shares.
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
	"crunch-coordinator/internal/leaderboard"
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/storage"
	chstore "crunch-coordinator/internal/storage/clickhouse"
	"crunch-coordinator/internal/storage/memory"
	"crunch-coordinator/internal/storage/migrations"
	pgstore "crunch-coordinator/internal/storage/postgres"
)

type stores struct {
	models       storage.ModelStore
	leaderboards storage.LeaderboardStore
	checkpoints  storage.CheckpointStore
	snapshots    storage.SnapshotStore
}

func main() {
	config.LoadEnvFile()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", os.Getenv("USE_MEMORY_STORAGE") == "true", "Use in-memory storage instead of PostgreSQL/ClickHouse")
	buildInterval := flag.Duration("build-interval", leaderboard.DefaultBuildInterval, "Leaderboard refresh interval")
	metricsAddr := flag.String("metrics-addr", ":9094", "Prometheus metrics HTTP address")
	flag.Parse()

	logger := log.New(os.Stdout, "[checkpoint] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	tournamentCfg, err := config.TournamentFromEnv()
	if err != nil {
		logger.Fatalf("Invalid tournament config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	c := contract.Default()
	c.CrunchID = tournamentCfg.CrunchID
	c.CrunchPubkey = tournamentCfg.CrunchPubkey

	builder := leaderboard.NewBuilder(leaderboard.BuilderOptions{
		Models:        st.models,
		Leaderboards:  st.leaderboards,
		Contract:      c,
		BuildInterval: *buildInterval,
		Logger:        logger,
	})

	worker := leaderboard.NewCheckpointWorker(leaderboard.CheckpointOptions{
		Snapshots:   st.snapshots,
		Models:      st.models,
		Checkpoints: st.checkpoints,
		Contract:    c,
		Interval:    tournamentCfg.CheckpointInterval,
		Logger:      logger,
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

	errCh := make(chan error, 2)
	go func() {
		if err := builder.Run(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("leaderboard builder: %w", err)
		}
	}()
	go func() {
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("checkpoint worker: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Checkpoint worker error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates the stores the leaderboard and checkpoint loops
// depend on.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		return &stores{
			models:       memory.NewModelStore(),
			leaderboards: memory.NewLeaderboardStore(),
			checkpoints:  memory.NewCheckpointStore(),
			snapshots:    memory.NewSnapshotStore(),
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
		models:       pgstore.NewModelStore(pool),
		leaderboards: pgstore.NewLeaderboardStore(pool),
		checkpoints:  pgstore.NewCheckpointStore(pool),
		snapshots:    chstore.NewSnapshotStore(chConn),
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
