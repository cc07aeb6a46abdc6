// Package main runs the report worker: the read-only HTTP API serving the
// latest leaderboard, the model registry, checkpoints and a status summary.
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
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/reporting"
	"crunch-coordinator/internal/storage"
	"crunch-coordinator/internal/storage/memory"
	"crunch-coordinator/internal/storage/migrations"
	pgstore "crunch-coordinator/internal/storage/postgres"
)

type stores struct {
	models       storage.ModelStore
	leaderboards storage.LeaderboardStore
	checkpoints  storage.CheckpointStore
	ingestion    storage.IngestionStateStore
}

func main() {
	config.LoadEnvFile()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", os.Getenv("USE_MEMORY_STORAGE") == "true", "Use in-memory storage instead of PostgreSQL")
	listenAddr := flag.String("listen-addr", envOr("REPORT_LISTEN_ADDR", ":8080"), "HTTP listen address")
	flag.Parse()

	logger := log.New(os.Stdout, "[report] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	server := reporting.NewServer(reporting.Options{
		Models:       st.models,
		Leaderboards: st.leaderboards,
		Checkpoints:  st.checkpoints,
		Ingestion:    st.ingestion,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.Handle("/", server.Handler())

	httpServer := &http.Server{
		Addr:         *listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}

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

	logger.Printf("Starting report server on %s", *listenAddr)
	err = httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		err = nil
	}
	done <- err
	cancel()

	if err != nil {
		logger.Fatalf("Report server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates the read-side stores.
func createStores(ctx context.Context, postgresDSN string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		return &stores{
			models:       memory.NewModelStore(),
			leaderboards: memory.NewLeaderboardStore(),
			checkpoints:  memory.NewCheckpointStore(),
			ingestion:    memory.NewIngestionStateStore(),
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
		models:       pgstore.NewModelStore(pool),
		leaderboards: pgstore.NewLeaderboardStore(pool),
		checkpoints:  pgstore.NewCheckpointStore(pool),
		ingestion:    pgstore.NewIngestionStateStore(pool),
	}, pool.Close, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
