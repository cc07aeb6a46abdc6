// Package main runs the predict worker: wait for scheduler deadlines or new
// feed data, build a model input from the stored feed window, broadcast
// tick/predict to the model runner and persist the round's predictions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"crunch-coordinator/internal/config"
	"crunch-coordinator/internal/contract"
	"crunch-coordinator/internal/dispatcher"
	"crunch-coordinator/internal/domain"
	"crunch-coordinator/internal/feed"
	"crunch-coordinator/internal/idhash"
	"crunch-coordinator/internal/modelrunner"
	"crunch-coordinator/internal/notify"
	"crunch-coordinator/internal/observability"
	"crunch-coordinator/internal/storage"
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
	notifier    notify.Notifier
}

func main() {
	config.LoadEnvFile()

	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", os.Getenv("USE_MEMORY_STORAGE") == "true", "Use in-memory storage instead of PostgreSQL")
	useStubRunner := flag.Bool("use-stub-runner", os.Getenv("USE_STUB_RUNNER") == "true", "Use the built-in stub model runner")
	everySeconds := flag.Int64("every-seconds", int64(envInt("PREDICT_EVERY_SECONDS", 600)), "Default prediction cadence when no configs exist")
	metricsAddr := flag.String("metrics-addr", ":9092", "Prometheus metrics HTTP address")
	flag.Parse()

	logger := log.New(os.Stdout, "[predict] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	tournamentCfg, err := config.TournamentFromEnv()
	if err != nil {
		logger.Fatalf("Invalid tournament config: %v", err)
	}
	feedCfg := config.FeedFromEnv()
	runnerCfg := config.RunnerFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	var runner modelrunner.Runner
	if *useStubRunner {
		runner = modelrunner.NewStubRunner()
		logger.Println("Using stub model runner")
	} else {
		runner = modelrunner.NewHTTPClient(runnerCfg.Endpoint(), modelrunner.WithTimeout(runnerCfg.Timeout()))
		logger.Printf("Model runner endpoint: %s", runnerCfg.Endpoint())
	}

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
	if len(feedCfg.Subjects) > 0 {
		c.Scope.Subject = feedCfg.Subjects[0]
	}

	d := dispatcher.New(dispatcher.Options{
		Runner:      runner,
		Reader:      reader,
		Registry:    dispatcher.NewRegistry(st.models, logger),
		Inputs:      st.inputs,
		Predictions: st.predictions,
		Scores:      st.scores,
		Contract:    c,
		CallTimeout: runnerCfg.Timeout(),
		Logger:      logger,
	})

	loop := dispatcher.NewLoop(dispatcher.LoopOptions{
		Dispatcher:  d,
		Configs:     st.configs,
		Predictions: st.predictions,
		Notifier:    st.notifier,
		Logger:      logger,
	})

	if err := ensureDefaultConfig(ctx, st.configs, c, *everySeconds); err != nil {
		logger.Fatalf("Failed to seed default prediction config: %v", err)
	}
	if err := loop.Load(ctx); err != nil {
		logger.Fatalf("Failed to load prediction configs: %v", err)
	}

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

	err = loop.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Predict loop error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates the stores the predict loop depends on.
func createStores(ctx context.Context, postgresDSN string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		return &stores{
			records:     memory.NewFeedRecordStore(),
			inputs:      memory.NewInputStore(),
			predictions: memory.NewPredictionStore(),
			scores:      memory.NewScoreStore(),
			models:      memory.NewModelStore(),
			configs:     memory.NewPredictionConfigStore(),
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

	return &stores{
		records:     pgstore.NewFeedRecordStore(pool),
		inputs:      pgstore.NewInputStore(pool),
		predictions: pgstore.NewPredictionStore(pool),
		scores:      pgstore.NewScoreStore(pool),
		models:      pgstore.NewModelStore(pool),
		configs:     pgstore.NewPredictionConfigStore(pool),
		notifier:    notify.NewPostgresNotifier(pool.Pool),
	}, pool.Close, nil
}

// ensureDefaultConfig seeds one active config from the contract scope so a
// fresh deployment starts predicting without manual setup.
func ensureDefaultConfig(ctx context.Context, configs storage.PredictionConfigStore, c *contract.Contract, everySeconds int64) error {
	active, err := configs.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return nil
	}

	params := domain.PredictionParams{
		Asset:   c.Scope.Subject,
		Horizon: c.Scope.HorizonSeconds,
		Steps:   []int64{c.Scope.StepSeconds},
	}
	cfg := &domain.ScheduledPredictionConfig{
		ID:            idhash.ConfigID(params.Key(), everySeconds, nil),
		ScopeKey:      params.Key(),
		ScopeTemplate: c.Scope.Map(),
		Params:        params,
		Schedule:      domain.Schedule{EverySeconds: everySeconds},
		Active:        true,
	}
	return configs.Upsert(ctx, cfg)
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
