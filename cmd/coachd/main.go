package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blunderlab/coach/internal/analysis"
	"github.com/blunderlab/coach/internal/eco"
	"github.com/blunderlab/coach/internal/engine"
	"github.com/blunderlab/coach/internal/httpapi"
	"github.com/blunderlab/coach/internal/jobs"
	"github.com/blunderlab/coach/internal/logx"
	"github.com/blunderlab/coach/internal/notify"
	"github.com/blunderlab/coach/internal/puzzle"
	"github.com/blunderlab/coach/internal/refindex"
	"github.com/blunderlab/coach/internal/sparring"
	"github.com/blunderlab/coach/internal/store"
)

func main() {
	defaultEngine := os.Getenv("UCI_ENGINE_PATH")

	var (
		// Server
		addr     = flag.String("addr", ":8010", "listen address")
		logLevel = flag.String("log-level", "info", "log level (debug, info, warn, error)")

		// Storage
		dbPath = flag.String("db", "./data/coach.db", "sqlite database path (empty = in-memory store)")

		// Engine
		enginePath    = flag.String("engine", defaultEngine, "path to UCI engine executable (empty = built-in material engine)")
		engineSize    = flag.Int("engine-size", 2, "number of engine processes")
		engineHash    = flag.Int("engine-hash", 128, "engine hash MB per process")
		engineThreads = flag.Int("engine-threads", 1, "engine search threads per process")
		engineBudget  = flag.Duration("engine-budget", 15*time.Second, "wall clock budget per engine request")

		// Analysis
		depth       = flag.Int("depth", 18, "engine search depth for analysis")
		parallel    = flag.Int("parallel", 4, "positions evaluated concurrently per game")
		jobWorkers  = flag.Int("job-workers", 2, "games analyzed concurrently per job")
		jobTimeout  = flag.Duration("job-timeout", 30*time.Minute, "wall clock limit per analysis job")

		// Reference index
		snapshotPath = flag.String("snapshot", "", "reference index snapshot to load (empty = disabled)")

		// ECO settings
		ecoDir = flag.String("eco-dir", "./data/eco", "directory containing ECO .tsv files")

		// Progress events
		natsURL = flag.String("nats", "", "NATS server URL for progress events (empty = disabled)")
	)
	flag.Parse()

	logger := logx.New("coachd", *logLevel)

	// Storage
	var st store.Store
	if *dbPath != "" {
		s, err := store.OpenSQLite(*dbPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *dbPath).Msg("open sqlite store")
		}
		st = s
		logger.Info().Str("path", *dbPath).Msg("opened sqlite store")
	} else {
		st = store.NewMemory()
		logger.Warn().Msg("using in-memory store - nothing survives a restart")
	}
	defer st.Close()

	// Engine
	var eng engine.Evaluator
	if *enginePath != "" {
		pool, err := engine.NewPool(engine.PoolConfig{
			EnginePath: *enginePath,
			Logger:     logger.With().Str("component", "engine-pool").Logger(),
			Size:       *engineSize,
			HashMB:     *engineHash,
			Threads:    *engineThreads,
			Depth:      *depth,
			Budget:     *engineBudget,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("path", *enginePath).Msg("start engine pool")
		}
		defer pool.Close()
		eng = pool
		logger.Info().Str("path", *enginePath).Int("size", *engineSize).Msg("engine pool started")
	} else {
		eng = engine.NewStub()
		logger.Warn().Msg("no UCI engine configured - using built-in material engine")
	}

	// Progress events
	var sink notify.Sink
	if *natsURL != "" {
		ns, err := notify.NewNATSSink(*natsURL)
		if err != nil {
			logger.Fatal().Err(err).Str("url", *natsURL).Msg("connect nats")
		}
		defer ns.Close()
		sink = ns
		logger.Info().Str("url", *natsURL).Msg("publishing progress to nats")
	} else {
		sink = notify.NewMemorySink()
	}

	// Analysis pipeline
	evaluator := analysis.NewEvaluator(eng, logger.With().Str("component", "evaluator").Logger(), engine.Limits{Depth: *depth}, *parallel)
	runner := jobs.NewAnalysisRunner(st, evaluator, *depth, logger.With().Str("component", "analysis").Logger())
	orch := jobs.New(st, runner, sink, jobs.Config{
		Workers: *jobWorkers,
		Timeout: *jobTimeout,
		Logger:  logger.With().Str("component", "jobs").Logger(),
	})

	extractor := puzzle.NewExtractor(st, logger.With().Str("component", "puzzle").Logger())

	// Reference index
	var index *refindex.Index
	if *snapshotPath != "" {
		index = refindex.New(refindex.NewBucketed())
		n, err := refindex.LoadSnapshot(*snapshotPath, index)
		if err != nil {
			logger.Warn().Err(err).Str("path", *snapshotPath).Msg("failed to load reference snapshot")
			index = nil
		} else {
			logger.Info().Int("positions", n).Msg("reference index loaded")
		}
	}

	// ECO opening database
	var ecoDB *eco.Database
	if *ecoDir != "" {
		ecoDB = eco.NewDatabase()
		if err := ecoDB.Load(*ecoDir); err != nil {
			logger.Warn().Err(err).Str("dir", *ecoDir).Msg("failed to load ECO database")
			ecoDB = nil
		} else {
			logger.Info().Int("openings", ecoDB.Count()).Msg("ECO database loaded")
		}
	}

	sessions := sparring.NewSessions(
		sparring.NewPolicy(eng, logger.With().Str("component", "sparring").Logger()),
		nil,
		logger.With().Str("component", "sparring").Logger(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         *addr,
		Handler:      httpapi.NewRouter(logger, st, orch, extractor, index, sessions, ecoDB),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	// Let running jobs checkpoint their last units before the store closes.
	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("jobs still running at shutdown deadline")
	}

	logger.Info().Msg("shutdown complete")
}
