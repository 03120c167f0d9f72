package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/blunderlab/coach/internal/logx"
	"github.com/blunderlab/coach/internal/refindex"
)

// refindex builds the reference position corpus from master-level PGN
// archives and writes the snapshot coachd loads at startup.
func main() {
	var (
		corpusPath   = flag.String("corpus", "./data/refindex.db", "corpus database path")
		snapshotPath = flag.String("snapshot", "./data/refindex.snap.zst", "snapshot output path")
		ratingMin    = flag.Int("rating-min", 2200, "rating floor for both players")
		maxPlies     = flag.Int("max-plies", 40, "positions recorded per game")
		logLevel     = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: refindex [options] <file.pgn[.zst]>...")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logx.New("refindex", *logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	corpus, err := refindex.OpenCorpus(*corpusPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *corpusPath).Msg("open corpus")
	}
	defer corpus.Close()

	builder := refindex.NewBuilder(corpus, refindex.BuilderConfig{
		RatingMin: *ratingMin,
		MaxPlies:  *maxPlies,
		Logger:    logger,
	})

	start := time.Now()
	var totalGames, totalPositions int
	for _, path := range flag.Args() {
		if !refindex.IsPGNFile(path) {
			logger.Warn().Str("path", path).Msg("skipping non-PGN file")
			continue
		}
		games, positions, err := builder.IngestFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				logger.Warn().Str("path", path).Msg("ingest interrupted")
				break
			}
			logger.Error().Err(err).Str("path", path).Msg("ingest file")
			continue
		}
		totalGames += games
		totalPositions += positions
		logger.Info().
			Str("file", filepath.Base(path)).
			Int("games", games).
			Int("positions", positions).
			Msg("file ingested")
	}

	logger.Info().
		Int("games", totalGames).
		Int("positions", totalPositions).
		Dur("elapsed", time.Since(start)).
		Msg("corpus build finished")

	entries, err := corpus.Entries()
	if err != nil {
		logger.Fatal().Err(err).Msg("read corpus entries")
	}
	if err := refindex.WriteSnapshot(*snapshotPath, entries); err != nil {
		logger.Fatal().Err(err).Str("path", *snapshotPath).Msg("write snapshot")
	}
	logger.Info().
		Str("path", *snapshotPath).
		Int("positions", len(entries)).
		Msg("snapshot written")
}
