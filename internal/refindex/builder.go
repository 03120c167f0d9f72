package refindex

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/freeeve/pgn/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/blunderlab/coach/internal/chess"
)

// Corpus is the on-disk reference position set, one row per distinct
// position with the move a strong player chose from it.
type Corpus struct {
	db *sql.DB
}

const corpusSchema = `
CREATE TABLE IF NOT EXISTS positions (
	key TEXT PRIMARY KEY,
	fen TEXT NOT NULL,
	move TEXT NOT NULL,
	white TEXT,
	black TEXT,
	result TEXT,
	elo INTEGER NOT NULL
);
`

// OpenCorpus opens (creating if needed) the corpus database at path.
func OpenCorpus(path string) (*Corpus, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(corpusSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply corpus schema: %w", err)
	}
	return &Corpus{db: db}, nil
}

func (c *Corpus) Close() error { return c.db.Close() }

// Add inserts a position, keeping the first (highest rated file is
// expected to be ingested first).
func (c *Corpus) Add(ctx context.Context, e Entry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO positions (key, fen, move, white, black, result, elo)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.FEN, e.Move, e.White, e.Black, e.Result, e.Elo)
	return err
}

// Load reads every corpus position into the index. Returns the count.
func (c *Corpus) Load(ctx context.Context, ix *Index) (int, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT key, fen, move, white, black, result, elo FROM positions ORDER BY key`)
	if err != nil {
		return 0, fmt.Errorf("load corpus: %w", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.FEN, &e.Move, &e.White, &e.Black, &e.Result, &e.Elo); err != nil {
			return n, err
		}
		if err := ix.Add(e); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

// Builder streams PGN files into a corpus, keeping only games where both
// players clear the rating floor, and only the first MaxPlies positions of
// each game where the opening-to-middlegame knowledge lives.
type Builder struct {
	corpus    *Corpus
	ratingMin int
	maxPlies  int
	log       zerolog.Logger
}

// BuilderConfig tunes corpus construction. Zero values get defaults
// matching a master-level corpus.
type BuilderConfig struct {
	RatingMin int
	MaxPlies  int
	Logger    zerolog.Logger
}

// NewBuilder creates a builder writing into the corpus.
func NewBuilder(c *Corpus, cfg BuilderConfig) *Builder {
	if cfg.RatingMin == 0 {
		cfg.RatingMin = 2200
	}
	if cfg.MaxPlies == 0 {
		cfg.MaxPlies = 40
	}
	return &Builder{corpus: c, ratingMin: cfg.RatingMin, maxPlies: cfg.MaxPlies, log: cfg.Logger}
}

// IngestFile streams one .pgn or .pgn.zst file into the corpus. Returns
// games kept and positions added.
func (b *Builder) IngestFile(ctx context.Context, path string) (games, positions int, err error) {
	if !IsPGNFile(path) {
		return 0, 0, fmt.Errorf("not a pgn file: %s", path)
	}
	b.log.Info().Str("file", filepath.Base(path)).Int("rating_min", b.ratingMin).Msg("corpus ingest start")

	parser := pgn.Games(path)
	skipped := 0
	stopped := false
	for game := range parser.Games {
		if ctx.Err() != nil {
			if !stopped {
				parser.Stop()
				stopped = true
			}
			continue
		}
		whiteElo := parseRating(game.Tags["WhiteElo"])
		blackElo := parseRating(game.Tags["BlackElo"])
		if whiteElo < b.ratingMin || blackElo < b.ratingMin {
			skipped++
			continue
		}
		n, err := b.addGame(ctx, game, (whiteElo+blackElo)/2)
		if err != nil {
			return games, positions, err
		}
		games++
		positions += n
	}
	if err := parser.Err(); err != nil {
		return games, positions, fmt.Errorf("parse %s: %w", path, err)
	}
	if cerr := ctx.Err(); cerr != nil {
		return games, positions, cerr
	}

	b.log.Info().Str("file", filepath.Base(path)).
		Int("games", games).Int("skipped", skipped).Int("positions", positions).
		Msg("corpus ingest complete")
	return games, positions, nil
}

func (b *Builder) addGame(ctx context.Context, game *pgn.Game, elo int) (int, error) {
	pos := pgn.NewStartingPosition()
	added := 0
	for i, mv := range game.Moves {
		if i >= b.maxPlies {
			break
		}
		fen := pos.ToFEN()
		key, err := chess.NormalizedKey(fen)
		if err != nil {
			break
		}
		e := Entry{
			Key:    key,
			FEN:    fen,
			Move:   chess.MoveToUCI(mv),
			White:  game.Tags["White"],
			Black:  game.Tags["Black"],
			Result: game.Tags["Result"],
			Elo:    elo,
		}
		if err := b.corpus.Add(ctx, e); err != nil {
			return added, err
		}
		added++
		if err := pgn.ApplyMove(pos, mv); err != nil {
			break
		}
	}
	return added, nil
}

// IsPGNFile reports whether name looks like a .pgn or .pgn.zst file.
func IsPGNFile(name string) bool {
	ext := filepath.Ext(name)
	if ext == ".pgn" {
		return true
	}
	if ext == ".zst" {
		return filepath.Ext(name[:len(name)-len(ext)]) == ".pgn"
	}
	return false
}

func parseRating(s string) int {
	if s == "" || s == "?" || s == "-" {
		return 0
	}
	r, _ := strconv.Atoi(s)
	return r
}
