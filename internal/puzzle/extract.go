// Package puzzle turns a player's own blunders into practice positions:
// the position they faced, with the engine's refutation as the solution.
package puzzle

import (
	"context"
	"fmt"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/blunderlab/coach/internal/analysis"
	"github.com/blunderlab/coach/internal/chess"
	"github.com/blunderlab/coach/internal/store"
)

// MaxSolutionPlies caps the solution line; a longer engine PV is trimmed.
const MaxSolutionPlies = 6

// MinSolutionPlies is the shortest line worth drilling. Shorter
// continuations are dropped.
const MinSolutionPlies = 2

// Extractor generates puzzles from stored evaluations. Extraction is
// deterministic: the same evaluations yield the same puzzles.
type Extractor struct {
	store store.Store
	log   zerolog.Logger
}

// NewExtractor returns a puzzle extractor over the store.
func NewExtractor(st store.Store, log zerolog.Logger) *Extractor {
	return &Extractor{store: st, log: log}
}

// Generate scans every analyzed game of the owner and stores puzzles for
// blunders that have not already produced one. Returns the new puzzles.
func (e *Extractor) Generate(ctx context.Context, owner string) ([]store.PuzzleRecord, error) {
	games, err := e.store.GamesByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("games for %s: %w", owner, err)
	}

	var created []store.PuzzleRecord
	for _, g := range games {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ev, err := e.store.GetEvaluation(ctx, g.ID)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("evaluation for %s: %w", g.ID, err)
		}

		blunders := lo.Filter(ev.Tags, func(t analysis.MoveTag, _ int) bool {
			return t.Tag == analysis.TagBlunder && !t.Unscored
		})
		for _, tag := range blunders {
			ply, ok := plyRecord(ev.Plies, tag.Ply)
			if !ok {
				continue
			}
			p, ok := FromBlunder(g.ID, owner, ply, tag)
			if !ok {
				continue
			}
			seen, err := e.store.HasPuzzleKey(ctx, owner, p.Key)
			if err != nil {
				return created, err
			}
			if seen {
				continue
			}
			if err := e.store.PutPuzzle(ctx, p); err != nil {
				if err == store.ErrConflict {
					continue
				}
				return created, fmt.Errorf("store puzzle: %w", err)
			}
			e.log.Debug().Str("game", g.ID).Int("ply", p.Ply).
				Str("motif", p.Motif).Int("strength", p.Strength).Msg("puzzle extracted")
			created = append(created, p)
		}
	}
	return created, nil
}

func plyRecord(plies []analysis.PlyEvaluation, ply int) (analysis.PlyEvaluation, bool) {
	for _, p := range plies {
		if p.Ply == ply {
			return p, true
		}
	}
	return analysis.PlyEvaluation{}, false
}

// FromBlunder builds one puzzle from a blunder ply. The anchor is the
// position the mover faced; the solution is the engine's line from there,
// trimmed and validated move by move. Returns false when no usable puzzle
// comes out (short line, missing data, illegal continuation).
func FromBlunder(gameID, owner string, ply analysis.PlyEvaluation, tag analysis.MoveTag) (store.PuzzleRecord, bool) {
	if ply.FENBefore == "" || ply.FacedUnavailable || len(ply.Faced.PV) == 0 {
		return store.PuzzleRecord{}, false
	}

	solution, final := replayLine(ply.FENBefore, ply.Faced.PV, MaxSolutionPlies)
	if len(solution) < MinSolutionPlies {
		return store.PuzzleRecord{}, false
	}

	anchor, err := chess.ParseFEN(ply.FENBefore)
	if err != nil {
		return store.PuzzleRecord{}, false
	}
	after1 := anchor.Pack().Unpack()
	firstMove, err := chess.ParseUCIMove(after1, solution[0])
	if err != nil {
		return store.PuzzleRecord{}, false
	}
	if err := applyTo(after1, solution[0]); err != nil {
		return store.PuzzleRecord{}, false
	}

	key, err := chess.NormalizedKey(ply.FENBefore)
	if err != nil {
		return store.PuzzleRecord{}, false
	}

	return store.PuzzleRecord{
		ID:        uuid.NewString(),
		Owner:     owner,
		GameID:    gameID,
		Ply:       ply.Ply,
		Side:      ply.Side,
		FEN:       ply.FENBefore,
		Solution:  solution,
		Motif:     classifyMotif(anchor, after1, final, firstMove),
		Strength:  strength(tag.LossCP, len(solution)),
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}, true
}

// replayLine validates the line against move generation, stopping at the
// first illegal move, the ply cap, or checkmate. Returns the kept moves
// and the position after them.
func replayLine(fen string, line []string, maxPlies int) ([]string, *pgn.GameState) {
	pos, err := chess.ParseFEN(fen)
	if err != nil {
		return nil, nil
	}
	var kept []string
	for _, uci := range line {
		if len(kept) >= maxPlies {
			break
		}
		if err := applyTo(pos, uci); err != nil {
			break
		}
		kept = append(kept, uci)
		if len(pgn.GenerateLegalMoves(pos)) == 0 {
			break
		}
	}
	return kept, pos
}

func applyTo(pos *pgn.GameState, uci string) error {
	mv, err := chess.ParseUCIMove(pos, uci)
	if err != nil {
		return err
	}
	return pgn.ApplyMove(pos, mv)
}

// strength bands a puzzle 1..5: bigger swings and longer forced lines are
// harder.
func strength(lossCP, plies int) int {
	s := 1 + lossCP/300
	if plies > 2 {
		s += (plies - 1) / 2
	}
	if s > 5 {
		s = 5
	}
	if s < 1 {
		s = 1
	}
	return s
}
