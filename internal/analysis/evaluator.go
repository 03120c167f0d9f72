// Package analysis turns parsed games into per-ply evaluations and mistake
// tags. Evaluation fans out across positions; classification is a pure
// function over the assembled sequence.
package analysis

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blunderlab/coach/internal/chess"
	"github.com/blunderlab/coach/internal/engine"
)

// PlyEvaluation is the uniform per-ply record produced by game evaluation.
// Eval describes the position after the move; Faced describes the position
// the mover was looking at, which is where the best move and principal
// variation come from. All scores are White-positive.
type PlyEvaluation struct {
	Ply       int
	Side      chess.Side
	SAN       string
	UCI       string
	FENBefore string // position the mover faced
	FEN       string // position after the move

	Eval  engine.Evaluation
	Faced engine.Evaluation

	// Unavailable means the engine failed after retries for the position
	// after this move; FacedUnavailable the same for the position before.
	// Downstream treats either as "no mistake computable here".
	Unavailable      bool
	FacedUnavailable bool
}

// Evaluator evaluates whole games against an engine.
type Evaluator struct {
	eng      engine.Evaluator
	log      zerolog.Logger
	limits   engine.Limits
	parallel int
}

// NewEvaluator wires an engine to game evaluation. parallel bounds the
// number of in-flight positions and should not exceed the engine pool
// capacity; zero means sequential.
func NewEvaluator(eng engine.Evaluator, log zerolog.Logger, limits engine.Limits, parallel int) *Evaluator {
	if parallel <= 0 {
		parallel = 1
	}
	return &Evaluator{eng: eng, log: log, limits: limits, parallel: parallel}
}

// EvaluateGame evaluates the starting position and the position after every
// ply, then assembles records in ply order. Positions are independent, so
// they are evaluated concurrently up to the configured bound; a position
// that fails after the engine client's retries yields a sentinel record
// instead of aborting the game.
func (e *Evaluator) EvaluateGame(ctx context.Context, g *chess.Game) ([]PlyEvaluation, error) {
	fens := make([]string, len(g.Plies)+1)
	fens[0] = chess.StartFEN
	if len(g.Plies) > 0 {
		fens[0] = g.Plies[0].FENBefore
	}
	for i, ply := range g.Plies {
		fens[i+1] = ply.FENAfter
	}

	evals := make([]engine.Evaluation, len(fens))
	ok := make([]bool, len(fens))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.parallel)
	for i := range fens {
		grp.Go(func() error {
			ev, err := e.eng.Evaluate(gctx, fens[i], e.limits)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.log.Warn().Err(err).Str("game", g.ID).Int("position", i).Msg("position evaluation unavailable")
				return nil
			}
			evals[i] = ev
			ok[i] = true
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	out := make([]PlyEvaluation, len(g.Plies))
	for i, ply := range g.Plies {
		rec := PlyEvaluation{
			Ply:       ply.Number,
			Side:      ply.Side,
			SAN:       ply.SAN,
			UCI:       ply.UCI,
			FENBefore: ply.FENBefore,
			FEN:       ply.FENAfter,
		}
		if ok[i+1] {
			rec.Eval = evals[i+1]
		} else {
			rec.Unavailable = true
		}
		if ok[i] {
			rec.Faced = evals[i]
		} else {
			rec.FacedUnavailable = true
		}
		out[i] = rec
	}
	return out, nil
}
