// Package engine manages external UCI engine processes and exposes the two
// operations the pipeline needs: evaluate a position, and rank candidate
// moves. Callers never talk to a process directly; they go through an
// Evaluator, which is either the live process Pool or the deterministic
// Stub used by tests.
package engine

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable means no engine process could be started at all.
	ErrUnavailable = errors.New("engine unavailable")
	// ErrTimeout means the engine failed to answer within budget plus grace.
	ErrTimeout = errors.New("engine request timed out")
)

// Limits bounds a single engine request. If MoveTime is set the engine
// searches for that long; otherwise it searches to Depth.
type Limits struct {
	Depth    int
	MoveTime time.Duration
}

// Evaluation is the normalized result of evaluating one position.
// Scores are from White's perspective regardless of the side to move.
type Evaluation struct {
	CP       int  // centipawns, White-positive
	Mate     int  // moves to mate, White-positive sign; valid when HasMate
	HasMate  bool
	BestMove string   // UCI, best move for the side to move
	PV       []string // UCI moves of the principal variation
	Depth    int      // search depth reached
}

// Candidate is one ranked move for the side to move. Scores are from the
// mover's perspective (higher is better for whoever moves).
type Candidate struct {
	Move    string // UCI
	CP      int
	Mate    int
	HasMate bool
}

// Evaluator is the capability surface of the external engine.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string, limits Limits) (Evaluation, error)
	BestMoves(ctx context.Context, fen string, n int, limits Limits) ([]Candidate, error)
}

// MateCP converts a mate distance into the sentinel centipawn scale used
// when a single comparable number is needed: shorter mates score higher.
func MateCP(movesToMate int) int {
	if movesToMate > 0 {
		return 10000 - movesToMate*100
	}
	return -10000 - movesToMate*100
}

// Score is the comparable White-positive value of an evaluation.
func (e Evaluation) Score() int {
	if e.HasMate {
		return MateCP(e.Mate)
	}
	return e.CP
}
