// Package sparring picks engine moves tuned to a human opponent: lower
// difficulty means shallower search and more deliberate inaccuracy, with
// optional style preferences.
package sparring

import (
	"context"
	"errors"
	"fmt"

	"github.com/freeeve/pgn/v3"
	"github.com/rs/zerolog"
	"lukechampine.com/frand"

	"github.com/blunderlab/coach/internal/chess"
	"github.com/blunderlab/coach/internal/engine"
)

// Difficulty bounds.
const (
	MinDifficulty = 1
	MaxDifficulty = 10
)

// styleTolerance is the most a style preference may cost, in centipawns,
// relative to the engine's best candidate. It also bounds selection at max
// difficulty.
const styleTolerance = 30

// ErrNoMoves is returned when the position has no legal moves.
var ErrNoMoves = errors.New("no legal moves")

// Rand is the randomness the policy consumes, injectable so tests can fix
// the seed.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// NewRand returns the default fast CSPRNG.
func NewRand() Rand { return frand.New() }

// SeededRand returns a deterministic source for tests.
func SeededRand(seed uint64) Rand {
	var key [32]byte
	for i := 0; i < 8; i++ {
		key[i] = byte(seed >> (8 * i))
	}
	return frand.NewCustom(key[:], 1024, 12)
}

// Hints bias move selection toward a style, never costing more than
// styleTolerance.
type Hints struct {
	PreferCaptures bool `json:"prefer_captures"`
	PreferChecks   bool `json:"prefer_checks"`
}

// Selection is a chosen sparring move with the scoring behind it.
type Selection struct {
	Move      string // UCI
	CP        int    // mover perspective
	Depth     int
	Perturbed bool // a deliberately suboptimal pick
}

// Policy selects sparring moves. Stateless: every call stands alone.
type Policy struct {
	eng engine.Evaluator
	log zerolog.Logger
}

// NewPolicy builds a policy over the engine.
func NewPolicy(eng engine.Evaluator, log zerolog.Logger) *Policy {
	return &Policy{eng: eng, log: log}
}

// depthFor maps difficulty to search depth.
func depthFor(difficulty int) int {
	d := 2 + 2*difficulty
	if d > 20 {
		d = 20
	}
	return d
}

// perturbProb is the chance of deliberately not playing the best move.
// Zero at max difficulty.
func perturbProb(difficulty int) float64 {
	return float64(MaxDifficulty-difficulty) * 0.08
}

// window is the centipawn band below the best candidate from which a
// perturbed move may be picked. Collapses to styleTolerance at max
// difficulty.
func window(difficulty int) int {
	return styleTolerance + (MaxDifficulty-difficulty)*60
}

// ChooseMove picks a move for the side to play in fen. The returned move
// is always legal: candidates come from move generation and are verified
// against it again before returning.
func (p *Policy) ChooseMove(ctx context.Context, fen string, difficulty int, hints Hints, rng Rand) (Selection, error) {
	if difficulty < MinDifficulty || difficulty > MaxDifficulty {
		return Selection{}, fmt.Errorf("difficulty %d out of range", difficulty)
	}
	depth := depthFor(difficulty)
	// Rank every legal move: hint and perturbation pools are score bands,
	// and a truncated list could cut exactly the moves they want.
	cands, err := p.eng.BestMoves(ctx, fen, 0, engine.Limits{Depth: depth})
	if err != nil {
		return Selection{}, fmt.Errorf("rank candidates: %w", err)
	}
	if len(cands) == 0 {
		return Selection{}, ErrNoMoves
	}

	best := cands[0]
	pick := best
	perturbed := false

	if rng.Float64() < perturbProb(difficulty) {
		pool := within(cands, best, window(difficulty))
		if len(pool) > 1 {
			pick = pool[rng.Intn(len(pool))]
			perturbed = pick.Move != best.Move
		}
	} else if hints.PreferCaptures || hints.PreferChecks {
		if styled, ok := p.applyHints(fen, within(cands, best, styleTolerance), hints); ok {
			pick = styled
		}
	}

	pos, err := chess.ParseFEN(fen)
	if err != nil {
		return Selection{}, err
	}
	if _, err := chess.ParseUCIMove(pos, pick.Move); err != nil {
		// A candidate that does not survive the legality check means the
		// engine and the move generator disagree; fall back to the move
		// generator's view.
		p.log.Warn().Str("move", pick.Move).Str("fen", fen).Msg("discarding illegal candidate")
		return Selection{}, fmt.Errorf("candidate %s: %w", pick.Move, err)
	}

	return Selection{Move: pick.Move, CP: pick.Value(), Depth: depth, Perturbed: perturbed}, nil
}

// within keeps candidates whose value is no more than band centipawns
// below the best.
func within(cands []engine.Candidate, best engine.Candidate, band int) []engine.Candidate {
	var out []engine.Candidate
	for _, c := range cands {
		if best.Value()-c.Value() <= band {
			out = append(out, c)
		}
	}
	return out
}

// applyHints returns the first candidate in the tolerance pool matching a
// preference. Pool order is by strength, so the strongest styled move wins.
func (p *Policy) applyHints(fen string, pool []engine.Candidate, hints Hints) (engine.Candidate, bool) {
	pos, err := chess.ParseFEN(fen)
	if err != nil {
		return engine.Candidate{}, false
	}
	for _, c := range pool {
		mv, err := chess.ParseUCIMove(pos, c.Move)
		if err != nil {
			continue
		}
		if hints.PreferCaptures && (pos.PieceAt(mv.To) != 0 || mv.Flags == 2) {
			return c, true
		}
		if hints.PreferChecks && givesCheck(pos, mv) {
			return c, true
		}
	}
	return engine.Candidate{}, false
}

func givesCheck(pos *pgn.GameState, mv pgn.Mv) bool {
	child := pos.Pack().Unpack()
	if child == nil || pgn.ApplyMove(child, mv) != nil {
		return false
	}
	return child.IsInCheck()
}
