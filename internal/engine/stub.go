package engine

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/freeeve/pgn/v3"

	"github.com/blunderlab/coach/internal/chess"
)

// Stub is a deterministic Evaluator for tests and offline development.
// Scores come from a scripted per-FEN table when present, otherwise from a
// plain material count, so identical inputs always produce identical
// output. No engine binary is involved.
type Stub struct {
	// Scripted overrides evaluation results for exact FEN matches.
	Scripted map[string]Evaluation
	// FailFunc, when set, is consulted per FEN; a non-nil error makes the
	// request fail the way an exhausted live engine would.
	FailFunc func(fen string) error

	calls int64
}

var _ Evaluator = (*Stub)(nil)

// NewStub returns an empty stub; callers fill Scripted as needed.
func NewStub() *Stub {
	return &Stub{Scripted: map[string]Evaluation{}}
}

// Calls reports how many evaluation requests the stub has served.
func (s *Stub) Calls() int64 { return atomic.LoadInt64(&s.calls) }

func (s *Stub) Evaluate(ctx context.Context, fen string, limits Limits) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Evaluation{}, err
	}
	atomic.AddInt64(&s.calls, 1)
	if s.FailFunc != nil {
		if err := s.FailFunc(fen); err != nil {
			return Evaluation{}, err
		}
	}
	if ev, ok := s.Scripted[fen]; ok {
		return ev, nil
	}
	return s.synthesize(fen)
}

func (s *Stub) synthesize(fen string) (Evaluation, error) {
	pos, err := chess.ParseFEN(fen)
	if err != nil {
		return Evaluation{}, err
	}
	depth := 12
	mover := chess.SideToMove(fen)

	moves := pgn.GenerateLegalMoves(pos)
	if len(moves) == 0 {
		if pos.IsInCheck() {
			// Mover is already mated.
			mate := -1
			if mover == chess.Black {
				mate = 1
			}
			return Evaluation{HasMate: true, Mate: mate, Depth: depth, BestMove: "0000"}, nil
		}
		return Evaluation{Depth: depth, BestMove: "0000"}, nil
	}

	pv := greedyLine(pos, 4)
	ev := Evaluation{
		CP:       materialCP(fen),
		Depth:    depth,
		BestMove: pv[0],
		PV:       pv,
	}

	// A mate in one for the side to move dominates any material count.
	for _, mv := range moves {
		child := pos.Pack().Unpack()
		if child == nil {
			continue
		}
		if pgn.ApplyMove(child, mv) != nil {
			continue
		}
		if child.IsInCheck() && len(pgn.GenerateLegalMoves(child)) == 0 {
			ev.HasMate = true
			ev.Mate = 1
			if mover == chess.Black {
				ev.Mate = -1
			}
			ev.CP = 0
			ev.BestMove = chess.MoveToUCI(mv)
			ev.PV = []string{ev.BestMove}
			break
		}
	}
	return ev, nil
}

func (s *Stub) BestMoves(ctx context.Context, fen string, n int, limits Limits) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	atomic.AddInt64(&s.calls, 1)
	if s.FailFunc != nil {
		if err := s.FailFunc(fen); err != nil {
			return nil, err
		}
	}
	pos, err := chess.ParseFEN(fen)
	if err != nil {
		return nil, err
	}
	mover := chess.SideToMove(fen)

	var cands []Candidate
	for _, mv := range pgn.GenerateLegalMoves(pos) {
		child := pos.Pack().Unpack()
		if child == nil {
			continue
		}
		if pgn.ApplyMove(child, mv) != nil {
			continue
		}
		cand := Candidate{Move: chess.MoveToUCI(mv)}
		if child.IsInCheck() && len(pgn.GenerateLegalMoves(child)) == 0 {
			cand.HasMate = true
			cand.Mate = 0
		} else {
			cp := materialCP(child.ToFEN())
			if mover == chess.Black {
				cp = -cp
			}
			cand.CP = cp
		}
		cands = append(cands, cand)
	}
	sortCandidates(cands)
	if n > 0 && len(cands) > n {
		cands = cands[:n]
	}
	return cands, nil
}

// greedyLine builds a short deterministic continuation: at every step take
// the move whose child position is best for the mover on material, breaking
// ties by UCI string order.
func greedyLine(pos *pgn.GameState, plies int) []string {
	cur := pos.Pack().Unpack()
	line := make([]string, 0, plies)
	for i := 0; i < plies; i++ {
		moves := pgn.GenerateLegalMoves(cur)
		if len(moves) == 0 {
			break
		}
		mover := chess.SideToMove(cur.ToFEN())
		bestUCI := ""
		bestScore := 0
		var bestChild *pgn.GameState
		for _, mv := range moves {
			child := cur.Pack().Unpack()
			if child == nil || pgn.ApplyMove(child, mv) != nil {
				continue
			}
			score := materialCP(child.ToFEN())
			if mover == chess.Black {
				score = -score
			}
			uciStr := chess.MoveToUCI(mv)
			if bestUCI == "" || score > bestScore || (score == bestScore && uciStr < bestUCI) {
				bestUCI = uciStr
				bestScore = score
				bestChild = child
			}
		}
		if bestUCI == "" {
			break
		}
		line = append(line, bestUCI)
		cur = bestChild
	}
	return line
}

var pieceValues = map[rune]int{
	'P': 100, 'N': 300, 'B': 300, 'R': 500, 'Q': 900,
	'p': -100, 'n': -300, 'b': -300, 'r': -500, 'q': -900,
}

// materialCP is a White-positive material count from the FEN board field.
func materialCP(fen string) int {
	board := fen
	if idx := strings.IndexByte(fen, ' '); idx >= 0 {
		board = fen[:idx]
	}
	total := 0
	for _, r := range board {
		total += pieceValues[r]
	}
	return total
}
