package sparring

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/blunderlab/coach/internal/chess"
	"github.com/blunderlab/coach/internal/engine"
)

// White to move with a free pawn on d5; taking it is the unique best move.
const fenFreePawn = "rnbqkbnr/ppp1pppp/8/3p4/4P3/8/PPPP1PPP/RNBQKBNR w KQkq d6 0 2"

func testPolicy() *Policy {
	return NewPolicy(engine.NewStub(), zerolog.Nop())
}

func TestMaxDifficultyPlaysBest(t *testing.T) {
	p := testPolicy()
	rng := SeededRand(7)
	for i := 0; i < 50; i++ {
		sel, err := p.ChooseMove(context.Background(), fenFreePawn, MaxDifficulty, Hints{}, rng)
		if err != nil {
			t.Fatal(err)
		}
		if sel.Move != "e4d5" {
			t.Fatalf("iteration %d: got %s, want e4d5", i, sel.Move)
		}
		if sel.Perturbed {
			t.Fatal("max difficulty must never perturb")
		}
	}
}

func TestMinDifficultyPerturbs(t *testing.T) {
	p := testPolicy()
	rng := SeededRand(7)

	// From the start every quiet move scores the same, so the pool is
	// wide and perturbation shows up as not playing the top-ranked move.
	const runs = 200
	perturbed := 0
	for i := 0; i < runs; i++ {
		sel, err := p.ChooseMove(context.Background(), chess.StartFEN, MinDifficulty, Hints{}, rng)
		if err != nil {
			t.Fatal(err)
		}
		if sel.Perturbed {
			perturbed++
		}
	}
	rate := float64(perturbed) / runs
	if rate < 0.4 || rate > 0.9 {
		t.Errorf("perturbation rate %v outside expected band for min difficulty", rate)
	}
}

func TestChooseMoveAlwaysLegal(t *testing.T) {
	p := testPolicy()
	rng := SeededRand(3)
	fens := []string{chess.StartFEN, fenFreePawn,
		"4k3/8/8/8/8/8/7R/4K3 w - - 0 1",
		"r3k3/8/8/1N6/8/8/8/4K3 w - - 0 1",
	}
	for _, fen := range fens {
		for d := MinDifficulty; d <= MaxDifficulty; d++ {
			sel, err := p.ChooseMove(context.Background(), fen, d, Hints{}, rng)
			if err != nil {
				t.Fatalf("fen %s difficulty %d: %v", fen, d, err)
			}
			pos, err := chess.ParseFEN(fen)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := chess.ParseUCIMove(pos, sel.Move); err != nil {
				t.Errorf("illegal selection %s in %s: %v", sel.Move, fen, err)
			}
		}
	}
}

func TestChooseMoveNoLegalMoves(t *testing.T) {
	p := testPolicy()
	// Black is already mated; there is nothing to play.
	mated := "R5k1/5ppp/8/8/8/8/8/6K1 b - - 0 1"
	_, err := p.ChooseMove(context.Background(), mated, 5, Hints{}, SeededRand(1))
	if !errors.Is(err, ErrNoMoves) {
		t.Errorf("got %v, want ErrNoMoves", err)
	}
}

func TestCheckHintBiasesSelection(t *testing.T) {
	p := testPolicy()
	// Rook endgame where every quiet move scores alike: the hint should
	// steer toward a checking move at no material cost.
	fen := "4k3/8/8/8/8/8/7R/4K3 w - - 0 1"
	sel, err := p.ChooseMove(context.Background(), fen, MaxDifficulty, Hints{PreferChecks: true}, SeededRand(1))
	if err != nil {
		t.Fatal(err)
	}
	pos, err := chess.ParseFEN(fen)
	if err != nil {
		t.Fatal(err)
	}
	mv, err := chess.ParseUCIMove(pos, sel.Move)
	if err != nil {
		t.Fatal(err)
	}
	if !givesCheck(pos, mv) {
		t.Errorf("selection %s is not a check", sel.Move)
	}
}

func TestCaptureHintStaysInTolerance(t *testing.T) {
	p := testPolicy()
	// The capture hint may not give up real material: in fenFreePawn the
	// best move already is a capture, so the pick must not change.
	sel, err := p.ChooseMove(context.Background(), fenFreePawn, MaxDifficulty, Hints{PreferCaptures: true}, SeededRand(1))
	if err != nil {
		t.Fatal(err)
	}
	if sel.Move != "e4d5" {
		t.Errorf("got %s, want e4d5", sel.Move)
	}
}

func TestDifficultyOutOfRange(t *testing.T) {
	p := testPolicy()
	if _, err := p.ChooseMove(context.Background(), chess.StartFEN, 0, Hints{}, SeededRand(1)); err == nil {
		t.Error("difficulty 0 accepted")
	}
	if _, err := p.ChooseMove(context.Background(), chess.StartFEN, 11, Hints{}, SeededRand(1)); err == nil {
		t.Error("difficulty 11 accepted")
	}
}
