package analysis

import (
	"testing"

	"github.com/blunderlab/coach/internal/chess"
)

func TestBuildReport(t *testing.T) {
	tags := []MoveTag{
		{Ply: 1, Side: chess.White, Tag: TagNone, LossCP: 10},
		{Ply: 2, Side: chess.Black, Tag: TagInaccuracy, LossCP: 60},
		{Ply: 3, Side: chess.White, Tag: TagBlunder, LossCP: 400},
		{Ply: 4, Side: chess.Black, Tag: TagNone, Unscored: true},
		{Ply: 17, Side: chess.White, Tag: TagMistake, LossCP: 200},
	}
	rep := BuildReport(tags)

	if rep.White.Moves != 3 || rep.Black.Moves != 2 {
		t.Fatalf("move counts: white %d black %d", rep.White.Moves, rep.Black.Moves)
	}
	if rep.Black.Unscored != 1 {
		t.Errorf("black unscored: got %d, want 1", rep.Black.Unscored)
	}
	if rep.White.Tags[TagBlunder] != 1 || rep.White.Tags[TagMistake] != 1 {
		t.Errorf("white tags: %+v", rep.White.Tags)
	}
	if rep.White.WorstPly != 3 || rep.White.WorstLossCP != 400 {
		t.Errorf("white worst: ply %d loss %d", rep.White.WorstPly, rep.White.WorstLossCP)
	}
	if got := rep.White.AvgLossCP; got < 203.0 || got > 203.5 {
		t.Errorf("white avg loss: got %v", got)
	}

	// Ply 3 is the only scored opening blunder among three scored
	// opening moves; ply 17 falls in the middlegame.
	if got := rep.BlunderByPhase[PhaseOpening]; got < 0.33 || got > 0.34 {
		t.Errorf("opening blunder rate: got %v", got)
	}
	if got := rep.BlunderByPhase[PhaseMiddlegame]; got != 0 {
		t.Errorf("middlegame blunder rate: got %v", got)
	}
}
