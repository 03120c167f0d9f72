package analysis

import (
	"github.com/blunderlab/coach/internal/chess"
	"github.com/blunderlab/coach/internal/engine"
)

// Tag grades how much a move lost relative to the engine's preference.
type Tag string

const (
	TagNone       Tag = "none"
	TagInaccuracy Tag = "inaccuracy"
	TagMistake    Tag = "mistake"
	TagBlunder    Tag = "blunder"
)

// Thresholds are centipawn losses, from the mover's perspective, at which
// each tag starts. A loss exactly on a boundary takes the severer tag.
type Thresholds struct {
	Inaccuracy int
	Mistake    int
	Blunder    int
}

// DefaultThresholds matches the grading used across the coaching pipeline.
var DefaultThresholds = Thresholds{Inaccuracy: 50, Mistake: 150, Blunder: 300}

// MoveTag is the classification of a single ply. LossCP is the mover's
// centipawn loss (never negative); Unscored means one of the two positions
// needed for the delta was unavailable, in which case Tag is TagNone.
type MoveTag struct {
	Ply      int
	Side     chess.Side
	Tag      Tag
	LossCP   int
	Unscored bool

	// MissedMate and WalkedIntoMate record why a mate rule forced the tag
	// to blunder regardless of the centipawn delta.
	MissedMate     bool
	WalkedIntoMate bool
}

// Classify grades every ply of an evaluated game. It is a pure function of
// its inputs: the same evaluations always produce the same tags.
func Classify(evals []PlyEvaluation, th Thresholds) []MoveTag {
	out := make([]MoveTag, len(evals))
	for i, ev := range evals {
		out[i] = classifyPly(ev, th)
	}
	return out
}

func classifyPly(ev PlyEvaluation, th Thresholds) MoveTag {
	tag := MoveTag{Ply: ev.Ply, Side: ev.Side, Tag: TagNone}
	if ev.Unavailable || ev.FacedUnavailable {
		tag.Unscored = true
		return tag
	}

	// Scores are stored White-positive; flip to the mover's perspective
	// so a drop is always a loss for the side that moved.
	before := ev.Faced.Score()
	after := ev.Eval.Score()
	if ev.Side == chess.Black {
		before, after = -before, -after
	}
	if loss := before - after; loss > 0 {
		tag.LossCP = loss
	}

	switch {
	case tag.LossCP >= th.Blunder:
		tag.Tag = TagBlunder
	case tag.LossCP >= th.Mistake:
		tag.Tag = TagMistake
	case tag.LossCP >= th.Inaccuracy:
		tag.Tag = TagInaccuracy
	}

	// Mate rules override the centipawn grade upward, never downward.
	moverMateBefore := mateFor(ev.Faced, ev.Side)
	moverMateAfter := mateFor(ev.Eval, ev.Side)
	if moverMateBefore > 0 && moverMateAfter <= 0 {
		tag.MissedMate = true
		tag.Tag = TagBlunder
	}
	if moverMateAfter < 0 && moverMateBefore >= 0 {
		tag.WalkedIntoMate = true
		tag.Tag = TagBlunder
	}
	return tag
}

// mateFor reports a forced mate from the mover's perspective: positive if
// the mover mates, negative if the mover gets mated, zero if no mate.
func mateFor(ev engine.Evaluation, side chess.Side) int {
	if !ev.HasMate {
		return 0
	}
	m := ev.Mate
	if side == chess.Black {
		m = -m
	}
	return m
}
