package analysis

import (
	"reflect"
	"testing"

	"github.com/blunderlab/coach/internal/chess"
	"github.com/blunderlab/coach/internal/engine"
)

func ply(n int, side chess.Side, beforeCP, afterCP int) PlyEvaluation {
	return PlyEvaluation{
		Ply:   n,
		Side:  side,
		Faced: engine.Evaluation{CP: beforeCP, Depth: 12},
		Eval:  engine.Evaluation{CP: afterCP, Depth: 12},
	}
}

func TestClassifySwingSequence(t *testing.T) {
	// White-positive evals after each ply: +20, +15, -310. Black giving
	// back five centipawns is no mistake; White dropping from +15 to
	// -310 is a 325 point loss and a blunder.
	evals := []PlyEvaluation{
		ply(1, chess.White, 0, 20),
		ply(2, chess.Black, 20, 15),
		ply(3, chess.White, 15, -310),
	}
	tags := Classify(evals, DefaultThresholds)

	if tags[1].Tag != TagNone {
		t.Errorf("ply 2: got %s, want %s", tags[1].Tag, TagNone)
	}
	if tags[2].Tag != TagBlunder {
		t.Errorf("ply 3: got %s, want %s", tags[2].Tag, TagBlunder)
	}
	if tags[2].LossCP != 325 {
		t.Errorf("ply 3 loss: got %d, want 325", tags[2].LossCP)
	}
}

func TestClassifyThresholdBoundaries(t *testing.T) {
	cases := []struct {
		name string
		loss int
		want Tag
	}{
		{"below inaccuracy", 49, TagNone},
		{"exact inaccuracy", 50, TagInaccuracy},
		{"between", 149, TagInaccuracy},
		{"exact mistake", 150, TagMistake},
		{"exact blunder", 300, TagBlunder},
		{"beyond blunder", 900, TagBlunder},
		{"gain", -40, TagNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tags := Classify([]PlyEvaluation{ply(1, chess.White, 100, 100-tc.loss)}, DefaultThresholds)
			if tags[0].Tag != tc.want {
				t.Errorf("loss %d: got %s, want %s", tc.loss, tags[0].Tag, tc.want)
			}
		})
	}
}

func TestClassifyBlackPerspective(t *testing.T) {
	// From Black's seat a White-positive swing of +200 is a 200 point
	// loss for the mover.
	tags := Classify([]PlyEvaluation{ply(4, chess.Black, -50, 150)}, DefaultThresholds)
	if tags[0].Tag != TagMistake {
		t.Errorf("got %s, want %s", tags[0].Tag, TagMistake)
	}
	if tags[0].LossCP != 200 {
		t.Errorf("loss: got %d, want 200", tags[0].LossCP)
	}
}

func TestClassifyMonotonicity(t *testing.T) {
	rank := map[Tag]int{TagNone: 0, TagInaccuracy: 1, TagMistake: 2, TagBlunder: 3}
	prev := -1
	for loss := 0; loss <= 600; loss += 25 {
		tags := Classify([]PlyEvaluation{ply(1, chess.White, 0, -loss)}, DefaultThresholds)
		r := rank[tags[0].Tag]
		if r < prev {
			t.Fatalf("severity decreased at loss %d", loss)
		}
		prev = r
	}
}

func TestClassifyMissedMate(t *testing.T) {
	evals := []PlyEvaluation{{
		Ply:   10,
		Side:  chess.White,
		Faced: engine.Evaluation{HasMate: true, Mate: 2, Depth: 12},
		Eval:  engine.Evaluation{CP: 450, Depth: 12},
	}}
	tags := Classify(evals, DefaultThresholds)
	if tags[0].Tag != TagBlunder || !tags[0].MissedMate {
		t.Errorf("got %+v, want missed-mate blunder", tags[0])
	}

	// Converting a mate in two into a mate in four is slower, not a
	// missed mate.
	evals[0].Eval = engine.Evaluation{HasMate: true, Mate: 4, Depth: 12}
	tags = Classify(evals, DefaultThresholds)
	if tags[0].MissedMate {
		t.Errorf("longer mate flagged as missed: %+v", tags[0])
	}
}

func TestClassifyWalkedIntoMate(t *testing.T) {
	evals := []PlyEvaluation{{
		Ply:   20,
		Side:  chess.Black,
		Faced: engine.Evaluation{CP: 80, Depth: 12},
		Eval:  engine.Evaluation{HasMate: true, Mate: 3, Depth: 12},
	}}
	tags := Classify(evals, DefaultThresholds)
	if tags[0].Tag != TagBlunder || !tags[0].WalkedIntoMate {
		t.Errorf("got %+v, want walked-into-mate blunder", tags[0])
	}

	// Already lost to mate before the move: not a new blunder.
	evals[0].Faced = engine.Evaluation{HasMate: true, Mate: 2, Depth: 12}
	tags = Classify(evals, DefaultThresholds)
	if tags[0].WalkedIntoMate {
		t.Errorf("hopeless position flagged as walked-into: %+v", tags[0])
	}
}

func TestClassifyUnscored(t *testing.T) {
	evals := []PlyEvaluation{
		{Ply: 1, Side: chess.White, Unavailable: true, Faced: engine.Evaluation{CP: 0}},
		{Ply: 2, Side: chess.Black, FacedUnavailable: true, Eval: engine.Evaluation{CP: -500}},
	}
	for i, tag := range Classify(evals, DefaultThresholds) {
		if !tag.Unscored || tag.Tag != TagNone {
			t.Errorf("record %d: got %+v, want unscored none", i, tag)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	evals := []PlyEvaluation{
		ply(1, chess.White, 0, 30),
		ply(2, chess.Black, 30, 220),
		ply(3, chess.White, 220, -100),
	}
	first := Classify(evals, DefaultThresholds)
	second := Classify(evals, DefaultThresholds)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("classification not stable:\n%+v\n%+v", first, second)
	}
}
