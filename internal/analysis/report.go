package analysis

import (
	"github.com/samber/lo"

	"github.com/blunderlab/coach/internal/chess"
)

// Phase buckets a ply into the rough stage of the game.
type Phase string

const (
	PhaseOpening    Phase = "opening"
	PhaseMiddlegame Phase = "middlegame"
	PhaseEndgame    Phase = "endgame"
)

func phaseOf(ply int) Phase {
	switch {
	case ply <= 16:
		return PhaseOpening
	case ply <= 60:
		return PhaseMiddlegame
	default:
		return PhaseEndgame
	}
}

// SideSummary aggregates one side's graded moves for a game.
type SideSummary struct {
	Moves        int         `json:"moves"`
	Unscored     int         `json:"unscored"`
	Tags         map[Tag]int `json:"tags"`
	AvgLossCP    float64     `json:"avg_loss_cp"`
	WorstPly     int         `json:"worst_ply"`
	WorstLossCP  int         `json:"worst_loss_cp"`
	BlunderPlies []int       `json:"blunder_plies,omitempty"`
}

// GameReport is the per-game rollup served alongside the ply records.
// Rates are computed over scored moves only.
type GameReport struct {
	White          SideSummary       `json:"white"`
	Black          SideSummary       `json:"black"`
	BlunderByPhase map[Phase]float64 `json:"blunder_by_phase"`
}

// BuildReport rolls ply tags up into a game report. It is deterministic
// for a given tag sequence.
func BuildReport(tags []MoveTag) GameReport {
	rep := GameReport{
		White:          SideSummary{Tags: map[Tag]int{}},
		Black:          SideSummary{Tags: map[Tag]int{}},
		BlunderByPhase: map[Phase]float64{},
	}

	phaseScored := map[Phase]int{}
	phaseBlunders := map[Phase]int{}
	lossTotals := map[chess.Side]int{}

	for _, tag := range tags {
		sum := &rep.White
		if tag.Side == chess.Black {
			sum = &rep.Black
		}
		sum.Moves++
		if tag.Unscored {
			sum.Unscored++
			continue
		}
		sum.Tags[tag.Tag]++
		lossTotals[tag.Side] += tag.LossCP
		if tag.LossCP > sum.WorstLossCP {
			sum.WorstLossCP = tag.LossCP
			sum.WorstPly = tag.Ply
		}
		ph := phaseOf(tag.Ply)
		phaseScored[ph]++
		if tag.Tag == TagBlunder {
			sum.BlunderPlies = append(sum.BlunderPlies, tag.Ply)
			phaseBlunders[ph]++
		}
	}

	finalize := func(sum *SideSummary, side chess.Side) {
		if scored := sum.Moves - sum.Unscored; scored > 0 {
			sum.AvgLossCP = float64(lossTotals[side]) / float64(scored)
		}
	}
	finalize(&rep.White, chess.White)
	finalize(&rep.Black, chess.Black)

	for _, ph := range lo.Keys(phaseScored) {
		rep.BlunderByPhase[ph] = float64(phaseBlunders[ph]) / float64(phaseScored[ph])
	}
	return rep
}
