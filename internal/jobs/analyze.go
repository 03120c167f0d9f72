package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/blunderlab/coach/internal/analysis"
	"github.com/blunderlab/coach/internal/chess"
	"github.com/blunderlab/coach/internal/store"
)

// KindAnalysis is the job kind for full-game engine analysis.
const KindAnalysis = "analysis"

// AnalysisRunner evaluates one stored game per unit and persists the
// resulting ply records, tags, and report.
type AnalysisRunner struct {
	store      store.Store
	evaluator  *analysis.Evaluator
	thresholds analysis.Thresholds
	depth      int
	log        zerolog.Logger
}

// NewAnalysisRunner wires the evaluator to the store.
func NewAnalysisRunner(st store.Store, ev *analysis.Evaluator, depth int, log zerolog.Logger) *AnalysisRunner {
	return &AnalysisRunner{
		store:      st,
		evaluator:  ev,
		thresholds: analysis.DefaultThresholds,
		depth:      depth,
		log:        log,
	}
}

// RunUnit analyzes one game. A game whose every position came back
// unavailable is reported as a unit error; nothing is stored for it.
func (r *AnalysisRunner) RunUnit(ctx context.Context, job store.JobRecord, gameID string) error {
	rec, err := r.store.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("load game %s: %w", gameID, err)
	}
	g, err := chess.ParseGame(rec.PGN)
	if err != nil {
		return fmt.Errorf("parse game %s: %w", gameID, err)
	}
	g.ID = gameID
	g.Owner = job.Owner

	plies, err := r.evaluator.EvaluateGame(ctx, g)
	if err != nil {
		return fmt.Errorf("evaluate game %s: %w", gameID, err)
	}
	if allUnavailable(plies) {
		return fmt.Errorf("game %s: %w", gameID, errNoEvaluations)
	}

	tags := analysis.Classify(plies, r.thresholds)
	ev := store.EvaluationRecord{
		GameID:    gameID,
		Owner:     job.Owner,
		Depth:     r.depth,
		Plies:     plies,
		Tags:      tags,
		Report:    analysis.BuildReport(tags),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.PutEvaluation(ctx, ev); err != nil {
		return fmt.Errorf("store evaluation %s: %w", gameID, err)
	}
	return nil
}

var errNoEvaluations = errors.New("engine returned no evaluations")

func allUnavailable(plies []analysis.PlyEvaluation) bool {
	if len(plies) == 0 {
		return false
	}
	for _, p := range plies {
		if !p.Unavailable {
			return false
		}
	}
	return true
}
