// Package store persists games, evaluations, jobs, and puzzles. The SQLite
// implementation is the production path; Memory backs tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/blunderlab/coach/internal/analysis"
	"github.com/blunderlab/coach/internal/chess"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a create collides with an existing record.
var ErrConflict = errors.New("already exists")

// GameRecord is an imported game plus the header metadata extracted at
// import time.
type GameRecord struct {
	ID          string
	Owner       string
	PGN         string
	White       string
	Black       string
	Result      string
	ECO         string
	Opening     string
	TimeControl string
	Plies       int
	ImportedAt  time.Time
}

// EvaluationRecord holds the full per-ply analysis of one game.
type EvaluationRecord struct {
	GameID    string
	Owner     string
	Depth     int
	Plies     []analysis.PlyEvaluation
	Tags      []analysis.MoveTag
	Report    analysis.GameReport
	CreatedAt time.Time
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobRecord tracks one analysis batch. UnitErrors counts games that failed
// individually while the job as a whole kept going.
type JobRecord struct {
	ID         string
	Owner      string
	Kind       string
	Status     string
	Total      int
	Processed  int
	UnitErrors int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt time.Time
}

// PuzzleRecord is an extracted tactics puzzle.
type PuzzleRecord struct {
	ID        string
	Owner     string
	GameID    string
	Ply       int
	Side      chess.Side
	FEN       string
	Solution  []string
	Motif     string
	Strength  int
	Key       string
	CreatedAt time.Time
}

// Store is the persistence surface the pipeline runs against.
type Store interface {
	PutGame(ctx context.Context, g GameRecord) error
	GetGame(ctx context.Context, id string) (GameRecord, error)
	GamesByOwner(ctx context.Context, owner string) ([]GameRecord, error)

	PutEvaluation(ctx context.Context, ev EvaluationRecord) error
	GetEvaluation(ctx context.Context, gameID string) (EvaluationRecord, error)

	CreateJob(ctx context.Context, j JobRecord) error
	UpdateJob(ctx context.Context, j JobRecord) error
	GetJob(ctx context.Context, id string) (JobRecord, error)
	JobsByOwner(ctx context.Context, owner string) ([]JobRecord, error)
	MarkUnitDone(ctx context.Context, jobID, unitID string) error
	DoneUnits(ctx context.Context, jobID string) (map[string]bool, error)

	PutPuzzle(ctx context.Context, p PuzzleRecord) error
	PuzzlesByOwner(ctx context.Context, owner string) ([]PuzzleRecord, error)
	HasPuzzleKey(ctx context.Context, owner, key string) (bool, error)

	Close() error
}
