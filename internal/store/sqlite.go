package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blunderlab/coach/internal/chess"
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	pgn TEXT NOT NULL,
	white TEXT,
	black TEXT,
	result TEXT,
	eco TEXT,
	opening TEXT,
	time_control TEXT,
	plies INTEGER NOT NULL,
	imported_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_games_owner ON games(owner);

CREATE TABLE IF NOT EXISTS evaluations (
	game_id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	depth INTEGER NOT NULL,
	plies TEXT NOT NULL,
	tags TEXT NOT NULL,
	report TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	total INTEGER NOT NULL,
	processed INTEGER NOT NULL,
	unit_errors INTEGER NOT NULL,
	last_error TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner);

CREATE TABLE IF NOT EXISTS job_units (
	job_id TEXT NOT NULL,
	unit_id TEXT NOT NULL,
	PRIMARY KEY (job_id, unit_id)
);

CREATE TABLE IF NOT EXISTS puzzles (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	game_id TEXT NOT NULL,
	ply INTEGER NOT NULL,
	side TEXT NOT NULL,
	fen TEXT NOT NULL,
	solution TEXT NOT NULL,
	motif TEXT NOT NULL,
	strength INTEGER NOT NULL,
	key TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_puzzles_owner ON puzzles(owner);
CREATE UNIQUE INDEX IF NOT EXISTS idx_puzzles_owner_key ON puzzles(owner, key);
`

// SQLite is the file-backed Store.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path. Use
// ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The driver serializes access per connection; a single connection
	// sidesteps SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) PutGame(ctx context.Context, g GameRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO games (id, owner, pgn, white, black, result, eco, opening, time_control, plies, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pgn=excluded.pgn, white=excluded.white, black=excluded.black,
			result=excluded.result, eco=excluded.eco, opening=excluded.opening,
			time_control=excluded.time_control, plies=excluded.plies`,
		g.ID, g.Owner, g.PGN, g.White, g.Black, g.Result, g.ECO, g.Opening,
		g.TimeControl, g.Plies, g.ImportedAt)
	if err != nil {
		return fmt.Errorf("put game %s: %w", g.ID, err)
	}
	return nil
}

func (s *SQLite) GetGame(ctx context.Context, id string) (GameRecord, error) {
	var g GameRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, pgn, white, black, result, eco, opening, time_control, plies, imported_at
		FROM games WHERE id = ?`, id).Scan(
		&g.ID, &g.Owner, &g.PGN, &g.White, &g.Black, &g.Result, &g.ECO,
		&g.Opening, &g.TimeControl, &g.Plies, &g.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return GameRecord{}, ErrNotFound
	}
	if err != nil {
		return GameRecord{}, fmt.Errorf("get game %s: %w", id, err)
	}
	return g, nil
}

func (s *SQLite) GamesByOwner(ctx context.Context, owner string) ([]GameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, pgn, white, black, result, eco, opening, time_control, plies, imported_at
		FROM games WHERE owner = ? ORDER BY id`, owner)
	if err != nil {
		return nil, fmt.Errorf("games by owner %s: %w", owner, err)
	}
	defer rows.Close()
	var out []GameRecord
	for rows.Next() {
		var g GameRecord
		if err := rows.Scan(&g.ID, &g.Owner, &g.PGN, &g.White, &g.Black, &g.Result,
			&g.ECO, &g.Opening, &g.TimeControl, &g.Plies, &g.ImportedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLite) PutEvaluation(ctx context.Context, ev EvaluationRecord) error {
	plies, err := json.Marshal(ev.Plies)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		return err
	}
	report, err := json.Marshal(ev.Report)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluations (game_id, owner, depth, plies, tags, report, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id) DO UPDATE SET
			depth=excluded.depth, plies=excluded.plies, tags=excluded.tags,
			report=excluded.report, created_at=excluded.created_at`,
		ev.GameID, ev.Owner, ev.Depth, string(plies), string(tags), string(report), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("put evaluation %s: %w", ev.GameID, err)
	}
	return nil
}

func (s *SQLite) GetEvaluation(ctx context.Context, gameID string) (EvaluationRecord, error) {
	var (
		ev                  EvaluationRecord
		plies, tags, report string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT game_id, owner, depth, plies, tags, report, created_at
		FROM evaluations WHERE game_id = ?`, gameID).Scan(
		&ev.GameID, &ev.Owner, &ev.Depth, &plies, &tags, &report, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EvaluationRecord{}, ErrNotFound
	}
	if err != nil {
		return EvaluationRecord{}, fmt.Errorf("get evaluation %s: %w", gameID, err)
	}
	if err := json.Unmarshal([]byte(plies), &ev.Plies); err != nil {
		return EvaluationRecord{}, err
	}
	if err := json.Unmarshal([]byte(tags), &ev.Tags); err != nil {
		return EvaluationRecord{}, err
	}
	if err := json.Unmarshal([]byte(report), &ev.Report); err != nil {
		return EvaluationRecord{}, err
	}
	return ev, nil
}

func (s *SQLite) CreateJob(ctx context.Context, j JobRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, owner, kind, status, total, processed, unit_errors, last_error, created_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Owner, j.Kind, j.Status, j.Total, j.Processed, j.UnitErrors,
		j.LastError, j.CreatedAt, j.UpdatedAt, nullTime(j.FinishedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create job %s: %w", j.ID, err)
	}
	return nil
}

func (s *SQLite) UpdateJob(ctx context.Context, j JobRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status=?, total=?, processed=?, unit_errors=?, last_error=?, updated_at=?, finished_at=?
		WHERE id=?`,
		j.Status, j.Total, j.Processed, j.UnitErrors, j.LastError, j.UpdatedAt,
		nullTime(j.FinishedAt), j.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (JobRecord, error) {
	var (
		j        JobRecord
		finished sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, kind, status, total, processed, unit_errors, last_error, created_at, updated_at, finished_at
		FROM jobs WHERE id = ?`, id).Scan(
		&j.ID, &j.Owner, &j.Kind, &j.Status, &j.Total, &j.Processed,
		&j.UnitErrors, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, ErrNotFound
	}
	if err != nil {
		return JobRecord{}, fmt.Errorf("get job %s: %w", id, err)
	}
	if finished.Valid {
		j.FinishedAt = finished.Time
	}
	return j, nil
}

func (s *SQLite) JobsByOwner(ctx context.Context, owner string) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, kind, status, total, processed, unit_errors, last_error, created_at, updated_at, finished_at
		FROM jobs WHERE owner = ? ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("jobs by owner %s: %w", owner, err)
	}
	defer rows.Close()
	var out []JobRecord
	for rows.Next() {
		var (
			j        JobRecord
			finished sql.NullTime
		)
		if err := rows.Scan(&j.ID, &j.Owner, &j.Kind, &j.Status, &j.Total, &j.Processed,
			&j.UnitErrors, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			j.FinishedAt = finished.Time
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkUnitDone(ctx context.Context, jobID, unitID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO job_units (job_id, unit_id) VALUES (?, ?)`, jobID, unitID)
	if err != nil {
		return fmt.Errorf("mark unit done %s/%s: %w", jobID, unitID, err)
	}
	return nil
}

func (s *SQLite) DoneUnits(ctx context.Context, jobID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT unit_id FROM job_units WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("done units %s: %w", jobID, err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var unit string
		if err := rows.Scan(&unit); err != nil {
			return nil, err
		}
		out[unit] = true
	}
	return out, rows.Err()
}

func (s *SQLite) PutPuzzle(ctx context.Context, p PuzzleRecord) error {
	solution, err := json.Marshal(p.Solution)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO puzzles (id, owner, game_id, ply, side, fen, solution, motif, strength, key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Owner, p.GameID, p.Ply, string(p.Side), p.FEN, string(solution),
		p.Motif, p.Strength, p.Key, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("put puzzle %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLite) PuzzlesByOwner(ctx context.Context, owner string) ([]PuzzleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, game_id, ply, side, fen, solution, motif, strength, key, created_at
		FROM puzzles WHERE owner = ? ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("puzzles by owner %s: %w", owner, err)
	}
	defer rows.Close()
	var out []PuzzleRecord
	for rows.Next() {
		var (
			p        PuzzleRecord
			side     string
			solution string
		)
		if err := rows.Scan(&p.ID, &p.Owner, &p.GameID, &p.Ply, &side, &p.FEN,
			&solution, &p.Motif, &p.Strength, &p.Key, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Side = chess.Side(side)
		if err := json.Unmarshal([]byte(solution), &p.Solution); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) HasPuzzleKey(ctx context.Context, owner, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM puzzles WHERE owner = ? AND key = ?`, owner, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has puzzle key: %w", err)
	}
	return n > 0, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueViolation(err error) bool {
	// modernc/sqlite reports constraint failures in the error text; there
	// is no exported sentinel to compare against.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
