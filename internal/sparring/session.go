package sparring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blunderlab/coach/internal/chess"
)

var (
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionDone is returned when moving in a finished game.
	ErrSessionDone = errors.New("session is over")
	// ErrIllegalMove is returned when the caller's move is not legal.
	ErrIllegalMove = errors.New("illegal move")
	// ErrSessionBusy is returned when a move is already being processed.
	ErrSessionBusy = errors.New("move in progress")
)

// Outcomes for finished sessions.
const (
	OutcomeCheckmate = "checkmate"
	OutcomeStalemate = "stalemate"
)

// Session is one sparring game. The player always has White; the engine
// answers as Black.
type Session struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	Difficulty int        `json:"difficulty"`
	Hints      Hints      `json:"hints"`
	FEN        string     `json:"fen"`
	History    []string   `json:"history"` // UCI moves, both sides
	Done       bool       `json:"done"`
	Outcome    string     `json:"outcome,omitempty"`
	Winner     chess.Side `json:"winner,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	busy bool
}

// MoveResult is the engine's answer to one player move.
type MoveResult struct {
	Reply   string     `json:"reply,omitempty"` // empty when the player's move ended the game
	FEN     string     `json:"fen"`
	Done    bool       `json:"done"`
	Outcome string     `json:"outcome,omitempty"`
	Winner  chess.Side `json:"winner,omitempty"`
}

// Sessions is the session table. All access goes through its mutex; the
// engine call itself runs outside the lock with the session marked busy.
type Sessions struct {
	policy *Policy
	rng    Rand
	log    zerolog.Logger

	mu   sync.Mutex
	byID map[string]*Session
}

// NewSessions builds a session table over the policy.
func NewSessions(policy *Policy, rng Rand, log zerolog.Logger) *Sessions {
	if rng == nil {
		rng = NewRand()
	}
	return &Sessions{policy: policy, rng: rng, log: log, byID: map[string]*Session{}}
}

// Create starts a new sparring game from the initial position.
func (s *Sessions) Create(owner string, difficulty int, hints Hints) (Session, error) {
	if difficulty < MinDifficulty || difficulty > MaxDifficulty {
		return Session{}, fmt.Errorf("difficulty %d out of range [%d, %d]",
			difficulty, MinDifficulty, MaxDifficulty)
	}
	sess := &Session{
		ID:         uuid.NewString(),
		Owner:      owner,
		Difficulty: difficulty,
		Hints:      hints,
		FEN:        chess.StartFEN,
		CreatedAt:  time.Now().UTC(),
	}
	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.mu.Unlock()

	s.log.Info().Str("session", sess.ID).Str("owner", owner).
		Int("difficulty", difficulty).Msg("sparring session created")
	return *sess, nil
}

// Get returns a session snapshot.
func (s *Sessions) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *sess, nil
}

// Move validates and applies the player's move, then plays the engine's
// reply. Terminal positions end the session.
func (s *Sessions) Move(ctx context.Context, id, uci string) (MoveResult, error) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return MoveResult{}, ErrSessionNotFound
	}
	if sess.Done {
		s.mu.Unlock()
		return MoveResult{}, ErrSessionDone
	}
	if sess.busy {
		s.mu.Unlock()
		return MoveResult{}, ErrSessionBusy
	}
	sess.busy = true
	fen := sess.FEN
	difficulty := sess.Difficulty
	hints := sess.Hints
	s.mu.Unlock()

	res, history, err := s.play(ctx, fen, difficulty, hints, uci)

	s.mu.Lock()
	sess.busy = false
	if err == nil {
		sess.FEN = res.FEN
		sess.History = append(sess.History, history...)
		sess.Done = res.Done
		sess.Outcome = res.Outcome
		sess.Winner = res.Winner
	}
	s.mu.Unlock()
	return res, err
}

// play runs one full exchange against the position in fen.
func (s *Sessions) play(ctx context.Context, fen string, difficulty int, hints Hints, uci string) (MoveResult, []string, error) {
	pos, err := chess.ParseFEN(fen)
	if err != nil {
		return MoveResult{}, nil, err
	}
	mv, err := chess.ParseUCIMove(pos, uci)
	if err != nil {
		return MoveResult{}, nil, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	if err := pgn.ApplyMove(pos, mv); err != nil {
		return MoveResult{}, nil, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	history := []string{uci}

	if done, outcome, winner := terminal(pos, chess.White); done {
		return MoveResult{FEN: pos.ToFEN(), Done: true, Outcome: outcome, Winner: winner}, history, nil
	}

	sel, err := s.policy.ChooseMove(ctx, pos.ToFEN(), difficulty, hints, s.rng)
	if err != nil {
		return MoveResult{}, nil, fmt.Errorf("engine reply: %w", err)
	}
	reply, err := chess.ParseUCIMove(pos, sel.Move)
	if err != nil {
		return MoveResult{}, nil, fmt.Errorf("engine reply %s: %w", sel.Move, err)
	}
	if err := pgn.ApplyMove(pos, reply); err != nil {
		return MoveResult{}, nil, fmt.Errorf("engine reply %s: %w", sel.Move, err)
	}
	history = append(history, sel.Move)

	res := MoveResult{Reply: sel.Move, FEN: pos.ToFEN()}
	if done, outcome, winner := terminal(pos, chess.Black); done {
		res.Done = true
		res.Outcome = outcome
		res.Winner = winner
	}
	return res, history, nil
}

// terminal checks for game over after mover's move. Winner is set only on
// checkmate.
func terminal(pos *pgn.GameState, mover chess.Side) (bool, string, chess.Side) {
	if len(pgn.GenerateLegalMoves(pos)) > 0 {
		return false, "", ""
	}
	if pos.IsInCheck() {
		return true, OutcomeCheckmate, mover
	}
	return true, OutcomeStalemate, ""
}
