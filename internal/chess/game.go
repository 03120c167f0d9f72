package chess

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// Side is the color of the player making a move.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

func (s Side) Other() Side {
	if s == White {
		return Black
	}
	return White
}

// Ply is a single half-move of a parsed game, with the positions on
// either side of it. Immutable once parsed.
type Ply struct {
	Number    int // 1-based
	Side      Side
	SAN       string
	UCI       string
	FENBefore string
	FENAfter  string
	KeyBefore pgn.PackedPosition
	KeyAfter  pgn.PackedPosition
}

// Game is an imported game: metadata plus the ordered ply sequence.
// Analysis attaches to a game by ID; the move text is never mutated.
type Game struct {
	ID          string
	Owner       string
	Tags        map[string]string
	ECO         string
	Opening     string
	Result      string
	TimeControl string
	White       string
	Black       string
	Plies       []Ply
}

// StartFEN is the FEN of the initial chess position.
var StartFEN = pgn.NewStartingPosition().ToFEN()

var (
	tagRegex        = regexp.MustCompile(`\[(\w+)\s+"([^"]*)"\]`)
	moveNumberRegex = regexp.MustCompile(`\d+\.+`)
)

// ParseGame parses a single game out of PGN text and replays it into a ply
// sequence. Malformed move text is rejected with an error before any
// analysis work can be scheduled against the game.
func ParseGame(text string) (*Game, error) {
	g := &Game{Tags: map[string]string{}}

	var movetext strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := tagRegex.FindStringSubmatch(trimmed); m != nil && strings.HasPrefix(trimmed, "[") {
			g.Tags[m[1]] = m[2]
			continue
		}
		movetext.WriteString(line)
		movetext.WriteString(" ")
	}

	g.Result = g.Tags["Result"]
	g.TimeControl = g.Tags["TimeControl"]
	g.White = g.Tags["White"]
	g.Black = g.Tags["Black"]
	g.ECO = g.Tags["ECO"]
	g.Opening = g.Tags["Opening"]

	sans, err := tokenizeMovetext(movetext.String())
	if err != nil {
		return nil, err
	}
	if len(sans) == 0 {
		return nil, fmt.Errorf("no moves in game")
	}

	pos := pgn.NewStartingPosition()
	for i, san := range sans {
		stripped := strings.TrimSuffix(strings.TrimSuffix(san, "#"), "+")
		mv, err := pgn.ParseSAN(pos, stripped)
		if err != nil {
			return nil, fmt.Errorf("ply %d: parse %q: %w", i+1, san, err)
		}

		side := White
		if i%2 == 1 {
			side = Black
		}
		ply := Ply{
			Number:    i + 1,
			Side:      side,
			SAN:       san,
			UCI:       MoveToUCI(mv),
			FENBefore: pos.ToFEN(),
			KeyBefore: pos.Pack(),
		}

		if err := pgn.ApplyMove(pos, mv); err != nil {
			return nil, fmt.Errorf("ply %d: apply %q: %w", i+1, san, err)
		}
		ply.FENAfter = pos.ToFEN()
		ply.KeyAfter = pos.Pack()
		g.Plies = append(g.Plies, ply)
	}

	return g, nil
}

// tokenizeMovetext strips comments, variations, NAGs, move numbers, and
// result markers, returning the bare SAN tokens in order.
func tokenizeMovetext(text string) ([]string, error) {
	var b strings.Builder
	braceDepth, parenDepth := 0, 0
	for _, r := range text {
		switch {
		case r == '{':
			braceDepth++
		case r == '}':
			if braceDepth == 0 {
				return nil, fmt.Errorf("unbalanced comment braces")
			}
			braceDepth--
		case r == '(' && braceDepth == 0:
			parenDepth++
		case r == ')' && braceDepth == 0:
			if parenDepth == 0 {
				return nil, fmt.Errorf("unbalanced variation parens")
			}
			parenDepth--
		case braceDepth == 0 && parenDepth == 0:
			b.WriteRune(r)
		}
	}
	if braceDepth != 0 || parenDepth != 0 {
		return nil, fmt.Errorf("unterminated comment or variation")
	}

	cleaned := moveNumberRegex.ReplaceAllString(b.String(), " ")
	var sans []string
	for _, tok := range strings.Fields(cleaned) {
		switch {
		case tok == "1-0" || tok == "0-1" || tok == "1/2-1/2" || tok == "*":
		case strings.HasPrefix(tok, "$"):
		default:
			sans = append(sans, tok)
		}
	}
	return sans, nil
}

// NormalizedKey returns the canonical dedupe key for a position. Packed
// positions already fold move counters away, so two paths into the same
// position collide, which is what puzzle dedupe wants.
func NormalizedKey(fen string) (string, error) {
	key, err := pgn.PackedPositionFromFEN(fen)
	if err != nil {
		return "", fmt.Errorf("pack %q: %w", fen, err)
	}
	return key, nil
}

// ParseFEN turns a FEN string into a playable GameState.
func ParseFEN(fen string) (*pgn.GameState, error) {
	key, err := pgn.PackedPositionFromFEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	packed, err := pgn.ParsePackedPosition(key)
	if err != nil {
		return nil, fmt.Errorf("parse position key: %w", err)
	}
	pos := packed.Unpack()
	if pos == nil {
		return nil, fmt.Errorf("unpack position for %q", fen)
	}
	return pos, nil
}

// SideToMove reports which color moves next in fen.
func SideToMove(fen string) Side {
	if strings.Contains(fen, " b ") {
		return Black
	}
	return White
}
