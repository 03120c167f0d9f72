package puzzle

import (
	"github.com/freeeve/pgn/v3"

	"github.com/blunderlab/coach/internal/chess"
)

// Motif names. Classification is a light inspection of the first solution
// move and the positions around it, not a full tactical proof.
const (
	MotifMate     = "mate"
	MotifBackRank = "back_rank"
	MotifFork     = "fork"
	MotifPin      = "pin"
	MotifSkewer   = "skewer"
	MotifCheck    = "check"
	MotifCapture  = "capture"
	MotifOther    = "other"
)

// classifyMotif tags a solution line. anchor is the position to solve,
// after1 the position once the first solution move is played, final the
// position at the end of the line.
func classifyMotif(anchor, after1, final *pgn.GameState, firstMove pgn.Mv) string {
	if final.IsInCheck() && len(pgn.GenerateLegalMoves(final)) == 0 {
		if onBackRank(final) {
			return MotifBackRank
		}
		return MotifMate
	}
	if forks(after1, firstMove.To) {
		return MotifFork
	}
	if m := lineMotif(after1, firstMove.To); m != "" {
		return m
	}
	if after1.IsInCheck() {
		return MotifCheck
	}
	if anchor.PieceAt(firstMove.To) != 0 || firstMove.Flags == 2 {
		return MotifCapture
	}
	return MotifOther
}

// onBackRank reports whether the mated king sits on its own first rank.
func onBackRank(final *pgn.GameState) bool {
	mated := byte('K')
	rank := pgn.Square(0)
	if chess.SideToMove(final.ToFEN()) == chess.Black {
		mated = 'k'
		rank = 7
	}
	for file := pgn.Square(0); file < 8; file++ {
		if final.PieceAt(rank*8+file) == mated {
			return true
		}
	}
	return false
}

// forks reports whether the piece on sq attacks two or more enemy pieces
// worth more than a pawn (the king counts).
func forks(pos *pgn.GameState, sq pgn.Square) bool {
	piece := pos.PieceAt(sq)
	if piece == 0 {
		return false
	}
	white := piece >= 'A' && piece <= 'Z'
	targets := 0
	for _, t := range attackedSquares(pos, sq) {
		victim := pos.PieceAt(t)
		if victim == 0 {
			continue
		}
		victimWhite := victim >= 'A' && victim <= 'Z'
		if victimWhite == white {
			continue
		}
		switch victim {
		case 'N', 'B', 'R', 'Q', 'K', 'n', 'b', 'r', 'q', 'k':
			targets++
		}
	}
	return targets >= 2
}

var pieceWorth = map[byte]int{
	'P': 1, 'N': 3, 'B': 3, 'R': 5, 'Q': 9, 'K': 100,
	'p': 1, 'n': 3, 'b': 3, 'r': 5, 'q': 9, 'k': 100,
}

// lineMotif looks for a pin or skewer created by the slider on sq: two
// enemy pieces on one ray with a rook, queen, or king behind. Front piece
// worth less than the one behind it is a pin; worth more, a skewer.
// Returns "" when neither pattern is there.
func lineMotif(pos *pgn.GameState, sq pgn.Square) string {
	piece := pos.PieceAt(sq)
	var dirs [][2]int
	switch piece {
	case 'B', 'b':
		dirs = bishopDirs[:]
	case 'R', 'r':
		dirs = rookDirs[:]
	case 'Q', 'q':
		dirs = append(bishopDirs[:], rookDirs[:]...)
	default:
		return ""
	}
	white := piece >= 'A' && piece <= 'Z'
	rank := int(sq / 8)
	file := int(sq % 8)

	for _, d := range dirs {
		var front, back byte
		r, f := rank+d[0], file+d[1]
		for r >= 0 && r < 8 && f >= 0 && f < 8 {
			p := pos.PieceAt(pgn.Square(r*8 + f))
			if p != 0 {
				if front == 0 {
					front = p
				} else {
					back = p
					break
				}
			}
			r += d[0]
			f += d[1]
		}
		if front == 0 || back == 0 {
			continue
		}
		frontWhite := front >= 'A' && front <= 'Z'
		backWhite := back >= 'A' && back <= 'Z'
		if frontWhite == white || backWhite == white {
			continue
		}
		if pieceWorth[back] < 5 {
			continue
		}
		if pieceWorth[front] < pieceWorth[back] {
			return MotifPin
		}
		if pieceWorth[front] > pieceWorth[back] {
			return MotifSkewer
		}
	}
	return ""
}

var knightOffsets = [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
var kingOffsets = [8][2]int{{0, 1}, {1, 1}, {1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}}
var bishopDirs = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
var rookDirs = [4][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}}

// attackedSquares enumerates the squares the piece on sq attacks, by
// geometry alone. Pins and legality do not matter for motif tagging.
func attackedSquares(pos *pgn.GameState, sq pgn.Square) []pgn.Square {
	piece := pos.PieceAt(sq)
	rank := int(sq / 8)
	file := int(sq % 8)

	var out []pgn.Square
	step := func(dr, df int) {
		r, f := rank+dr, file+df
		if r >= 0 && r < 8 && f >= 0 && f < 8 {
			out = append(out, pgn.Square(r*8+f))
		}
	}
	slide := func(dirs [4][2]int) {
		for _, d := range dirs {
			r, f := rank+d[0], file+d[1]
			for r >= 0 && r < 8 && f >= 0 && f < 8 {
				t := pgn.Square(r*8 + f)
				out = append(out, t)
				if pos.PieceAt(t) != 0 {
					break
				}
				r += d[0]
				f += d[1]
			}
		}
	}

	switch piece {
	case 'P':
		step(1, -1)
		step(1, 1)
	case 'p':
		step(-1, -1)
		step(-1, 1)
	case 'N', 'n':
		for _, o := range knightOffsets {
			step(o[0], o[1])
		}
	case 'K', 'k':
		for _, o := range kingOffsets {
			step(o[0], o[1])
		}
	case 'B', 'b':
		slide(bishopDirs)
	case 'R', 'r':
		slide(rookDirs)
	case 'Q', 'q':
		slide(bishopDirs)
		slide(rookDirs)
	}
	return out
}
