// Package chess holds the game model shared by the analysis pipeline:
// parsed games, per-ply positions, and notation conversion on top of the
// pgn/v3 board.
package chess

import (
	"fmt"

	"github.com/freeeve/pgn/v3"
)

const files = "abcdefgh"
const ranks = "12345678"

// MoveToUCI converts a move to UCI notation (e.g. "e2e4", "e7e8q").
func MoveToUCI(mv pgn.Mv) string {
	uci := string(files[mv.From%8]) + string(ranks[mv.From/8]) +
		string(files[mv.To%8]) + string(ranks[mv.To/8])

	switch mv.Promo {
	case pgn.PromoQueen:
		uci += "q"
	case pgn.PromoRook:
		uci += "r"
	case pgn.PromoBishop:
		uci += "b"
	case pgn.PromoKnight:
		uci += "n"
	}
	return uci
}

// ParseUCIMove resolves a UCI move string against the legal moves of pos.
// Returns an error for malformed input or a move that is not legal in pos,
// so callers get legality checking for free.
func ParseUCIMove(pos *pgn.GameState, uci string) (pgn.Mv, error) {
	if len(uci) < 4 || len(uci) > 5 {
		return pgn.Mv{}, fmt.Errorf("malformed uci move %q", uci)
	}
	fromFile := int(uci[0] - 'a')
	fromRank := int(uci[1] - '1')
	toFile := int(uci[2] - 'a')
	toRank := int(uci[3] - '1')
	if fromFile < 0 || fromFile > 7 || fromRank < 0 || fromRank > 7 ||
		toFile < 0 || toFile > 7 || toRank < 0 || toRank > 7 {
		return pgn.Mv{}, fmt.Errorf("malformed uci move %q", uci)
	}
	from := pgn.Square(fromRank*8 + fromFile)
	to := pgn.Square(toRank*8 + toFile)

	var promo pgn.PromoPiece
	if len(uci) == 5 {
		switch uci[4] {
		case 'q':
			promo = pgn.PromoQueen
		case 'r':
			promo = pgn.PromoRook
		case 'b':
			promo = pgn.PromoBishop
		case 'n':
			promo = pgn.PromoKnight
		default:
			return pgn.Mv{}, fmt.Errorf("invalid promotion piece in %q", uci)
		}
	}

	for _, mv := range pgn.GenerateLegalMoves(pos) {
		if mv.From == from && mv.To == to && mv.Promo == promo {
			return mv, nil
		}
	}
	return pgn.Mv{}, fmt.Errorf("illegal move %q", uci)
}

// MoveToSAN converts a move to SAN notation for the given position.
func MoveToSAN(pos *pgn.GameState, mv pgn.Mv) string {
	// Castling
	if mv.Flags == 4 {
		san := "O-O"
		if mv.To < mv.From {
			san = "O-O-O"
		}
		return san + checkSuffix(pos, mv)
	}

	fromSq := int(mv.From)
	toSq := int(mv.To)
	fromFile := fromSq % 8
	toFile := toSq % 8
	toRank := toSq / 8

	piece := pos.PieceAt(mv.From)
	isPawn := piece == 'P' || piece == 'p'
	isCapture := pos.PieceAt(mv.To) != 0 || (isPawn && mv.Flags == 2)

	var san string
	if isPawn {
		if isCapture {
			san = string(files[fromFile]) + "x" + string(files[toFile]) + string(ranks[toRank])
		} else {
			san = string(files[toFile]) + string(ranks[toRank])
		}
		switch mv.Promo {
		case pgn.PromoQueen:
			san += "=Q"
		case pgn.PromoRook:
			san += "=R"
		case pgn.PromoBishop:
			san += "=B"
		case pgn.PromoKnight:
			san += "=N"
		}
	} else {
		pieceChar := piece
		if piece >= 'a' && piece <= 'z' {
			pieceChar = piece - 32
		}
		san = string(pieceChar) + disambiguation(pos, mv, pieceChar)
		if isCapture {
			san += "x"
		}
		san += string(files[toFile]) + string(ranks[toRank])
	}

	return san + checkSuffix(pos, mv)
}

func disambiguation(pos *pgn.GameState, mv pgn.Mv, pieceChar byte) string {
	fromSq := int(mv.From)
	fromFile := fromSq % 8
	fromRank := fromSq / 8

	for _, other := range pgn.GenerateLegalMoves(pos) {
		if other.To != mv.To || other.From == mv.From {
			continue
		}
		otherPiece := pos.PieceAt(other.From)
		if otherPiece >= 'a' && otherPiece <= 'z' {
			otherPiece -= 32
		}
		if otherPiece != pieceChar {
			continue
		}
		otherFile := int(other.From) % 8
		otherRank := int(other.From) / 8
		if fromFile != otherFile {
			return string(files[fromFile])
		}
		if fromRank != otherRank {
			return string(ranks[fromRank])
		}
		return string(files[fromFile]) + string(ranks[fromRank])
	}
	return ""
}

func checkSuffix(pos *pgn.GameState, mv pgn.Mv) string {
	after := pos.Pack().Unpack()
	if after == nil {
		return ""
	}
	if err := pgn.ApplyMove(after, mv); err != nil {
		return ""
	}
	if !after.IsInCheck() {
		return ""
	}
	if len(pgn.GenerateLegalMoves(after)) == 0 {
		return "#"
	}
	return "+"
}
