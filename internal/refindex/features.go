// Package refindex answers "what did strong humans do here": it encodes
// positions into fixed-size feature vectors and finds the nearest reference
// positions in a corpus built from master games.
package refindex

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash"
)

// Dims is the feature vector size. Layout:
//
//	0..9   piece counts: P N B R Q for White, then Black
//	10..17 per-file pawn balance, White minus Black
//	18..21 king placement: White file, rank, Black file, rank (0..1)
//	22     side to move (1 White, 0 Black)
//	23     castling rights remaining (0..1)
const Dims = 24

// Features is the encoded form of a position used for similarity search.
// PawnSig hashes the exact pawn placement; MatSig hashes the piece counts.
// Both serve as bucket keys for the approximate strategy.
type Features struct {
	Vec     []float64
	PawnSig uint64
	MatSig  uint64
}

var countIdx = map[byte]int{
	'P': 0, 'N': 1, 'B': 2, 'R': 3, 'Q': 4,
	'p': 5, 'n': 6, 'b': 7, 'r': 8, 'q': 9,
}

// Encode builds the feature vector for a FEN. Only the board, side to move,
// and castling fields matter; two positions differing in move counters
// encode identically.
func Encode(fen string) (Features, error) {
	fields := strings.Fields(fen)
	if len(fields) < 3 {
		return Features{}, fmt.Errorf("malformed fen %q", fen)
	}
	board, side, castling := fields[0], fields[1], fields[2]

	vec := make([]float64, Dims)
	var pawns [64]byte
	var counts [10]byte

	rank := 7
	file := 0
	for i := 0; i < len(board); i++ {
		c := board[i]
		switch {
		case c == '/':
			rank--
			file = 0
		case c >= '1' && c <= '8':
			file += int(c - '0')
		default:
			sq := rank*8 + file
			if idx, ok := countIdx[c]; ok {
				vec[idx]++
				counts[idx]++
			}
			switch c {
			case 'P':
				vec[10+file]++
				pawns[sq] = 'P'
			case 'p':
				vec[10+file]--
				pawns[sq] = 'p'
			case 'K':
				vec[18] = float64(file) / 7
				vec[19] = float64(rank) / 7
			case 'k':
				vec[20] = float64(file) / 7
				vec[21] = float64(rank) / 7
			}
			file++
		}
	}

	if side == "w" {
		vec[22] = 1
	}
	if castling != "-" {
		vec[23] = float64(len(castling)) / 4
	}

	return Features{
		Vec:     vec,
		PawnSig: xxhash.Sum64(pawns[:]),
		MatSig:  xxhash.Sum64(counts[:]),
	}, nil
}
