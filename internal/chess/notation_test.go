package chess

import (
	"testing"

	"github.com/freeeve/pgn/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUCIRoundTripFromStart(t *testing.T) {
	pos := pgn.NewStartingPosition()
	for _, mv := range pgn.GenerateLegalMoves(pos) {
		uci := MoveToUCI(mv)
		got, err := ParseUCIMove(pos, uci)
		require.NoError(t, err, uci)
		assert.Equal(t, mv, got, uci)
	}
}

func TestParseUCIMovePromotion(t *testing.T) {
	pos, err := ParseFEN("8/P7/8/8/8/8/k7/4K3 w - - 0 1")
	require.NoError(t, err)

	mv, err := ParseUCIMove(pos, "a7a8q")
	require.NoError(t, err)
	assert.Equal(t, pgn.PromoQueen, mv.Promo)
	assert.Equal(t, "a7a8q", MoveToUCI(mv))

	mv, err = ParseUCIMove(pos, "a7a8n")
	require.NoError(t, err)
	assert.Equal(t, pgn.PromoKnight, mv.Promo)

	// Promotion square without a promotion piece is a different move.
	_, err = ParseUCIMove(pos, "a7a8x")
	assert.Error(t, err)
}

func TestParseUCIMoveRejects(t *testing.T) {
	pos := pgn.NewStartingPosition()
	for _, uci := range []string{"", "e2", "e2e", "e2e4q5", "i2i4", "e2e9", "e2e5", "e7e5"} {
		_, err := ParseUCIMove(pos, uci)
		assert.Error(t, err, uci)
	}
}

func TestMoveToSAN(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		uci  string
		want string
	}{
		{"pawn push", StartFEN, "e2e4", "e4"},
		{"knight", StartFEN, "g1f3", "Nf3"},
		{"pawn capture", "rnbqkbnr/ppp1pppp/8/3p4/4P3/8/PPPP1PPP/RNBQKBNR w KQkq d6 0 2", "e4d5", "exd5"},
		{"file disambiguation", "4k3/8/8/8/8/8/8/N1N1K3 w - - 0 1", "a1b3", "Nab3"},
		{"kingside castle", "r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R3K2R w KQkq - 0 1", "e1g1", "O-O"},
		{"queenside castle", "r3k2r/pppppppp/8/8/8/8/PPPPPPPP/R3K2R w KQkq - 0 1", "e1c1", "O-O-O"},
		{"check", "4k3/8/8/8/8/8/7R/4K3 w - - 0 1", "h2h8", "Rh8+"},
		{"mate", "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1", "a1a8", "Ra8#"},
		{"promotion", "8/P7/8/8/8/8/k7/4K3 w - - 0 1", "a7a8q", "a8=Q+"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pos, err := ParseFEN(tc.fen)
			require.NoError(t, err)
			mv, err := ParseUCIMove(pos, tc.uci)
			require.NoError(t, err)
			assert.Equal(t, tc.want, MoveToSAN(pos, mv))
		})
	}
}
