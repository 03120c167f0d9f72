package refindex

import (
	"path/filepath"
	"testing"

	"github.com/blunderlab/coach/internal/chess"
)

var fenStart = chess.StartFEN

const (
	fenAfterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	fenOpen    = "r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3"
	fenEndgame = "8/5k2/8/8/8/3K4/4P3/8 w - - 0 50"
)

func TestEncodeLayout(t *testing.T) {
	f, err := Encode(fenStart)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Vec) != Dims {
		t.Fatalf("dims: got %d, want %d", len(f.Vec), Dims)
	}
	if f.Vec[0] != 8 || f.Vec[5] != 8 { // pawns
		t.Errorf("pawn counts: %v %v", f.Vec[0], f.Vec[5])
	}
	if f.Vec[4] != 1 || f.Vec[9] != 1 { // queens
		t.Errorf("queen counts: %v %v", f.Vec[4], f.Vec[9])
	}
	for file := 0; file < 8; file++ {
		if f.Vec[10+file] != 0 { // balanced pawn files
			t.Errorf("file %d balance: %v", file, f.Vec[10+file])
		}
	}
	if f.Vec[22] != 1 {
		t.Error("side to move should be White")
	}
	if f.Vec[23] != 1 {
		t.Errorf("castling: got %v, want 1", f.Vec[23])
	}

	g, err := Encode(fenAfterE4)
	if err != nil {
		t.Fatal(err)
	}
	if g.Vec[22] != 0 {
		t.Error("side to move should be Black")
	}
	if f.PawnSig == g.PawnSig {
		t.Error("different pawn structures share a signature")
	}
	if f.MatSig != g.MatSig {
		t.Error("equal material should share a signature")
	}
}

func TestEncodeRejectsMalformed(t *testing.T) {
	if _, err := Encode("not a fen"); err == nil {
		t.Error("expected error")
	}
}

func seedIndex(t *testing.T, strat Strategy) *Index {
	t.Helper()
	ix := New(strat)
	for i, fen := range []string{fenStart, fenAfterE4, fenOpen, fenEndgame} {
		key, err := chess.NormalizedKey(fen)
		if err != nil {
			t.Fatal(err)
		}
		err = ix.Add(Entry{
			Key: key, FEN: fen, Move: "e2e4",
			White: "Carlsen", Black: "Caruana", Result: "1-0", Elo: 2800 + i,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return ix
}

func TestNeighborsOrdering(t *testing.T) {
	for name, strat := range map[string]Strategy{"flat": NewFlat(), "bucketed": NewBucketed()} {
		t.Run(name, func(t *testing.T) {
			ix := seedIndex(t, strat)

			matches, err := ix.Neighbors(fenStart, 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(matches) == 0 {
				t.Fatal("no matches")
			}
			if matches[0].FEN != fenStart || matches[0].Similarity != 1 {
				t.Errorf("self match first: %+v", matches[0])
			}
			for i := 1; i < len(matches); i++ {
				if matches[i].Similarity > matches[i-1].Similarity {
					t.Errorf("similarity not descending at %d", i)
				}
			}
		})
	}
}

func TestNeighborsShortListOnSmallCorpus(t *testing.T) {
	ix := seedIndex(t, NewFlat())
	matches, err := ix.Neighbors(fenStart, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != ix.Len() {
		t.Errorf("got %d matches, want the whole corpus (%d)", len(matches), ix.Len())
	}

	matches, err = ix.Neighbors(fenStart, 0)
	if err != nil {
		t.Fatal(err)
	}
	if matches != nil {
		t.Errorf("k=0: got %v", matches)
	}
}

func TestNeighborsDeterministicTieBreak(t *testing.T) {
	ix := New(NewFlat())
	// Same position under two keys: identical vectors, tie broken by key.
	for _, key := range []string{"b-key", "a-key"} {
		if err := ix.Add(Entry{Key: key, FEN: fenOpen, Move: "d2d4"}); err != nil {
			t.Fatal(err)
		}
	}
	first, err := ix.Neighbors(fenOpen, 2)
	if err != nil {
		t.Fatal(err)
	}
	if first[0].Key != "a-key" || first[1].Key != "b-key" {
		t.Errorf("tie break unstable: %s, %s", first[0].Key, first[1].Key)
	}
	second, _ := ix.Neighbors(fenOpen, 2)
	if second[0].Key != first[0].Key {
		t.Error("repeated query reordered results")
	}
}

func TestBucketedFallsBackOnMaterial(t *testing.T) {
	ix := New(NewBucketed())
	// Same material as fenOpen but a different pawn structure, so the
	// pawn bucket misses and the material bucket must serve.
	shifted := "r1bqkbnr/1ppp1ppp/p1n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 0 4"
	key, err := chess.NormalizedKey(shifted)
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.Add(Entry{Key: key, FEN: shifted, Move: "d2d4"}); err != nil {
		t.Fatal(err)
	}

	matches, err := ix.Neighbors(fenOpen, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].FEN != shifted {
		t.Errorf("material fallback failed: %+v", matches)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	entries := []Entry{
		{Key: "k1", FEN: fenStart, Move: "e2e4", White: "A", Black: "B", Result: "1-0", Elo: 2500},
		{Key: "k2", FEN: fenAfterE4, Move: "e7e5", White: "A", Black: "B", Result: "1-0", Elo: 2500},
	}
	path := filepath.Join(t.TempDir(), "corpus.snap.zst")
	if err := WriteSnapshot(path, entries); err != nil {
		t.Fatal(err)
	}

	ix := New(NewFlat())
	n, err := LoadSnapshot(path, ix)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || ix.Len() != 2 {
		t.Errorf("loaded %d entries, index has %d", n, ix.Len())
	}
	matches, err := ix.Neighbors(fenStart, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Key != "k1" {
		t.Errorf("post-load query: %+v", matches)
	}
}

func TestIsPGNFile(t *testing.T) {
	cases := map[string]bool{
		"games.pgn":     true,
		"games.pgn.zst": true,
		"games.zst":     false,
		"games.txt":     false,
		"pgn":           false,
	}
	for name, want := range cases {
		if got := IsPGNFile(name); got != want {
			t.Errorf("IsPGNFile(%q) = %v, want %v", name, got, want)
		}
	}
}
