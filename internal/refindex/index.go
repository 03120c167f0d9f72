package refindex

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Entry is one reference position with enough metadata to show the player
// where strong humans went from here.
type Entry struct {
	Key    string `json:"key"` // normalized position key
	FEN    string `json:"fen"`
	Move   string `json:"move"` // move played from this position, UCI
	White  string `json:"white"`
	Black  string `json:"black"`
	Result string `json:"result"`
	Elo    int    `json:"elo"`
}

// Match is a neighbor with its similarity in (0, 1]; identical feature
// vectors score 1.
type Match struct {
	Entry
	Similarity float64
}

// Strategy is the pluggable lookup behind an Index. Implementations must
// be deterministic: equal corpora and queries give equal results.
type Strategy interface {
	Add(e Entry, f Features)
	Search(q Features, k int) []Match
	Len() int
}

// Index is the similarity search surface. Concurrent readers are fine once
// loading is done; Add and Neighbors may also be interleaved.
type Index struct {
	mu    sync.RWMutex
	strat Strategy
}

// New builds an index over the given strategy. Use NewFlat for small
// corpora, NewBucketed for large ones.
func New(strat Strategy) *Index { return &Index{strat: strat} }

// Add encodes and inserts one reference position.
func (ix *Index) Add(e Entry) error {
	f, err := Encode(e.FEN)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Key, err)
	}
	ix.mu.Lock()
	ix.strat.Add(e, f)
	ix.mu.Unlock()
	return nil
}

// Neighbors returns up to k reference positions most similar to fen,
// sorted by similarity descending. A corpus smaller than k yields a
// shorter list, never an error.
func (ix *Index) Neighbors(fen string, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	q, err := Encode(fen)
	if err != nil {
		return nil, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.strat.Search(q, k), nil
}

// Len reports the corpus size.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.strat.Len()
}

type scored struct {
	e Entry
	f Features
}

func similarity(a, b []float64) float64 {
	return 1 / (1 + floats.Distance(a, b, 2))
}

// rank scores candidates against the query and keeps the top k. Ties are
// broken by key so results are stable across runs.
func rank(cands []scored, q Features, k int) []Match {
	out := make([]Match, 0, len(cands))
	for _, c := range cands {
		out = append(out, Match{Entry: c.e, Similarity: similarity(c.f.Vec, q.Vec)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Flat scans the whole corpus per query. Exact, and fast enough for small
// reference sets.
type Flat struct {
	entries []scored
}

func NewFlat() *Flat { return &Flat{} }

func (f *Flat) Add(e Entry, feat Features) {
	f.entries = append(f.entries, scored{e: e, f: feat})
}

func (f *Flat) Len() int { return len(f.entries) }

func (f *Flat) Search(q Features, k int) []Match {
	return rank(f.entries, q, k)
}

// Bucketed narrows candidates by pawn-structure signature first, widening
// to same-material positions when the pawn bucket is thin. Approximate:
// positions outside both buckets are never considered.
type Bucketed struct {
	pawns    map[uint64][]scored
	material map[uint64][]scored
	size     int
}

func NewBucketed() *Bucketed {
	return &Bucketed{
		pawns:    map[uint64][]scored{},
		material: map[uint64][]scored{},
	}
}

func (b *Bucketed) Add(e Entry, f Features) {
	sc := scored{e: e, f: f}
	b.pawns[f.PawnSig] = append(b.pawns[f.PawnSig], sc)
	b.material[f.MatSig] = append(b.material[f.MatSig], sc)
	b.size++
}

func (b *Bucketed) Len() int { return b.size }

func (b *Bucketed) Search(q Features, k int) []Match {
	bucket := b.pawns[q.PawnSig]
	cands := make([]scored, len(bucket))
	copy(cands, bucket)
	if len(cands) < k {
		seen := make(map[string]bool, len(cands))
		for _, c := range cands {
			seen[c.e.Key] = true
		}
		for _, c := range b.material[q.MatSig] {
			if !seen[c.e.Key] {
				cands = append(cands, c)
			}
		}
	}
	return rank(cands, q, k)
}
