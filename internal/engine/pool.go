package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/freeeve/pgn/v3"
	"github.com/freeeve/uci"
	"github.com/rs/zerolog"

	"github.com/blunderlab/coach/internal/chess"
)

// PoolConfig configures the engine process pool.
type PoolConfig struct {
	EnginePath string
	Logger     zerolog.Logger
	Size       int           // number of long-lived engine processes
	HashMB     int           // hash table size per process
	Threads    int           // search threads per process
	Depth      int           // default search depth when Limits.Depth is zero
	Budget     time.Duration // per-request wall clock budget
	Grace      time.Duration // margin past budget before the process is killed
	Retries    int           // in-flight request retries before surfacing failure
}

// Pool owns a fixed set of engine processes. A process serves one request
// at a time; checkout/checkin through a buffered channel bounds parallelism
// and keeps process state (loaded position) single-owner.
type Pool struct {
	cfg   PoolConfig
	log   zerolog.Logger
	slots chan *proc

	evaluated int64
	timeouts  int64
	respawns  int64
}

type proc struct {
	id  int
	eng *uci.Engine
}

// NewPool starts the engine processes. It fails with ErrUnavailable when
// not a single process can be started; a partial pool starts with a warning.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.EnginePath == "" {
		return nil, fmt.Errorf("%w: engine path required", ErrUnavailable)
	}
	if cfg.Size == 0 {
		cfg.Size = 2
	}
	if cfg.HashMB == 0 {
		cfg.HashMB = 128
	}
	if cfg.Threads == 0 {
		cfg.Threads = 1
	}
	if cfg.Depth == 0 {
		cfg.Depth = 18
	}
	if cfg.Budget == 0 {
		cfg.Budget = 30 * time.Second
	}
	if cfg.Grace == 0 {
		cfg.Grace = 2 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 2
	}

	p := &Pool{
		cfg:  cfg,
		log:  cfg.Logger,
		slots: make(chan *proc, cfg.Size),
	}

	started := 0
	for i := 0; i < cfg.Size; i++ {
		pr, err := p.spawn(i)
		if err != nil {
			p.log.Warn().Err(err).Int("slot", i).Msg("engine process failed to start")
			continue
		}
		p.slots <- pr
		started++
	}
	if started == 0 {
		return nil, fmt.Errorf("%w: could not start %q", ErrUnavailable, cfg.EnginePath)
	}
	if started < cfg.Size {
		p.log.Warn().Int("started", started).Int("want", cfg.Size).Msg("engine pool started degraded")
	} else {
		p.log.Info().Int("processes", started).Str("engine", cfg.EnginePath).Msg("engine pool started")
	}
	return p, nil
}

// Capacity is the number of requests the pool can serve concurrently.
func (p *Pool) Capacity() int { return cap(p.slots) }

// Close tears down all engine processes.
func (p *Pool) Close() {
	for {
		select {
		case pr := <-p.slots:
			pr.eng.Close()
		default:
			return
		}
	}
}

func (p *Pool) spawn(id int) (*proc, error) {
	eng, err := uci.NewEngine(p.cfg.EnginePath)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	opts := uci.Options{
		Hash:    p.cfg.HashMB,
		Threads: p.cfg.Threads,
		MultiPV: 1,
		Ponder:  false,
		OwnBook: false,
	}
	if err := eng.SetOptions(opts); err != nil {
		eng.Close()
		return nil, fmt.Errorf("set options: %w", err)
	}
	return &proc{id: id, eng: eng}, nil
}

func (p *Pool) checkout(ctx context.Context) (*proc, error) {
	select {
	case pr := <-p.slots:
		return pr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) checkin(pr *proc) {
	p.slots <- pr
}

// replace kills a misbehaving process and puts a fresh one in its slot.
// The slot goes back into rotation even if respawn fails, so a transient
// exec failure does not shrink the pool forever.
func (p *Pool) replace(pr *proc) {
	pr.eng.Close()
	atomic.AddInt64(&p.respawns, 1)
	fresh, err := p.spawn(pr.id)
	if err != nil {
		p.log.Error().Err(err).Int("slot", pr.id).Msg("engine respawn failed, retrying on next checkout")
		go p.respawnLater(pr.id)
		return
	}
	p.slots <- fresh
}

func (p *Pool) respawnLater(id int) {
	for attempt := 0; attempt < 5; attempt++ {
		time.Sleep(time.Second << attempt)
		fresh, err := p.spawn(id)
		if err == nil {
			p.slots <- fresh
			p.log.Info().Int("slot", id).Msg("engine process recovered")
			return
		}
	}
	p.log.Error().Int("slot", id).Msg("engine slot permanently lost")
}

type goResult struct {
	results *uci.Results
	err     error
}

// Evaluate runs the engine on one position and normalizes the result to
// White's perspective. A request that overruns budget plus grace kills the
// process, counts as a timeout, and is retried a bounded number of times
// on a fresh process before failure surfaces to the caller.
func (p *Pool) Evaluate(ctx context.Context, fen string, limits Limits) (Evaluation, error) {
	var ev Evaluation
	err := retry.Do(
		func() error {
			var err error
			ev, err = p.evaluateOnce(ctx, fen, limits)
			return err
		},
		retry.Attempts(uint(p.cfg.Retries+1)),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.log.Warn().Err(err).Uint("attempt", n).Str("fen", fen).Msg("engine request retrying")
		}),
	)
	return ev, err
}

func (p *Pool) evaluateOnce(ctx context.Context, fen string, limits Limits) (Evaluation, error) {
	pr, err := p.checkout(ctx)
	if err != nil {
		return Evaluation{}, err
	}

	if err := pr.eng.SetFEN(fen); err != nil {
		p.replace(pr)
		return Evaluation{}, fmt.Errorf("set fen: %w", err)
	}

	budget := p.cfg.Budget
	if limits.MoveTime > 0 && limits.MoveTime < budget {
		budget = limits.MoveTime
	}
	depth := limits.Depth
	if depth == 0 {
		depth = p.cfg.Depth
	}

	resCh := make(chan goResult, 1)
	go func() {
		var r *uci.Results
		var err error
		if limits.MoveTime > 0 {
			r, err = pr.eng.Go(0, "", int64(limits.MoveTime/time.Millisecond), uci.HighestDepthOnly)
		} else {
			r, err = pr.eng.GoDepth(depth, uci.HighestDepthOnly)
		}
		resCh <- goResult{results: r, err: err}
	}()

	watchdog := time.NewTimer(budget + p.cfg.Grace)
	defer watchdog.Stop()

	select {
	case res := <-resCh:
		if res.err != nil {
			// Protocol desync or crash: the process is suspect.
			p.replace(pr)
			return Evaluation{}, fmt.Errorf("engine search: %w", res.err)
		}
		p.checkin(pr)
		atomic.AddInt64(&p.evaluated, 1)
		return normalize(fen, res.results)

	case <-watchdog.C:
		atomic.AddInt64(&p.timeouts, 1)
		p.replace(pr) // closing unblocks the reader goroutine
		<-resCh
		return Evaluation{}, fmt.Errorf("%w after %s", ErrTimeout, budget+p.cfg.Grace)

	case <-ctx.Done():
		p.replace(pr)
		<-resCh
		return Evaluation{}, ctx.Err()
	}
}

// normalize converts raw engine output (side-to-move perspective) into a
// White-positive Evaluation.
func normalize(fen string, results *uci.Results) (Evaluation, error) {
	if results == nil || len(results.Results) == 0 {
		return Evaluation{}, fmt.Errorf("no results from engine")
	}
	best := results.Results[0]
	for _, r := range results.Results {
		if r.Depth > best.Depth {
			best = r
		}
	}

	score := best.Score
	if chess.SideToMove(fen) == chess.Black {
		score = -score
	}

	ev := Evaluation{Depth: best.Depth, PV: best.BestMoves}
	if best.Mate {
		ev.HasMate = true
		ev.Mate = score
	} else {
		ev.CP = score
	}
	if len(best.BestMoves) > 0 {
		ev.BestMove = best.BestMoves[0]
	} else if results.BestMove != "" {
		ev.BestMove = results.BestMove
		ev.PV = []string{results.BestMove}
	}
	if ev.BestMove == "" {
		return Evaluation{}, fmt.Errorf("engine returned no best move")
	}
	return ev, nil
}

// BestMoves ranks the legal moves of a position by evaluating each child
// position, the same way the browse tree ranks continuations: the score of
// a move is the negated score of the position it hands the opponent.
// Results are mover-perspective, best first, at most n entries.
func (p *Pool) BestMoves(ctx context.Context, fen string, n int, limits Limits) ([]Candidate, error) {
	pos, err := chess.ParseFEN(fen)
	if err != nil {
		return nil, err
	}
	moves := pgn.GenerateLegalMoves(pos)
	if len(moves) == 0 {
		return nil, fmt.Errorf("no legal moves in %q", fen)
	}

	mover := chess.SideToMove(fen)
	cands := make([]Candidate, 0, len(moves))
	for _, mv := range moves {
		child := pos.Pack().Unpack()
		if child == nil {
			continue
		}
		if err := pgn.ApplyMove(child, mv); err != nil {
			continue
		}
		childFEN := child.ToFEN()

		cand := Candidate{Move: chess.MoveToUCI(mv)}
		if len(pgn.GenerateLegalMoves(child)) == 0 {
			if child.IsInCheck() {
				cand.HasMate = true
				cand.Mate = 0 // delivered mate
			}
			// Stalemate scores 0.
			cands = append(cands, cand)
			continue
		}

		ev, err := p.Evaluate(ctx, childFEN, limits)
		if err != nil {
			return nil, fmt.Errorf("evaluate child %s: %w", cand.Move, err)
		}
		// Flip White-positive back to the mover's perspective.
		if ev.HasMate {
			cand.HasMate = true
			cand.Mate = ev.Mate
			if mover == chess.Black {
				cand.Mate = -cand.Mate
			}
		} else {
			cand.CP = ev.CP
			if mover == chess.Black {
				cand.CP = -cand.CP
			}
		}
		cands = append(cands, cand)
	}

	sortCandidates(cands)
	if n > 0 && len(cands) > n {
		cands = cands[:n]
	}
	return cands, nil
}

// Value is the comparable mover-perspective score of a candidate.
func (c Candidate) Value() int {
	if c.HasMate {
		if c.Mate == 0 {
			return MateCP(1) // mate delivered by this move
		}
		return MateCP(c.Mate)
	}
	return c.CP
}

func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Value() != cands[j].Value() {
			return cands[i].Value() > cands[j].Value()
		}
		return strings.Compare(cands[i].Move, cands[j].Move) < 0
	})
}

// Stats returns coarse pool counters.
func (p *Pool) Stats() (evaluated, timeouts, respawns int64) {
	return atomic.LoadInt64(&p.evaluated),
		atomic.LoadInt64(&p.timeouts),
		atomic.LoadInt64(&p.respawns)
}
