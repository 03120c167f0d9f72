package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/blunderlab/coach/internal/analysis"
	"github.com/blunderlab/coach/internal/chess"
	"github.com/blunderlab/coach/internal/engine"
	"github.com/blunderlab/coach/internal/jobs"
	"github.com/blunderlab/coach/internal/notify"
	"github.com/blunderlab/coach/internal/puzzle"
	"github.com/blunderlab/coach/internal/refindex"
	"github.com/blunderlab/coach/internal/sparring"
	"github.com/blunderlab/coach/internal/store"
)

const samplePGN = `[Event "test"]
[White "anna"]
[Black "ben"]
[Result "1-0"]

1. e4 e5 2. Bc4 Nc6 3. Qh5 Nf6 4. Qxf7# 1-0`

type testAPI struct {
	srv  *httptest.Server
	st   *store.Memory
	orch *jobs.Orchestrator
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := zerolog.Nop()
	st := store.NewMemory()
	eng := engine.NewStub()

	ev := analysis.NewEvaluator(eng, log, engine.Limits{Depth: 8}, 2)
	runner := jobs.NewAnalysisRunner(st, ev, 8, log)
	orch := jobs.New(st, runner, notify.NewMemorySink(), jobs.Config{Workers: 2})

	ix := refindex.New(refindex.NewFlat())
	sessions := sparring.NewSessions(sparring.NewPolicy(eng, log), sparring.SeededRand(7), log)

	h := NewRouter(log, st, orch, puzzle.NewExtractor(st, log), ix, sessions, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = st.Close() })
	return &testAPI{srv: srv, st: st, orch: orch}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func (a *testAPI) importGame(t *testing.T, owner string) string {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/v1/games", map[string]string{"owner": owner, "pgn": samplePGN})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import: status %d: %s", resp.StatusCode, body)
	}
	var g GameResponse
	if err := json.Unmarshal(body, &g); err != nil {
		t.Fatal(err)
	}
	return g.ID
}

func TestImportGame(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodPost, "/v1/games", map[string]string{"owner": "anna", "pgn": samplePGN})
	is.Equal(resp.StatusCode, http.StatusCreated)

	var g GameResponse
	is.NoErr(json.Unmarshal(body, &g))
	is.Equal(g.Owner, "anna")
	is.Equal(g.White, "anna")
	is.Equal(g.Result, "1-0")
	is.Equal(g.Plies, 7)
	is.True(g.ID != "")

	resp, body = a.do(t, http.MethodGet, "/v1/games?owner=anna", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	var list []GameResponse
	is.NoErr(json.Unmarshal(body, &list))
	is.Equal(len(list), 1)
	is.Equal(list[0].ID, g.ID)
}

func TestImportGameRejectsMalformedPGN(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t)

	for _, pgn := range []string{
		"1. e4 e5 2. Qh9", // no such square
		"1. e4 Ke4",       // illegal move
		"",                // empty
	} {
		resp, _ := a.do(t, http.MethodPost, "/v1/games", map[string]string{"owner": "anna", "pgn": pgn})
		is.Equal(resp.StatusCode, http.StatusBadRequest)
	}

	// Nothing lingers in the store after rejections.
	games, err := a.st.GamesByOwner(t.Context(), "anna")
	is.NoErr(err)
	is.Equal(len(games), 0)
}

func TestAnalysisJobLifecycle(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t)

	id1 := a.importGame(t, "anna")
	id2 := a.importGame(t, "anna")

	resp, body := a.do(t, http.MethodPost, "/v1/analysis/jobs", map[string]any{
		"owner":    "anna",
		"game_ids": []string{id1, id2},
	})
	is.Equal(resp.StatusCode, http.StatusAccepted)

	var job JobResponse
	is.NoErr(json.Unmarshal(body, &job))
	is.Equal(job.Total, 2)
	is.Equal(job.Kind, "analysis")

	a.orch.Wait()

	resp, body = a.do(t, http.MethodGet, "/v1/analysis/jobs/"+job.ID, nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.NoErr(json.Unmarshal(body, &job))
	is.Equal(job.Status, store.JobCompleted)
	is.Equal(job.Processed, 2)
	is.Equal(job.UnitErrors, 0)

	resp, body = a.do(t, http.MethodGet, "/v1/games/"+id1+"/evaluations", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	var evs EvaluationsResponse
	is.NoErr(json.Unmarshal(body, &evs))
	is.Equal(evs.GameID, id1)
	is.Equal(len(evs.Plies), 7)
	for i, p := range evs.Plies {
		is.Equal(p.Ply, i+1)
	}
}

// gatedRunner blocks every unit until release is closed, so a job can be
// held open while concurrent submits are tested.
type gatedRunner struct {
	release chan struct{}
}

func (g *gatedRunner) RunUnit(ctx context.Context, job store.JobRecord, unitID string) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSubmitConflictsWhileJobActive(t *testing.T) {
	is := is.New(t)
	log := zerolog.Nop()
	st := store.NewMemory()
	eng := engine.NewStub()
	runner := &gatedRunner{release: make(chan struct{})}
	orch := jobs.New(st, runner, notify.NewMemorySink(), jobs.Config{Workers: 1})
	sessions := sparring.NewSessions(sparring.NewPolicy(eng, log), sparring.SeededRand(7), log)
	srv := httptest.NewServer(NewRouter(log, st, orch, puzzle.NewExtractor(st, log), nil, sessions, nil))
	defer srv.Close()
	a := &testAPI{srv: srv, st: st, orch: orch}

	id := a.importGame(t, "anna")

	resp, _ := a.do(t, http.MethodPost, "/v1/analysis/jobs", map[string]any{"owner": "anna", "game_ids": []string{id}})
	is.Equal(resp.StatusCode, http.StatusAccepted)

	// The first job is parked inside the runner, so a second submit for
	// the same owner and kind has to bounce.
	resp, _ = a.do(t, http.MethodPost, "/v1/analysis/jobs", map[string]any{"owner": "anna", "game_ids": []string{id}})
	is.Equal(resp.StatusCode, http.StatusConflict)

	close(runner.release)
	a.orch.Wait()

	// Slot is free again once the first job finished.
	resp, _ = a.do(t, http.MethodPost, "/v1/analysis/jobs", map[string]any{"owner": "anna"})
	is.Equal(resp.StatusCode, http.StatusAccepted)
	a.orch.Wait()
}

func TestJobStatusNotFound(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t)

	resp, _ := a.do(t, http.MethodGet, "/v1/analysis/jobs/nope", nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, _ = a.do(t, http.MethodDelete, "/v1/analysis/jobs/nope", nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestEvaluationsNotFoundBeforeAnalysis(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t)

	id := a.importGame(t, "anna")
	resp, _ := a.do(t, http.MethodGet, "/v1/games/"+id+"/evaluations", nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestPuzzleEndpoints(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t)

	// Seed an analysis with a known blunder so extraction has material.
	ev := store.EvaluationRecord{
		GameID: "g1",
		Owner:  "anna",
		Depth:  8,
		Plies: []analysis.PlyEvaluation{{
			Ply:       3,
			Side:      chess.Black,
			FENBefore: "rnbqkbnr/ppp1pppp/8/3p4/4P3/8/PPPP1PPP/RNBQKBNR w KQkq d6 0 2",
			FEN:       "rnbqkbnr/ppp1pppp/8/3P4/8/8/PPPP1PPP/RNBQKBNR b KQkq - 0 2",
			Faced:     engine.Evaluation{BestMove: "e4d5", PV: []string{"e4d5", "d8d5", "b1c3", "d5d8"}},
		}},
		Tags: []analysis.MoveTag{{
			Ply:    3,
			Side:   chess.Black,
			Tag:    analysis.TagBlunder,
			LossCP: 320,
		}},
		CreatedAt: time.Now(),
	}
	is.NoErr(a.st.PutGame(t.Context(), store.GameRecord{ID: "g1", Owner: "anna", ImportedAt: time.Now()}))
	is.NoErr(a.st.PutEvaluation(t.Context(), ev))

	resp, body := a.do(t, http.MethodPost, "/v1/puzzles/generate", map[string]string{"owner": "anna"})
	is.Equal(resp.StatusCode, http.StatusOK)
	var gen struct {
		Created int              `json:"created"`
		Puzzles []PuzzleResponse `json:"puzzles"`
	}
	is.NoErr(json.Unmarshal(body, &gen))
	is.Equal(gen.Created, 1)
	is.Equal(gen.Puzzles[0].GameID, "g1")

	resp, body = a.do(t, http.MethodGet, "/v1/puzzles?owner=anna", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	var list []PuzzleResponse
	is.NoErr(json.Unmarshal(body, &list))
	is.Equal(len(list), 1)

	// A second generate run finds nothing new.
	resp, body = a.do(t, http.MethodPost, "/v1/puzzles/generate", map[string]string{"owner": "anna"})
	is.Equal(resp.StatusCode, http.StatusOK)
	is.NoErr(json.Unmarshal(body, &gen))
	is.Equal(gen.Created, 0)
}

func TestNeighbors(t *testing.T) {
	is := is.New(t)

	// Router with a seeded index.
	ix := refindex.New(refindex.NewFlat())
	is.NoErr(ix.Add(refindex.Entry{Key: "k1", FEN: chess.StartFEN, Move: "e2e4"}))
	log := zerolog.Nop()
	st := store.NewMemory()
	eng := engine.NewStub()
	sessions := sparring.NewSessions(sparring.NewPolicy(eng, log), sparring.SeededRand(7), log)
	evr := analysis.NewEvaluator(eng, log, engine.Limits{Depth: 8}, 2)
	orch := jobs.New(st, jobs.NewAnalysisRunner(st, evr, 8, log), notify.NewMemorySink(), jobs.Config{})
	srv := httptest.NewServer(NewRouter(log, st, orch, puzzle.NewExtractor(st, log), ix, sessions, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/neighbors?fen=" + "rnbqkbnr%2Fpppppppp%2F8%2F8%2F8%2F8%2FPPPPPPPP%2FRNBQKBNR%20w%20KQkq%20-%200%201" + "&k=5")
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusOK)

	var out struct {
		Matches []refindex.Match `json:"matches"`
	}
	is.NoErr(json.NewDecoder(resp.Body).Decode(&out))
	is.Equal(len(out.Matches), 1)
	is.Equal(out.Matches[0].Key, "k1")

	resp2, err := http.Get(srv.URL + "/v1/neighbors?fen=garbage")
	is.NoErr(err)
	resp2.Body.Close()
	is.Equal(resp2.StatusCode, http.StatusBadRequest)
}

func TestSparringSessionFlow(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodPost, "/v1/sparring/sessions", map[string]any{
		"owner":      "anna",
		"difficulty": 10,
	})
	is.Equal(resp.StatusCode, http.StatusCreated)

	var sess sparring.Session
	is.NoErr(json.Unmarshal(body, &sess))
	is.Equal(sess.FEN, chess.StartFEN)
	is.True(sess.ID != "")

	resp, body = a.do(t, http.MethodPost, fmt.Sprintf("/v1/sparring/sessions/%s/moves", sess.ID), map[string]string{"move": "e2e4"})
	is.Equal(resp.StatusCode, http.StatusOK)
	var mv sparring.MoveResult
	is.NoErr(json.Unmarshal(body, &mv))
	is.True(mv.Reply != "")
	is.True(!mv.Done)

	resp, _ = a.do(t, http.MethodPost, fmt.Sprintf("/v1/sparring/sessions/%s/moves", sess.ID), map[string]string{"move": "e1e5"})
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, body = a.do(t, http.MethodGet, "/v1/sparring/sessions/"+sess.ID, nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.NoErr(json.Unmarshal(body, &sess))
	is.Equal(len(sess.History), 2)

	resp, _ = a.do(t, http.MethodPost, "/v1/sparring/sessions/nope/moves", map[string]string{"move": "e2e4"})
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, _ = a.do(t, http.MethodPost, "/v1/sparring/sessions", map[string]any{"owner": "anna", "difficulty": 99})
	is.Equal(resp.StatusCode, http.StatusBadRequest)
}

func TestHealthAndRequestID(t *testing.T) {
	is := is.New(t)
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodGet, "/healthz", nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(string(body), "ok")
	is.True(resp.Header.Get("X-Request-ID") != "")

	req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/healthz", nil)
	is.NoErr(err)
	req.Header.Set("X-Request-ID", "abc123")
	resp2, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	resp2.Body.Close()
	is.Equal(resp2.Header.Get("X-Request-ID"), "abc123")
}
