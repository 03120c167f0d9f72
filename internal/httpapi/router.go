package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blunderlab/coach/internal/chess"
	"github.com/blunderlab/coach/internal/eco"
	"github.com/blunderlab/coach/internal/jobs"
	"github.com/blunderlab/coach/internal/puzzle"
	"github.com/blunderlab/coach/internal/refindex"
	"github.com/blunderlab/coach/internal/sparring"
	"github.com/blunderlab/coach/internal/store"
)

// Handler serves the coaching API.
type Handler struct {
	st        store.Store
	orch      *jobs.Orchestrator
	extractor *puzzle.Extractor
	index     *refindex.Index
	sessions  *sparring.Sessions
	ecoDB     *eco.Database
	log       zerolog.Logger
}

// NewRouter wires the API over the store and the analysis services.
// index and ecoDB are optional - endpoints that need a missing one
// answer 503 instead of failing at startup.
func NewRouter(log zerolog.Logger, st store.Store, orch *jobs.Orchestrator, extractor *puzzle.Extractor, index *refindex.Index, sessions *sparring.Sessions, ecoDB *eco.Database) http.Handler {
	h := &Handler{
		st:        st,
		orch:      orch,
		extractor: extractor,
		index:     index,
		sessions:  sessions,
		ecoDB:     ecoDB,
		log:       log,
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(h.health))
	mux.Handle("/readyz", http.HandlerFunc(h.health))
	mux.Handle("/v1/games", http.HandlerFunc(h.games))
	mux.Handle("/v1/games/", http.HandlerFunc(h.gameSub))
	mux.Handle("/v1/analysis/jobs", http.HandlerFunc(h.analysisJobs))
	mux.Handle("/v1/analysis/jobs/", http.HandlerFunc(h.analysisJob))
	mux.Handle("/v1/puzzles", http.HandlerFunc(h.puzzles))
	mux.Handle("/v1/puzzles/generate", http.HandlerFunc(h.generatePuzzles))
	mux.Handle("/v1/neighbors", http.HandlerFunc(h.neighbors))
	mux.Handle("/v1/sparring/sessions", http.HandlerFunc(h.createSession))
	mux.Handle("/v1/sparring/sessions/", http.HandlerFunc(h.sessionSub))

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return CORS(RequestID(AccessLog(log, mux)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GameResponse is the JSON summary of an imported game.
type GameResponse struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	White       string    `json:"white"`
	Black       string    `json:"black"`
	Result      string    `json:"result"`
	ECO         string    `json:"eco,omitempty"`
	Opening     string    `json:"opening,omitempty"`
	TimeControl string    `json:"time_control,omitempty"`
	Plies       int       `json:"plies"`
	ImportedAt  time.Time `json:"imported_at"`
}

func toGameResponse(g store.GameRecord) GameResponse {
	return GameResponse{
		ID:          g.ID,
		Owner:       g.Owner,
		White:       g.White,
		Black:       g.Black,
		Result:      g.Result,
		ECO:         g.ECO,
		Opening:     g.Opening,
		TimeControl: g.TimeControl,
		Plies:       g.Plies,
		ImportedAt:  g.ImportedAt,
	}
}

func (h *Handler) games(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.importGame(w, r)
	case http.MethodGet:
		h.listGames(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// importGame validates the PGN up front so a malformed game is rejected
// before anything is stored or scheduled.
func (h *Handler) importGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
		PGN   string `json:"pgn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Owner == "" || req.PGN == "" {
		writeError(w, http.StatusBadRequest, "owner and pgn are required")
		return
	}

	g, err := chess.ParseGame(req.PGN)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid PGN: "+err.Error())
		return
	}

	rec := store.GameRecord{
		ID:          uuid.NewString(),
		Owner:       req.Owner,
		PGN:         req.PGN,
		White:       g.White,
		Black:       g.Black,
		Result:      g.Result,
		ECO:         g.ECO,
		Opening:     g.Opening,
		TimeControl: g.TimeControl,
		Plies:       len(g.Plies),
		ImportedAt:  time.Now().UTC(),
	}
	if h.ecoDB != nil {
		if op, ok := h.ecoDB.Classify(g); ok {
			rec.ECO = op.ECO
			rec.Opening = op.Name
		}
	}

	if err := h.st.PutGame(r.Context(), rec); err != nil {
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("put game")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSONStatus(w, http.StatusCreated, toGameResponse(rec))
}

func (h *Handler) listGames(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing owner parameter")
		return
	}
	games, err := h.st.GamesByOwner(r.Context(), owner)
	if err != nil {
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("list games")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := make([]GameResponse, 0, len(games))
	for _, g := range games {
		resp = append(resp, toGameResponse(g))
	}
	writeJSON(w, resp)
}

// gameSub handles /v1/games/{id} and /v1/games/{id}/evaluations.
func (h *Handler) gameSub(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 3:
		h.getGame(w, r, parts[2])
	case len(parts) == 4 && parts[3] == "evaluations":
		h.getEvaluations(w, r, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) getGame(w http.ResponseWriter, r *http.Request, id string) {
	g, err := h.st.GetGame(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("get game")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, toGameResponse(g))
}

func (h *Handler) getEvaluations(w http.ResponseWriter, r *http.Request, gameID string) {
	ev, err := h.st.GetEvaluation(r.Context(), gameID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no evaluation for game")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("get evaluation")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, toEvaluationsResponse(ev))
}

func (h *Handler) analysisJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submitAnalysis(w, r)
	case http.MethodGet:
		h.listJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// submitAnalysis starts a batch analysis job. An empty game_ids list
// means every game the owner has imported.
func (h *Handler) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner   string   `json:"owner"`
		GameIDs []string `json:"game_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	units := req.GameIDs
	if len(units) == 0 {
		games, err := h.st.GamesByOwner(r.Context(), req.Owner)
		if err != nil {
			h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("list games for job")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		for _, g := range games {
			units = append(units, g.ID)
		}
	}
	if len(units) == 0 {
		writeError(w, http.StatusBadRequest, "no games to analyze")
		return
	}

	job, err := h.orch.Submit(r.Context(), req.Owner, jobs.KindAnalysis, units)
	if errors.Is(err, jobs.ErrJobConflict) {
		writeError(w, http.StatusConflict, "an analysis job is already running for this owner")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("submit job")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSONStatus(w, http.StatusAccepted, toJobResponse(job))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing owner parameter")
		return
	}
	list, err := h.st.JobsByOwner(r.Context(), owner)
	if err != nil {
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("list jobs")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := make([]JobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, toJobResponse(j))
	}
	writeJSON(w, resp)
}

// analysisJob handles /v1/analysis/jobs/{id}.
func (h *Handler) analysisJob(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[3]

	switch r.Method {
	case http.MethodGet:
		job, err := h.orch.Status(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("job status")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, toJobResponse(job))
	case http.MethodDelete:
		if !h.orch.Cancel(id) {
			writeError(w, http.StatusNotFound, "no active job with that id")
			return
		}
		writeJSONStatus(w, http.StatusAccepted, map[string]string{"id": id, "status": "canceling"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) generatePuzzles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	created, err := h.extractor.Generate(r.Context(), req.Owner)
	if err != nil {
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("generate puzzles")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := make([]PuzzleResponse, 0, len(created))
	for _, p := range created {
		resp = append(resp, toPuzzleResponse(p))
	}
	writeJSON(w, map[string]any{"created": len(resp), "puzzles": resp})
}

func (h *Handler) puzzles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "missing owner parameter")
		return
	}
	list, err := h.st.PuzzlesByOwner(r.Context(), owner)
	if err != nil {
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("list puzzles")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := make([]PuzzleResponse, 0, len(list))
	for _, p := range list {
		resp = append(resp, toPuzzleResponse(p))
	}
	writeJSON(w, resp)
}

func (h *Handler) neighbors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.index == nil {
		writeError(w, http.StatusServiceUnavailable, "reference index not loaded")
		return
	}
	fen := r.URL.Query().Get("fen")
	if fen == "" {
		writeError(w, http.StatusBadRequest, "missing fen parameter")
		return
	}
	k := 10
	if s := r.URL.Query().Get("k"); s != "" {
		if v, err := json.Number(s).Int64(); err == nil && v >= 1 && v <= 100 {
			k = int(v)
		}
	}
	matches, err := h.index.Neighbors(fen, k)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid FEN: "+err.Error())
		return
	}
	writeJSON(w, map[string]any{"fen": fen, "matches": matches})
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Owner      string         `json:"owner"`
		Difficulty int            `json:"difficulty"`
		Hints      sparring.Hints `json:"hints"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	sess, err := h.sessions.Create(req.Owner, req.Difficulty, req.Hints)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSONStatus(w, http.StatusCreated, sess)
}

// sessionSub handles /v1/sparring/sessions/{id} and
// /v1/sparring/sessions/{id}/moves.
func (h *Handler) sessionSub(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 4 && r.Method == http.MethodGet:
		sess, err := h.sessions.Get(parts[3])
		if errors.Is(err, sparring.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, sess)
	case len(parts) == 5 && parts[4] == "moves" && r.Method == http.MethodPost:
		h.sessionMove(w, r, parts[3])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) sessionMove(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Move string `json:"move"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Move == "" {
		writeError(w, http.StatusBadRequest, "move is required")
		return
	}

	res, err := h.sessions.Move(r.Context(), id, req.Move)
	switch {
	case errors.Is(err, sparring.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, sparring.ErrSessionDone):
		writeError(w, http.StatusConflict, "session is over")
	case errors.Is(err, sparring.ErrSessionBusy):
		writeError(w, http.StatusConflict, "a move is already being processed")
	case errors.Is(err, sparring.ErrIllegalMove):
		writeError(w, http.StatusBadRequest, "illegal move")
	case err != nil:
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("sparring move")
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, res)
	}
}
