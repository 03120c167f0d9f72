package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/blunderlab/coach/internal/analysis"
	"github.com/blunderlab/coach/internal/store"
)

// JobResponse is the JSON snapshot of an analysis job.
type JobResponse struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	UnitErrors int       `json:"unit_errors"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toJobResponse(j store.JobRecord) JobResponse {
	return JobResponse{
		ID:         j.ID,
		Owner:      j.Owner,
		Kind:       j.Kind,
		Status:     j.Status,
		Total:      j.Total,
		Processed:  j.Processed,
		UnitErrors: j.UnitErrors,
		LastError:  j.LastError,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

// PlyResponse is one evaluated half-move.
type PlyResponse struct {
	Ply         int      `json:"ply"`
	Side        string   `json:"side"`
	SAN         string   `json:"san"`
	UCI         string   `json:"uci"`
	FEN         string   `json:"fen"`
	CP          int      `json:"cp"`
	Mate        int      `json:"mate,omitempty"`
	BestMove    string   `json:"best_move,omitempty"`
	PV          []string `json:"pv,omitempty"`
	Tag         string   `json:"tag"`
	LossCP      int      `json:"loss_cp"`
	Unavailable bool     `json:"unavailable,omitempty"`
}

// EvaluationsResponse is the full analysis of one game.
type EvaluationsResponse struct {
	GameID string              `json:"game_id"`
	Depth  int                 `json:"depth"`
	Plies  []PlyResponse       `json:"plies"`
	Report analysis.GameReport `json:"report"`
}

func toEvaluationsResponse(ev store.EvaluationRecord) EvaluationsResponse {
	resp := EvaluationsResponse{
		GameID: ev.GameID,
		Depth:  ev.Depth,
		Plies:  make([]PlyResponse, 0, len(ev.Plies)),
		Report: ev.Report,
	}
	tags := map[int]analysis.MoveTag{}
	for _, t := range ev.Tags {
		tags[t.Ply] = t
	}
	for _, p := range ev.Plies {
		pr := PlyResponse{
			Ply:         p.Ply,
			Side:        string(p.Side),
			SAN:         p.SAN,
			UCI:         p.UCI,
			FEN:         p.FEN,
			CP:          p.Eval.CP,
			BestMove:    p.Faced.BestMove,
			PV:          p.Faced.PV,
			Unavailable: p.Unavailable,
		}
		if p.Eval.HasMate {
			pr.Mate = p.Eval.Mate
		}
		if t, ok := tags[p.Ply]; ok {
			pr.Tag = string(t.Tag)
			pr.LossCP = t.LossCP
		}
		resp.Plies = append(resp.Plies, pr)
	}
	return resp
}

// PuzzleResponse is one extracted puzzle.
type PuzzleResponse struct {
	ID       string   `json:"id"`
	GameID   string   `json:"game_id"`
	Ply      int      `json:"ply"`
	Side     string   `json:"side"`
	FEN      string   `json:"fen"`
	Solution []string `json:"solution"`
	Motif    string   `json:"motif"`
	Strength int      `json:"strength"`
}

func toPuzzleResponse(p store.PuzzleRecord) PuzzleResponse {
	return PuzzleResponse{
		ID:       p.ID,
		GameID:   p.GameID,
		Ply:      p.Ply,
		Side:     string(p.Side),
		FEN:      p.FEN,
		Solution: p.Solution,
		Motif:    p.Motif,
		Strength: p.Strength,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONStatus writes a JSON response with a non-200 status.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// splitPath splits a URL path into non-empty segments.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
