package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store for tests and single-process use. All
// methods are safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	games   map[string]GameRecord
	evals   map[string]EvaluationRecord
	jobs    map[string]JobRecord
	done    map[string]map[string]bool
	puzzles map[string][]PuzzleRecord
	keys    map[string]map[string]bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		games:   map[string]GameRecord{},
		evals:   map[string]EvaluationRecord{},
		jobs:    map[string]JobRecord{},
		done:    map[string]map[string]bool{},
		puzzles: map[string][]PuzzleRecord{},
		keys:    map[string]map[string]bool{},
	}
}

func (m *Memory) PutGame(_ context.Context, g GameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = g
	return nil
}

func (m *Memory) GetGame(_ context.Context, id string) (GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return GameRecord{}, ErrNotFound
	}
	return g, nil
}

func (m *Memory) GamesByOwner(_ context.Context, owner string) ([]GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []GameRecord
	for _, g := range m.games {
		if g.Owner == owner {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PutEvaluation(_ context.Context, ev EvaluationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evals[ev.GameID] = ev
	return nil
}

func (m *Memory) GetEvaluation(_ context.Context, gameID string) (EvaluationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.evals[gameID]
	if !ok {
		return EvaluationRecord{}, ErrNotFound
	}
	return ev, nil
}

func (m *Memory) CreateJob(_ context.Context, j JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return ErrConflict
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) UpdateJob(_ context.Context, j JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[j.ID] = j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return JobRecord{}, ErrNotFound
	}
	return j, nil
}

func (m *Memory) JobsByOwner(_ context.Context, owner string) ([]JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []JobRecord
	for _, j := range m.jobs {
		if j.Owner == owner {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkUnitDone(_ context.Context, jobID, unitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done[jobID] == nil {
		m.done[jobID] = map[string]bool{}
	}
	m.done[jobID][unitID] = true
	return nil
}

func (m *Memory) DoneUnits(_ context.Context, jobID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.done[jobID]))
	for k, v := range m.done[jobID] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) PutPuzzle(_ context.Context, p PuzzleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puzzles[p.Owner] = append(m.puzzles[p.Owner], p)
	if m.keys[p.Owner] == nil {
		m.keys[p.Owner] = map[string]bool{}
	}
	m.keys[p.Owner][p.Key] = true
	return nil
}

func (m *Memory) PuzzlesByOwner(_ context.Context, owner string) ([]PuzzleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PuzzleRecord, len(m.puzzles[owner]))
	copy(out, m.puzzles[owner])
	return out, nil
}

func (m *Memory) HasPuzzleKey(_ context.Context, owner, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys[owner][key], nil
}

func (m *Memory) Close() error { return nil }
