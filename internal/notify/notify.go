// Package notify fans job progress out to interested listeners.
package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is one progress update for an analysis job.
type Event struct {
	JobID     string    `json:"job_id"`
	Owner     string    `json:"owner"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	At        time.Time `json:"at"`
}

// Sink receives progress events. Publish must be safe for concurrent use;
// failures are the sink's problem, callers fire and forget.
type Sink interface {
	Publish(ev Event) error
}

// MemorySink collects events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// NATSSink publishes each event to analysis.progress.<owner> as JSON, so a
// frontend can subscribe per user.
type NATSSink struct {
	nc *nats.Conn
}

// NewNATSSink connects to the given NATS URL.
func NewNATSSink(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSSink{nc: nc}, nil
}

func (s *NATSSink) Publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.nc.Publish("analysis.progress."+ev.Owner, payload)
}

// Close drains the connection.
func (s *NATSSink) Close() {
	s.nc.Drain()
}
