// Package sink defines where the collector appends received payloads.
package sink

import (
	"context"
	"sync"
	"time"
)

// Record is one payload received by the collector.
type Record struct {
	ReceivedAt time.Time `json:"received_at"`
	Remote     string    `json:"remote"`
	Payload    string    `json:"payload"`
}

// Sink is a destination for received payloads.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, r Record) error
	Close() error
}

// Memory keeps records in process. It backs the memory:// DSN and tests.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Send(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

// Records returns a copy of everything sent so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func (m *Memory) Close() error { return nil }
