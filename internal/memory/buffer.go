// Package memory keeps a capped window of recently captured events.
package memory

import (
	"sync"

	"github.com/loykin/logship/internal/event"
	"github.com/loykin/logship/internal/metrics"
)

// Buffer holds at most Cap events in insertion order. Once full, new
// events are dropped; nothing is ever removed.
type Buffer struct {
	mu      sync.RWMutex
	cap     int
	events  []event.Event
	dropped int
}

// New returns a buffer holding up to capacity events. A non-positive
// capacity keeps nothing.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{cap: capacity}
}

// Append stores e unless the buffer is full. It reports whether e was kept.
func (b *Buffer) Append(e event.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) >= b.cap {
		b.dropped++
		metrics.IncMemoryDropped()
		return false
	}
	b.events = append(b.events, e)
	return true
}

// All returns the stored events in insertion order.
func (b *Buffer) All() []event.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]event.Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

func (b *Buffer) Cap() int { return b.cap }

// Dropped counts events rejected because the buffer was full.
func (b *Buffer) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
