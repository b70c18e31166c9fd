// Package queue is the durable FIFO that holds payloads whose immediate
// delivery failed.
//
// Entries live in a store.Storage at indices 0..Capacity-1. The oldest
// entry is always at index 0 and Shift keeps the indices contiguous, so
// position alone gives the FIFO order and the queue survives a restart
// with nothing but the storage contents.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/logship/internal/metrics"
	"github.com/loykin/logship/internal/store"
)

// ErrInvalidShift is returned for a negative shift count.
var ErrInvalidShift = errors.New("queue: invalid shift count")

// OverflowFunc receives a payload that did not fit.
type OverflowFunc func(payload string)

// Entry is one queued payload and its current index.
type Entry struct {
	Index   int    `json:"index"`
	Payload string `json:"payload"`
}

// Queue serializes every read and mutation of its storage behind one
// mutex.
type Queue struct {
	mu         sync.Mutex
	storage    store.Storage
	capacity   int
	onOverflow OverflowFunc
	log        *slog.Logger
}

// New wraps s with a queue holding at most capacity entries.
func New(s store.Storage, capacity int, log *slog.Logger) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Queue{storage: s, capacity: capacity, log: log}
}

// SetOverflowHandler registers fn to be told about dropped payloads.
func (q *Queue) SetOverflowHandler(fn OverflowFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onOverflow = fn
}

func (q *Queue) Capacity() int { return q.capacity }

// Enqueue stores payload after the newest entry. When every index is
// taken the overflow handler gets the payload and Enqueue returns false.
func (q *Queue) Enqueue(ctx context.Context, payload string) (bool, error) {
	q.mu.Lock()
	keys, err := q.compactLocked(ctx)
	if err != nil {
		q.mu.Unlock()
		return false, err
	}
	idx := freeIndex(keys, q.capacity)
	if idx < 0 {
		fn := q.onOverflow
		q.mu.Unlock()
		metrics.IncOverflow()
		q.log.Warn("delivery queue full, dropping payload", "capacity", q.capacity, "bytes", len(payload))
		if fn != nil {
			fn(payload)
		}
		return false, nil
	}
	defer q.mu.Unlock()
	if err := q.storage.Set(ctx, idx, payload); err != nil {
		return false, fmt.Errorf("store queue entry %d: %w", idx, err)
	}
	metrics.IncEnqueued()
	metrics.SetQueueLength(len(keys) + 1)
	return true, nil
}

// freeIndex returns the smallest index in [0, capacity) missing from the
// ascending keys, or -1.
func freeIndex(keys []int, capacity int) int {
	next := 0
	for _, k := range keys {
		if k < next {
			continue
		}
		if k > next {
			break
		}
		next++
	}
	if next >= capacity {
		return -1
	}
	return next
}

// PeekOldest returns the entry at index 0. ok is false when the queue is
// empty. A queue whose indices no longer start at 0 is compacted first.
func (q *Queue) PeekOldest(ctx context.Context) (payload string, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, err := q.storage.Get(ctx, 0)
	if errors.Is(err, store.ErrNotFound) {
		keys, cerr := q.compactLocked(ctx)
		if cerr != nil || len(keys) == 0 {
			return "", false, cerr
		}
		v, err = q.storage.Get(ctx, 0)
	}
	if err != nil {
		return "", false, fmt.Errorf("peek queue: %w", err)
	}
	return v, true, nil
}

// Shift removes the n oldest entries and moves every remaining entry
// down by n.
func (q *Queue) Shift(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidShift, n)
	}
	if n == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var err error
	if sh, ok := q.storage.(store.Shifter); ok {
		err = sh.Shift(ctx, n)
	} else {
		err = q.shiftGeneric(ctx, n)
	}
	if err != nil {
		return fmt.Errorf("shift queue by %d: %w", n, err)
	}
	if keys, err := q.storage.Keys(ctx); err == nil {
		metrics.SetQueueLength(len(keys))
	}
	return nil
}

// shiftGeneric moves entries one at a time in ascending order, so the
// target slot of every move has already been vacated.
func (q *Queue) shiftGeneric(ctx context.Context, n int) error {
	keys, err := q.storage.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k >= n {
			break
		}
		if err := q.storage.Remove(ctx, k); err != nil {
			return err
		}
	}
	for _, k := range keys {
		if k < n {
			continue
		}
		v, err := q.storage.Get(ctx, k)
		if err != nil {
			return err
		}
		if err := q.storage.Set(ctx, k-n, v); err != nil {
			return err
		}
		if err := q.storage.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Compact renumbers the entries to 0..n-1 keeping their order. Only a
// storage without atomic shifts can be left with gaps, by a shift that
// failed part way. It returns the number of entries.
func (q *Queue) Compact(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys, err := q.compactLocked(ctx)
	return len(keys), err
}

// compactLocked returns the ascending keys after closing any gaps.
func (q *Queue) compactLocked(ctx context.Context) ([]int, error) {
	keys, err := q.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue keys: %w", err)
	}
	if len(keys) == 0 || keys[len(keys)-1] == len(keys)-1 {
		return keys, nil
	}
	q.log.Warn("delivery queue has gaps, compacting", "entries", len(keys), "last_index", keys[len(keys)-1])
	for i, k := range keys {
		if k == i {
			continue
		}
		v, err := q.storage.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("compact read %d: %w", k, err)
		}
		if err := q.storage.Set(ctx, i, v); err != nil {
			return nil, fmt.Errorf("compact write %d: %w", i, err)
		}
		if err := q.storage.Remove(ctx, k); err != nil {
			return nil, fmt.Errorf("compact remove %d: %w", k, err)
		}
		keys[i] = i
	}
	return keys, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys, err := q.storage.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queue keys: %w", err)
	}
	return len(keys), nil
}

// Entries returns every queued entry, oldest first.
func (q *Queue) Entries(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys, err := q.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue keys: %w", err)
	}
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		v, err := q.storage.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("read queue entry %d: %w", k, err)
		}
		out = append(out, Entry{Index: k, Payload: v})
	}
	return out, nil
}
