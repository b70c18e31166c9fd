package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrUnreachable is the failure a Recorder returns while failing.
var ErrUnreachable = errors.New("transport: collector unreachable")

// Recorder is an in-memory Deliverer that records what it was sent and
// can be switched between succeeding and failing.
type Recorder struct {
	mu        sync.Mutex
	failing   bool
	attempts  int
	delivered []string
}

func NewRecorder(failing bool) *Recorder { return &Recorder{failing: failing} }

func (r *Recorder) SetFailing(failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = failing
}

func (r *Recorder) Deliver(_ context.Context, _ string, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failing {
		return ErrUnreachable
	}
	r.delivered = append(r.delivered, payload)
	return nil
}

// Attempts counts every Deliver call.
func (r *Recorder) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Delivered returns the accepted payloads in order.
func (r *Recorder) Delivered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.delivered...)
}
