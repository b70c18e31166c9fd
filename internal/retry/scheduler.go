// Package retry drains the delivery queue on a fixed interval.
//
// The Scheduler is Idle (no ticker) or Armed (one ticker). Each tick
// attempts the oldest queued payload once: success removes it, failure
// leaves it in place for the next tick. There is no backoff. When the
// queue is found empty the ticker is torn down.
package retry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/logship/internal/metrics"
	"github.com/loykin/logship/internal/transport"
)

// State of the scheduler.
type State int

const (
	Idle State = iota
	Armed
)

func (s State) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// Outcome of one drain attempt.
type Outcome int

const (
	// Skipped means another drain was still in progress.
	Skipped Outcome = iota
	// Empty means the queue had nothing to send; the scheduler disarmed.
	Empty
	// Delivered means the oldest entry was sent and removed.
	Delivered
	// Failed means delivery or storage failed; the queue is unchanged.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Empty:
		return "empty"
	case Delivered:
		return "delivered"
	default:
		return "failed"
	}
}

// Queue is the part of the delivery queue the scheduler drains.
type Queue interface {
	PeekOldest(ctx context.Context) (string, bool, error)
	Shift(ctx context.Context, n int) error
	Len(ctx context.Context) (int, error)
}

// Ticker abstracts time.Ticker so tests can fire ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTicker returns a Ticker backed by time.NewTicker.
func NewTicker(d time.Duration) Ticker { return timeTicker{t: time.NewTicker(d)} }

// Config holds the scheduler settings.
type Config struct {
	Interval    time.Duration
	Destination string
	// Timeout bounds each delivery attempt. Zero means no extra bound.
	Timeout time.Duration
	// NewTicker overrides the ticker factory.
	NewTicker func(time.Duration) Ticker
}

type Scheduler struct {
	q         Queue
	deliverer transport.Deliverer
	dest      string
	interval  time.Duration
	timeout   time.Duration
	newTicker func(time.Duration) Ticker
	log       *slog.Logger

	mu     sync.Mutex
	state  State
	ticker Ticker
	stop   chan struct{}

	draining   atomic.Bool
	drainMu    sync.Mutex
	stopped    atomic.Bool
	afterDrain func(Outcome)
}

func New(q Queue, d transport.Deliverer, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTicker
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		q:         q,
		deliverer: d,
		dest:      cfg.Destination,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		newTicker: cfg.NewTicker,
		log:       log,
	}
}

// State returns Idle or Armed.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// EnsureArmed starts the ticker when Idle. It is a no-op when Armed or
// after Stop.
func (s *Scheduler) EnsureArmed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Armed || s.stopped.Load() {
		return
	}
	t := s.newTicker(s.interval)
	stop := make(chan struct{})
	s.ticker, s.stop, s.state = t, stop, Armed
	metrics.SetRetryArmed(true)
	s.log.Debug("retry armed", "interval", s.interval)
	go s.run(t, stop)
}

// Disarm stops the ticker when Armed. It is a no-op when Idle and may be
// called from inside a tick.
func (s *Scheduler) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
}

// Stop disarms for good: later EnsureArmed calls do nothing and drains
// are skipped. It waits for a drain already in progress, so it must not
// be called from inside a delivery.
func (s *Scheduler) Stop() {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped.Store(true)
	s.disarmLocked()
}

// Stopped reports whether Stop was called.
func (s *Scheduler) Stopped() bool { return s.stopped.Load() }

func (s *Scheduler) disarmLocked() {
	if s.state == Idle {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker, s.stop, s.state = nil, nil, Idle
	metrics.SetRetryArmed(false)
	s.log.Debug("retry disarmed")
}

func (s *Scheduler) run(t Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			select {
			case <-stop:
				return
			default:
			}
			s.DrainOneAttempt(context.Background())
		}
	}
}

// DrainOneAttempt tries to deliver the oldest queued payload. At most one
// attempt runs at a time; a call made while another is running returns
// Skipped without touching the queue.
func (s *Scheduler) DrainOneAttempt(ctx context.Context) Outcome {
	if !s.draining.CompareAndSwap(false, true) {
		return Skipped
	}
	s.drainMu.Lock()
	if s.stopped.Load() {
		s.drainMu.Unlock()
		s.draining.Store(false)
		return Skipped
	}
	out := s.drain(ctx)
	s.drainMu.Unlock()
	s.draining.Store(false)
	if s.afterDrain != nil {
		s.afterDrain(out)
	}
	return out
}

func (s *Scheduler) drain(ctx context.Context) Outcome {
	payload, ok, err := s.q.PeekOldest(ctx)
	if err != nil {
		s.log.Warn("retry peek failed", "error", err)
		return Failed
	}
	if !ok {
		if s.disarmIfEmpty(ctx) {
			return Empty
		}
		return Failed
	}

	dctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err = s.deliverer.Deliver(dctx, s.dest, payload)
	metrics.ObserveDelivery("retry", err == nil)
	if err != nil {
		s.log.Debug("retry delivery failed", "error", err)
		return Failed
	}
	if err := s.q.Shift(ctx, 1); err != nil {
		// the payload went out but is still queued; it will be sent again
		s.log.Error("remove delivered entry failed", "error", err)
		return Failed
	}
	s.disarmIfEmpty(ctx)
	return Delivered
}

// disarmIfEmpty checks the queue and disarms under the scheduler lock, so
// an EnsureArmed that follows an Enqueue cannot be lost in between.
func (s *Scheduler) disarmIfEmpty(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.q.Len(ctx)
	if err != nil {
		s.log.Warn("retry length check failed", "error", err)
		return false
	}
	if n == 0 {
		s.disarmLocked()
		return true
	}
	return false
}

// Flush drains until the queue is empty, a delivery fails or ctx ends.
// It returns the number of entries delivered.
func (s *Scheduler) Flush(ctx context.Context) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if s.stopped.Load() {
			return delivered, ErrStopped
		}
		switch s.DrainOneAttempt(ctx) {
		case Delivered:
			delivered++
		case Empty:
			return delivered, nil
		case Failed:
			return delivered, ErrDrainFailed
		case Skipped:
			select {
			case <-ctx.Done():
				return delivered, ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}
