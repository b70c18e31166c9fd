package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/logship/internal/queue"
	"github.com/loykin/logship/internal/store/memory"
	"github.com/loykin/logship/internal/transport"
)

type fakeTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

type tickers struct {
	mu        sync.Mutex
	created   []*fakeTicker
	intervals []time.Duration
}

func (ts *tickers) New(d time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time)}
	ts.created = append(ts.created, t)
	ts.intervals = append(ts.intervals, d)
	return t
}

func (ts *tickers) last() *fakeTicker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.created[len(ts.created)-1]
}

func (ts *tickers) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.created)
}

type harness struct {
	q       *queue.Queue
	rec     *transport.Recorder
	s       *Scheduler
	tickers *tickers
	drains  chan Outcome
}

func newHarness(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	h := &harness{
		q:       queue.New(memory.New(), 10, nil),
		rec:     transport.NewRecorder(true),
		tickers: &tickers{},
		drains:  make(chan Outcome, 16),
	}
	h.s = New(h.q, h.rec, Config{Interval: interval, Destination: "http://collector", NewTicker: h.tickers.New}, nil)
	h.s.afterDrain = func(o Outcome) { h.drains <- o }
	t.Cleanup(h.s.Disarm)
	return h
}

// tick fires the current ticker and waits for the drain it triggers.
func (h *harness) tick(t *testing.T) Outcome {
	t.Helper()
	select {
	case h.tickers.last().c <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker not being read")
	}
	select {
	case o := <-h.drains:
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("drain did not complete")
	}
	return Skipped
}

func (h *harness) enqueue(t *testing.T, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		if ok, err := h.q.Enqueue(context.Background(), p); !ok || err != nil {
			t.Fatalf("enqueue %q: %v %v", p, ok, err)
		}
	}
}

func TestEnsureArmedAndDisarmAreIdempotent(t *testing.T) {
	h := newHarness(t, time.Second)
	if h.s.State() != Idle {
		t.Fatalf("new scheduler should be idle")
	}
	h.s.EnsureArmed()
	h.s.EnsureArmed()
	if h.s.State() != Armed || h.tickers.count() != 1 {
		t.Fatalf("double arm: state=%v tickers=%d", h.s.State(), h.tickers.count())
	}
	h.s.Disarm()
	h.s.Disarm()
	if h.s.State() != Idle {
		t.Fatalf("double disarm: state=%v", h.s.State())
	}
	if !h.tickers.last().stopped.Load() {
		t.Fatalf("ticker not stopped on disarm")
	}
}

func TestRetryRateScenario(t *testing.T) {
	h := newHarness(t, 2000*time.Millisecond)
	h.enqueue(t, "e1", "e2", "e3")
	h.s.EnsureArmed()
	if h.tickers.intervals[0] != 2*time.Second {
		t.Fatalf("interval: %v", h.tickers.intervals[0])
	}

	if o := h.tick(t); o != Failed {
		t.Fatalf("tick while unreachable: %v", o)
	}
	if n, _ := h.q.Len(context.Background()); n != 3 {
		t.Fatalf("failed tick changed queue length: %d", n)
	}
	if h.s.State() != Armed {
		t.Fatalf("failed tick should stay armed")
	}

	h.rec.SetFailing(false)
	for i := 1; i <= 3; i++ {
		if o := h.tick(t); o != Delivered {
			t.Fatalf("tick %d: %v", i, o)
		}
		if n, _ := h.q.Len(context.Background()); n != 3-i {
			t.Fatalf("tick %d left %d entries", i, n)
		}
	}
	if h.s.State() != Idle {
		t.Fatalf("expected idle after draining, got %v", h.s.State())
	}
	got := h.rec.Delivered()
	if len(got) != 3 || got[0] != "e1" || got[1] != "e2" || got[2] != "e3" {
		t.Fatalf("delivery order: %v", got)
	}
}

func TestEmptyQueueDisarms(t *testing.T) {
	h := newHarness(t, time.Second)
	h.s.EnsureArmed()
	if o := h.tick(t); o != Empty {
		t.Fatalf("outcome: %v", o)
	}
	if h.s.State() != Idle {
		t.Fatalf("empty tick should disarm")
	}
}

func TestSingleFlight(t *testing.T) {
	q := queue.New(memory.New(), 10, nil)
	_, _ = q.Enqueue(context.Background(), "slow")
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	d := transport.Func(func(ctx context.Context, _, _ string) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	})
	s := New(q, d, Config{Interval: time.Hour}, nil)

	done := make(chan Outcome)
	go func() { done <- s.DrainOneAttempt(context.Background()) }()
	<-entered
	if o := s.DrainOneAttempt(context.Background()); o != Skipped {
		t.Fatalf("concurrent drain should be skipped, got %v", o)
	}
	close(release)
	if o := <-done; o != Delivered {
		t.Fatalf("first drain: %v", o)
	}
	if calls.Load() != 1 {
		t.Fatalf("deliverer called %d times", calls.Load())
	}
}

func TestDisarmInsideTick(t *testing.T) {
	q := queue.New(memory.New(), 10, nil)
	_, _ = q.Enqueue(context.Background(), "x")
	var s *Scheduler
	d := transport.Func(func(context.Context, string, string) error {
		s.Disarm()
		return transport.ErrUnreachable
	})
	s = New(q, d, Config{Interval: time.Hour}, nil)
	s.EnsureArmed()
	if o := s.DrainOneAttempt(context.Background()); o != Failed {
		t.Fatalf("outcome: %v", o)
	}
	if s.State() != Idle {
		t.Fatalf("disarm from inside a drain was lost")
	}
}

func TestRealTickerDrains(t *testing.T) {
	q := queue.New(memory.New(), 10, nil)
	rec := transport.NewRecorder(false)
	for _, p := range []string{"a", "b"} {
		_, _ = q.Enqueue(context.Background(), p)
	}
	s := New(q, rec, Config{Interval: 5 * time.Millisecond}, nil)
	t.Cleanup(s.Disarm)
	s.EnsureArmed()

	deadline := time.Now().Add(3 * time.Second)
	for s.State() == Armed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.State() != Idle {
		t.Fatalf("scheduler never went idle")
	}
	if got := rec.Delivered(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("delivered: %v", got)
	}
}

func TestFlush(t *testing.T) {
	q := queue.New(memory.New(), 10, nil)
	rec := transport.NewRecorder(false)
	for _, p := range []string{"a", "b", "c"} {
		_, _ = q.Enqueue(context.Background(), p)
	}
	s := New(q, rec, Config{Interval: time.Hour}, nil)
	n, err := s.Flush(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("flush: %d %v", n, err)
	}

	_, _ = q.Enqueue(context.Background(), "d")
	rec.SetFailing(true)
	if n, err := s.Flush(context.Background()); err != ErrDrainFailed || n != 0 {
		t.Fatalf("failing flush: %d %v", n, err)
	}
}

func TestStopPreventsRearming(t *testing.T) {
	h := newHarness(t, time.Second)
	h.enqueue(t, "a")
	h.s.EnsureArmed()
	h.s.Stop()
	if h.s.State() != Idle || !h.tickers.last().stopped.Load() {
		t.Fatalf("stop should disarm: state=%v", h.s.State())
	}

	h.s.EnsureArmed()
	if h.s.State() != Idle || h.tickers.count() != 1 {
		t.Fatalf("armed after stop: state=%v tickers=%d", h.s.State(), h.tickers.count())
	}
	if o := h.s.DrainOneAttempt(context.Background()); o != Skipped {
		t.Fatalf("drain after stop: %v", o)
	}
	if h.rec.Attempts() != 0 {
		t.Fatalf("delivery attempted after stop")
	}
	if _, err := h.s.Flush(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("flush after stop: %v", err)
	}
}

func TestStopWaitsForRunningDrain(t *testing.T) {
	q := queue.New(memory.New(), 10, nil)
	_, _ = q.Enqueue(context.Background(), "slow")
	release := make(chan struct{})
	entered := make(chan struct{})
	d := transport.Func(func(context.Context, string, string) error {
		close(entered)
		<-release
		return nil
	})
	s := New(q, d, Config{Interval: time.Hour}, nil)
	go s.DrainOneAttempt(context.Background())
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatalf("stop returned while a delivery was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop never returned")
	}
	if n, _ := q.Len(context.Background()); n != 0 {
		t.Fatalf("in-flight drain did not finish: %d left", n)
	}
}
