// Package dispatch routes each captured event through memory capture,
// the display side channel and delivery, falling back to the durable
// queue when delivery fails.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loykin/logship/internal/event"
	"github.com/loykin/logship/internal/memory"
	"github.com/loykin/logship/internal/metrics"
	"github.com/loykin/logship/internal/transport"
)

// Enqueuer is the write side of the delivery queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload string) (bool, error)
}

// Armer starts the retry loop.
type Armer interface {
	EnsureArmed()
}

// Renderer is the display side channel.
type Renderer interface {
	Render(line string) bool
}

// Options wires a Dispatcher. Nil Memory or Display disables that step;
// an empty Destination or nil Deliverer disables delivery.
type Options struct {
	Memory  *memory.Buffer
	Display Renderer

	Deliverer   transport.Deliverer
	Destination string
	// Timeout bounds one immediate delivery. Zero means no extra bound.
	Timeout time.Duration

	// SaveOnFailure queues payloads whose immediate delivery failed.
	SaveOnFailure bool
	Queue         Enqueuer
	Retry         Armer
}

type Dispatcher struct {
	opts   Options
	log    *slog.Logger
	closed atomic.Bool
}

func New(opts Options, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{opts: opts, log: log}
}

// Delivering reports whether immediate delivery is configured.
func (d *Dispatcher) Delivering() bool {
	return d.opts.Deliverer != nil && d.opts.Destination != ""
}

// Close makes every later Handle a no-op.
func (d *Dispatcher) Close() { d.closed.Store(true) }

// Closed reports whether Close was called.
func (d *Dispatcher) Closed() bool { return d.closed.Load() }

// Handle processes one event. It never fails and never panics: transport
// failures become enqueues and anything unexpected is logged.
func (d *Dispatcher) Handle(e event.Event) {
	if d.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch panicked", "kind", e.Kind(), "panic", fmt.Sprint(r))
		}
	}()
	metrics.IncCaptured(string(e.Kind()))

	if d.opts.Memory != nil {
		d.opts.Memory.Append(e)
	}
	if d.opts.Display == nil && !d.Delivering() {
		return
	}

	payload := event.Serialize(e.Payload())
	if d.opts.Display != nil {
		d.opts.Display.Render(payload)
	}
	if !d.Delivering() {
		return
	}
	err := d.deliver(payload)
	if err == nil {
		return
	}
	d.log.Debug("immediate delivery failed", "error", err)
	d.fallback(payload)
}

func (d *Dispatcher) deliver(payload string) error {
	ctx := context.Background()
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}
	err := d.opts.Deliverer.Deliver(ctx, d.opts.Destination, payload)
	metrics.ObserveDelivery("immediate", err == nil)
	return err
}

func (d *Dispatcher) fallback(payload string) {
	if !d.opts.SaveOnFailure || d.opts.Queue == nil {
		d.log.Warn("delivery failed and queueing is off, payload dropped", "bytes", len(payload))
		return
	}
	ok, err := d.opts.Queue.Enqueue(context.Background(), payload)
	if err != nil {
		d.log.Error("enqueue failed", "error", err)
		return
	}
	if ok && d.opts.Retry != nil {
		d.opts.Retry.EnsureArmed()
	}
}
