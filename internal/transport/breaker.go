package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerOptions maps onto gobreaker.Settings.
type BreakerOptions struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the failure counts while closed. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

// Breaker fails fast while the collector keeps failing. An open breaker
// returns gobreaker.ErrOpenState, which callers treat like any other
// failed delivery.
type Breaker struct {
	next Deliverer
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Deliverer, opts BreakerOptions, log *slog.Logger) *Breaker {
	if opts.Name == "" {
		opts.Name = "collector"
	}
	if opts.ConsecutiveFailures == 0 {
		opts.ConsecutiveFailures = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	threshold := opts.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Info("collector breaker state changed", "name", name, "from", from.String(), "to", to.String())
			}
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Deliver(ctx context.Context, destination, payload string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Deliver(ctx, destination, payload)
	})
	return err
}

// State returns the breaker state name: closed, half-open or open.
func (b *Breaker) State() string { return b.cb.State().String() }
