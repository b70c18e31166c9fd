package transport

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when an attempt exceeds the configured rate.
var ErrRateLimited = errors.New("transport: rate limited")

// Limited caps delivery attempts per second. It never waits: an attempt
// over the limit fails at once, which sends the payload to the queue.
type Limited struct {
	next    Deliverer
	limiter *rate.Limiter
}

// NewLimited allows perSecond attempts with the given burst. A burst
// below one is raised to one.
func NewLimited(next Deliverer, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Deliver(ctx context.Context, destination, payload string) error {
	if !l.limiter.Allow() {
		return ErrRateLimited
	}
	return l.next.Deliver(ctx, destination, payload)
}
