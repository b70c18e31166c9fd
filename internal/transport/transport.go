// Package transport delivers serialized payloads to a collector.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoDestination is returned when no collector URL is configured.
var ErrNoDestination = errors.New("transport: no destination")

// Deliverer sends one payload to destination. A nil error means the
// collector accepted it; anything else is a failed delivery.
type Deliverer interface {
	Deliver(ctx context.Context, destination, payload string) error
}

// Func adapts a function to Deliverer.
type Func func(ctx context.Context, destination, payload string) error

func (f Func) Deliver(ctx context.Context, destination, payload string) error {
	return f(ctx, destination, payload)
}

// StatusError reports a non-2xx collector response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("collector returned status %d", e.Code)
	}
	return fmt.Sprintf("collector returned status %d: %s", e.Code, e.Body)
}
