package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no entry exists at the index.
var ErrNotFound = errors.New("store: entry not found")

// ErrInvalidIndex is returned for negative indices.
var ErrInvalidIndex = errors.New("store: invalid index")

// Storage is a persistent mapping from small non-negative integers to
// payload strings, scoped to one namespace. Implementations must be safe
// for concurrent use.
type Storage interface {
	Get(ctx context.Context, idx int) (string, error)
	Set(ctx context.Context, idx int, value string) error
	Remove(ctx context.Context, idx int) error
	// Keys returns the indices in use in ascending order.
	Keys(ctx context.Context) ([]int, error)
	Close() error
}

// Shifter is implemented by backends that can drop the n lowest indices
// and move every remaining index k to k-n in one atomic step.
type Shifter interface {
	Shift(ctx context.Context, n int) error
}

// SchemaEnsurer is implemented by backends that need tables created
// before first use.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Prepare runs EnsureSchema when s needs it.
func Prepare(ctx context.Context, s Storage) error {
	if m, ok := s.(SchemaEnsurer); ok {
		if err := m.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CheckIndex rejects negative indices.
func CheckIndex(idx int) error {
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, idx)
	}
	return nil
}
