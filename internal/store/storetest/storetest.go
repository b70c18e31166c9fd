// Package storetest holds behaviour checks shared by every Storage
// backend's tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/loykin/logship/internal/store"
)

// Run exercises s through the Storage contract. s must be empty.
func Run(t *testing.T, s store.Storage) {
	t.Helper()
	ctx := context.Background()
	if err := store.Prepare(ctx, s); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("keys on empty store: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected empty store, got keys %v", keys)
	}
	if _, err := s.Get(ctx, 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get missing: expected ErrNotFound, got %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := s.Set(ctx, i, fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	if err := s.Set(ctx, 2, "v2b"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, err := s.Get(ctx, 2); err != nil || got != "v2b" {
		t.Fatalf("get after overwrite: %q %v", got, err)
	}
	if err := s.Set(ctx, -1, "bad"); !errors.Is(err, store.ErrInvalidIndex) {
		t.Fatalf("negative index: expected ErrInvalidIndex, got %v", err)
	}

	keys, err = s.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if !slices.Equal(keys, []int{0, 1, 2, 3, 4}) {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if err := s.Remove(ctx, 4); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, 4); err != nil {
		t.Fatalf("remove missing should not fail: %v", err)
	}
	if _, err := s.Get(ctx, 4); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get removed: expected ErrNotFound, got %v", err)
	}

	sh, ok := s.(store.Shifter)
	if !ok {
		return
	}
	// 0:v0 1:v1 2:v2b 3:v3 -> shift 2 -> 0:v2b 1:v3
	if err := sh.Shift(ctx, 2); err != nil {
		t.Fatalf("shift: %v", err)
	}
	keys, err = s.Keys(ctx)
	if err != nil {
		t.Fatalf("keys after shift: %v", err)
	}
	if !slices.Equal(keys, []int{0, 1}) {
		t.Fatalf("keys after shift: %v", keys)
	}
	for i, want := range []string{"v2b", "v3"} {
		got, err := s.Get(ctx, i)
		if err != nil || got != want {
			t.Fatalf("after shift idx %d: got %q (%v) want %q", i, got, err, want)
		}
	}
	if err := sh.Shift(ctx, 5); err != nil {
		t.Fatalf("shift past end: %v", err)
	}
	keys, _ = s.Keys(ctx)
	if len(keys) != 0 {
		t.Fatalf("expected empty after large shift, got %v", keys)
	}
}

// RunIsolation checks that two stores over the same backend but different
// namespaces do not see each other's entries.
func RunIsolation(t *testing.T, a, b store.Storage) {
	t.Helper()
	ctx := context.Background()
	for _, s := range []store.Storage{a, b} {
		if err := store.Prepare(ctx, s); err != nil {
			t.Fatalf("prepare: %v", err)
		}
	}
	if err := a.Set(ctx, 0, "a0"); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := b.Set(ctx, 0, "b0"); err != nil {
		t.Fatalf("set b: %v", err)
	}
	if got, _ := a.Get(ctx, 0); got != "a0" {
		t.Fatalf("namespace a sees %q", got)
	}
	if got, _ := b.Get(ctx, 0); got != "b0" {
		t.Fatalf("namespace b sees %q", got)
	}
	if sh, ok := a.(store.Shifter); ok {
		if err := sh.Shift(ctx, 1); err != nil {
			t.Fatalf("shift a: %v", err)
		}
		if got, err := b.Get(ctx, 0); err != nil || got != "b0" {
			t.Fatalf("shift in a touched b: %q %v", got, err)
		}
	}
}
