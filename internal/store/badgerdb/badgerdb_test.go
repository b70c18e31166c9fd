package badgerdb

import (
	"context"
	"testing"

	"github.com/loykin/logship/internal/store/storetest"
)

func TestBadgerConformance(t *testing.T) {
	db, err := New("", "test")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	storetest.Run(t, db)
}

func TestBadgerNamespacesShareOneDirectory(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, "a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// a second handle on the same directory is locked, so namespace b
	// reuses the underlying database
	b := &DB{db: a.db, prefix: []byte("b/")}
	t.Cleanup(func() { _ = a.Close() })
	storetest.RunIsolation(t, a, b)
}

func TestBadgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := New(dir, "ns")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i, v := range []string{"x", "y", "z"} {
		if err := db.Set(ctx, i, v); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := db.Shift(ctx, 1); err != nil {
		t.Fatalf("shift: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := New(dir, "ns")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = again.Close() })
	keys, err := again.Keys(ctx)
	if err != nil || len(keys) != 2 {
		t.Fatalf("keys after reopen: %v %v", keys, err)
	}
	if got, _ := again.Get(ctx, 0); got != "y" {
		t.Fatalf("oldest after reopen: %q", got)
	}
}
