package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loykin/logship/internal/store"
	"github.com/loykin/logship/internal/store/storetest"
)

func TestSQLiteConformance(t *testing.T) {
	db, err := New(":memory:", "test")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	storetest.Run(t, db)
}

func TestSQLiteNamespaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.db")
	a, err := New(path, "a")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := New(path, "b")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	storetest.RunIsolation(t, a, b)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "q.db")
	db, err := New(path, "ns")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Prepare(ctx, db); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := db.Set(ctx, 0, "kept"); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = db.Close()

	again, err := New(path, "ns")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = again.Close() })
	if err := store.Prepare(ctx, again); err != nil {
		t.Fatalf("prepare again: %v", err)
	}
	got, err := again.Get(ctx, 0)
	if err != nil || got != "kept" {
		t.Fatalf("entry lost across reopen: %q %v", got, err)
	}
}

func TestEmptyPath(t *testing.T) {
	if _, err := New("  ", "ns"); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
