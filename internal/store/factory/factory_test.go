package factory

import (
	"fmt"
	"path/filepath"
	"testing"
)

func TestFactoryDSNSelection(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name        string
		dsn         string
		wantType    string
		expectError bool
	}{
		{"empty", "", "", true},
		{"unknown scheme", "mongodb://localhost", "", true},
		{"memory", "memory://", "*memory.Store", false},
		{"sqlite scheme", "sqlite://:memory:", "*sqlite.DB", false},
		{"bare path", filepath.Join(dir, "q.db"), "*sqlite.DB", false},
		// sql.Open does not connect, so no server is needed
		{"postgres", "postgres://user@localhost/db", "*postgres.DB", false},
		{"badger", "badger://" + filepath.Join(dir, "badger"), "*badgerdb.DB", false},
		// go-redis connects lazily
		{"redis", "redis://localhost:6379/0", "*redisdb.DB", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewFromDSN(tt.dsn, "ns")
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for DSN %q", tt.dsn)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for DSN %q: %v", tt.dsn, err)
			}
			t.Cleanup(func() { _ = s.Close() })
			if got := fmt.Sprintf("%T", s); got != tt.wantType {
				t.Fatalf("DSN %q: got %s want %s", tt.dsn, got, tt.wantType)
			}
		})
	}
}

func TestFactoryRequiresNamespace(t *testing.T) {
	if _, err := NewFromDSN("memory://", " "); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
}
