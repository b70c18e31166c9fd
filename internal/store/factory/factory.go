package factory

import (
	"errors"
	"strings"

	"github.com/loykin/logship/internal/store"
	bg "github.com/loykin/logship/internal/store/badgerdb"
	mem "github.com/loykin/logship/internal/store/memory"
	pg "github.com/loykin/logship/internal/store/postgres"
	rd "github.com/loykin/logship/internal/store/redisdb"
	sq "github.com/loykin/logship/internal/store/sqlite"
)

// NewFromDSN selects a storage implementation based on DSN.
// Supported:
//   - memory:   "memory://" (not durable)
//   - sqlite:   "sqlite:///<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - badger:   "badger:///<dir>"
//   - redis:    "redis://host:port/db" or "rediss://..."
//
// Entries are scoped to namespace.
func NewFromDSN(dsn, namespace string) (store.Storage, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("empty namespace")
	}
	switch {
	case strings.HasPrefix(ld, "memory://"):
		return mem.New(), nil
	case strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d, namespace)
	case strings.HasPrefix(ld, "badger://"):
		return bg.New(d[len("badger://"):], namespace)
	case strings.HasPrefix(ld, "redis://") || strings.HasPrefix(ld, "rediss://"):
		return rd.New(d, namespace)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):], namespace)
	case strings.Contains(ld, "://"):
		return nil, errors.New("unsupported DSN format: " + d)
	}
	// default to sqlite path
	return sq.New(d, namespace)
}
