// Package badgerdb stores queue entries in an embedded BadgerDB with
// synchronous writes.
package badgerdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/loykin/logship/internal/store"
)

// DB implements store.Storage. Keys are "<namespace>/" followed by the
// big-endian index so iteration order equals index order.
type DB struct {
	db     *badger.DB
	prefix []byte
}

// New opens (or creates) a database in dir. An empty dir opens an
// in-memory database, which is handy in tests.
func New(dir, ns string) (*DB, error) {
	dir = strings.TrimSpace(dir)
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = true
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	return &DB{db: db, prefix: []byte(ns + "/")}, nil
}

func (s *DB) key(idx int) []byte {
	k := make([]byte, len(s.prefix)+8)
	copy(k, s.prefix)
	binary.BigEndian.PutUint64(k[len(s.prefix):], uint64(idx))
	return k
}

func (s *DB) index(k []byte) int {
	return int(binary.BigEndian.Uint64(k[len(s.prefix):]))
}

func (s *DB) Get(_ context.Context, idx int) (string, error) {
	if idx < 0 {
		return "", store.ErrNotFound
	}
	var v string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(idx))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v = string(val)
			return nil
		})
	})
	return v, err
}

func (s *DB) Set(_ context.Context, idx int, value string) error {
	if err := store.CheckIndex(idx); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(idx), []byte(value))
	})
}

func (s *DB) Remove(_ context.Context, idx int) error {
	if idx < 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(s.key(idx)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

func (s *DB) Keys(_ context.Context) ([]int, error) {
	keys := make([]int, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, s.index(it.Item().Key()))
		}
		return nil
	})
	return keys, err
}

// Shift rewrites the namespace in a single read-write transaction.
func (s *DB) Shift(_ context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		type entry struct {
			idx int
			val []byte
		}
		var entries []entry
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			entries = append(entries, entry{idx: s.index(item.KeyCopy(nil)), val: val})
		}
		it.Close()

		for _, e := range entries {
			if err := txn.Delete(s.key(e.idx)); err != nil {
				return err
			}
		}
		for _, e := range entries {
			if e.idx < n {
				continue
			}
			if err := txn.Set(s.key(e.idx-n), e.val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DB) Close() error { return s.db.Close() }
