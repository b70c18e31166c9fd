package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/logship/internal/store"
)

// DB implements store.Storage for SQLite (modernc.org/sqlite driver, CGO-free).
// The path is a filesystem path to the database file. Use ":memory:" for in-memory.
// Every call commits before returning, so entries survive a restart.
type DB struct {
	db *sql.DB
	ns string
}

// New opens a SQLite database at path holding entries for namespace ns.
func New(path, ns string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d, ns: ns}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS delivery_queue(
			namespace TEXT NOT NULL,
			idx INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY(namespace, idx)
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Get(ctx context.Context, idx int) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM delivery_queue WHERE namespace=? AND idx=?;`, s.ns, idx).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return v, err
}

func (s *DB) Set(ctx context.Context, idx int, value string) error {
	if err := store.CheckIndex(idx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_queue(namespace, idx, payload)
		VALUES(?, ?, ?)
		ON CONFLICT(namespace, idx) DO UPDATE SET payload=excluded.payload;`,
		s.ns, idx, value)
	return err
}

func (s *DB) Remove(ctx context.Context, idx int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_queue WHERE namespace=? AND idx=?;`, s.ns, idx)
	return err
}

func (s *DB) Keys(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx FROM delivery_queue WHERE namespace=? AND idx >= 0 ORDER BY idx;`, s.ns)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	keys := make([]int, 0)
	for rows.Next() {
		var k int
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Shift drops indices below n and renumbers the rest in one transaction.
// Rows pass through negative indices so the primary key never collides.
func (s *DB) Shift(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmts := []struct {
		q    string
		args []any
	}{
		{`DELETE FROM delivery_queue WHERE namespace=? AND idx < ?;`, []any{s.ns, n}},
		{`UPDATE delivery_queue SET idx = -(idx - ?) - 1 WHERE namespace=? AND idx >= ?;`, []any{n, s.ns, n}},
		{`UPDATE delivery_queue SET idx = -idx - 1 WHERE namespace=? AND idx < 0;`, []any{s.ns}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.q, st.args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
