package postgres

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/logship/internal/store"
)

// DB implements store.Storage on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
	ns string
}

func New(dsn, ns string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d, ns: ns}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS delivery_queue(
			namespace TEXT NOT NULL,
			idx INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY(namespace, idx)
		);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Get(ctx context.Context, idx int) (string, error) {
	var v string
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM delivery_queue WHERE namespace=$1 AND idx=$2;`, p.ns, idx).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return v, err
}

func (p *DB) Set(ctx context.Context, idx int, value string) error {
	if err := store.CheckIndex(idx); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO delivery_queue(namespace, idx, payload)
		VALUES($1, $2, $3)
		ON CONFLICT(namespace, idx) DO UPDATE SET payload=EXCLUDED.payload;`,
		p.ns, idx, value)
	return err
}

func (p *DB) Remove(ctx context.Context, idx int) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM delivery_queue WHERE namespace=$1 AND idx=$2;`, p.ns, idx)
	return err
}

func (p *DB) Keys(ctx context.Context) ([]int, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT idx FROM delivery_queue WHERE namespace=$1 AND idx >= 0 ORDER BY idx;`, p.ns)
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
func (p *DB) Shift(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM delivery_queue WHERE namespace=$1 AND idx < $2;`, p.ns, n); err != nil {
		return err
	}
	// postgres checks unique constraints per row, so renumber through negatives
	if _, err := tx.ExecContext(ctx,
		`UPDATE delivery_queue SET idx = -(idx - $1) - 1 WHERE namespace=$2 AND idx >= $1;`, n, p.ns); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE delivery_queue SET idx = -idx - 1 WHERE namespace=$1 AND idx < 0;`, p.ns); err != nil {
		return err
	}
	return tx.Commit()
}
