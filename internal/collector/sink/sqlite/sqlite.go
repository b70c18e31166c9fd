package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/logship/internal/collector/sink"
)

// Sink writes received payloads to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	// Handle sqlite:// prefix
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)

	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS received_payloads(
		received_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		remote TEXT NOT NULL,
		payload TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, r sink.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO received_payloads(received_at, remote, payload)
		VALUES(?, ?, ?);`,
		r.ReceivedAt.UTC(), r.Remote, r.Payload)
	return err
}

// Payloads returns stored payloads oldest first.
func (s *Sink) Payloads(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM received_payloads ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
