package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/logship/internal/collector/sink"
)

// Sink sends payloads to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr (host:port of the native protocol) and creates
// table when missing.
func New(addr, database, table string) (*Sink, error) {
	if database == "" {
		database = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		received_at DateTime64(3),
		remote String,
		payload String
	) ENGINE = MergeTree ORDER BY received_at`, s.table)
	if err := s.conn.Exec(ctx, q); err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, r sink.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (received_at, remote, payload) VALUES (?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, query, r.ReceivedAt.UTC(), r.Remote, r.Payload); err != nil {
		return fmt.Errorf("failed to insert payload into ClickHouse: %w", err)
	}
	return nil
}

// Count returns the number of stored payloads.
func (s *Sink) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, fmt.Sprintf(`SELECT count() FROM %s`, s.table)).Scan(&n)
	return n, err
}
