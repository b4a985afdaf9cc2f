// Package storage persists feature records and flow snapshots in ClickHouse.
package storage

import (
	"Go2NetSentry/internal/config"
	"context"
	"fmt"
	"log"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		closeConn(conn)
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

type execCloser interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// ensureTable runs a CREATE TABLE statement. The connection is closed when
// the statement fails.
func ensureTable(conn execCloser, statement string) error {
	if err := conn.Exec(context.Background(), statement); err != nil {
		closeConn(conn)
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func closeConn(conn interface{ Close() error }) {
	if err := conn.Close(); err != nil {
		log.Printf("Error closing clickhouse connection: %v", err)
	}
}
