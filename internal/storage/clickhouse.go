package storage

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/portfolio-aggregator/internal/config"
)

// ClickHouseDB holds the native-protocol connection behind the balance
// history sink. Writes are small periodic batches, so the pool stays small.
type ClickHouseDB struct {
	conn driver.Conn
}

func clickHouseOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 30,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     4,
		MaxIdleConns:     1,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
}

// NewClickHouseDB opens the connection and pings it once; a sink that cannot
// reach the server is reported to the caller instead of failing every insert.
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(clickHouseOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse at %s:%s: %w", cfg.Host, cfg.Port, err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the connection
func (db *ClickHouseDB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Conn returns the underlying driver connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec runs a statement that returns no rows; it satisfies the migration runner.
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}
