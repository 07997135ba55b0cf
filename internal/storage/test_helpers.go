package storage

import (
	"context"
	"testing"
	"time"

	"github.com/portfolio-aggregator/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testPostgres connects to the local development database, skipping the test
// in short mode or when it is unreachable. The schema must be migrated.
func testPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewPostgresDB(&config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "portfolio",
		User:           "portfolio",
		Password:       "portfolio_dev_password",
		MaxConnections: 4,
	})
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	var exists bool
	if err := db.Pool().QueryRow(testContext(t), `SELECT to_regclass('public.asset_balances') IS NOT NULL`).Scan(&exists); err != nil || !exists {
		t.Skip("Skipping test - schema not migrated")
	}
	return db
}
