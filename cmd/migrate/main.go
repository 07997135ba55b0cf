// Package main applies the Postgres schema (wallets, asset balances,
// dashboard stats, snapshots) and the ClickHouse balance history table.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/portfolio-aggregator/internal/app"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		dbType = flag.String("db", "postgres", "Database: postgres, clickhouse, all")
		dir    = flag.String("dir", "migrations", "Directory holding the postgres and clickhouse migration folders")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := app.InitLogging(cfg).WithFields(map[string]interface{}{
		"component": "migrate",
		"action":    *action,
	})

	targets := []string{*dbType}
	if *dbType == "all" {
		targets = []string{"postgres", "clickhouse"}
	}

	for _, target := range targets {
		path := filepath.Join(*dir, target)
		var err error
		switch target {
		case "postgres":
			err = migratePostgres(cfg, *action, path, logger)
		case "clickhouse":
			err = migrateClickHouse(cfg, *action, path, logger)
		default:
			err = fmt.Errorf("unknown database type: %s", target)
		}
		if err != nil {
			logger.WithField("db", target).WithError(err).Fatal("migration failed")
		}
	}
}

func migratePostgres(cfg *config.Config, action, path string, logger *logging.Logger) error {
	m := storage.NewMigrator(storage.PostgresURL(&cfg.Database.Postgres), path)
	logger = logger.WithField("db", "postgres")

	switch action {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
	case "down":
		if err := m.Down(); err != nil {
			return err
		}
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"version": version,
			"dirty":   dirty,
		}).Info("current schema version")
		return nil
	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	logger.Info("migration completed")
	return nil
}

func migrateClickHouse(cfg *config.Config, action, path string, logger *logging.Logger) error {
	if action != "up" {
		return fmt.Errorf("clickhouse migrations only support the up action")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("migrations directory: %w", err)
	}

	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("closing clickhouse connection")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := storage.RunClickHouseMigrations(ctx, db, path); err != nil {
		return err
	}
	logger.WithField("db", "clickhouse").Info("migration completed")
	return nil
}
