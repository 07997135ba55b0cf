package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/portfolio-aggregator/internal/logging"
)

// execer is the part of ClickHouseDB the migration runner needs
type execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// RunClickHouseMigrations executes every *.sql file in migrationsPath in
// name order. Statements must be idempotent (CREATE ... IF NOT EXISTS) since
// ClickHouse keeps no migration version table here.
func RunClickHouseMigrations(ctx context.Context, db execer, migrationsPath string) error {
	logger := logging.Component("clickhouse-migrate")

	files, err := os.ReadDir(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	if len(sqlFiles) == 0 {
		logger.Info("no migration files found")
		return nil
	}

	for _, filename := range sqlFiles {
		content, err := os.ReadFile(filepath.Join(migrationsPath, filename)) // #nosec G304 - trusted migrations dir
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		statements := splitSQLStatements(string(content))
		for i, stmt := range statements {
			if err := db.Exec(ctx, stmt); err != nil {
				logger.WithFields(map[string]interface{}{
					"file":      filename,
					"statement": truncate(stmt, 80),
				}).WithError(err).Error("migration statement failed")
				return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, filename, err)
			}
		}

		logger.WithFields(map[string]interface{}{
			"file":       filename,
			"statements": len(statements),
		}).Info("applied migration")
	}

	return nil
}

// splitSQLStatements splits a file on statement-ending semicolons, dropping
// blank and comment-only lines.
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
