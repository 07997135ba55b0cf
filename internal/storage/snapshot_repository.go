package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/portfolio-aggregator/internal/models"
)

// SnapshotRepository stores one portfolio total per UTC day
type SnapshotRepository struct {
	db *PostgresDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *PostgresDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// SnapshotDay truncates t to its UTC calendar day
func SnapshotDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Upsert writes the day's total; a second write on the same day wins
func (r *SnapshotRepository) Upsert(ctx context.Context, s *models.PortfolioSnapshot) error {
	s.SnapshotDate = SnapshotDay(s.SnapshotDate)
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO portfolio_snapshots (snapshot_date, total_usd, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (snapshot_date) DO UPDATE SET
			total_usd = EXCLUDED.total_usd,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.Pool().Exec(ctx, query, s.SnapshotDate, s.TotalUSD, s.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// History returns the snapshots of the last days days including today,
// oldest first. Days without a refresh are absent.
func (r *SnapshotRepository) History(ctx context.Context, days int) ([]*models.PortfolioSnapshot, error) {
	if days < 1 {
		days = 1
	}
	since := SnapshotDay(time.Now()).AddDate(0, 0, -(days - 1))

	query := `
		SELECT snapshot_date, total_usd, updated_at
		FROM portfolio_snapshots
		WHERE snapshot_date >= $1
		ORDER BY snapshot_date ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot history: %w", err)
	}
	defer rows.Close()

	var out []*models.PortfolioSnapshot
	for rows.Next() {
		var s models.PortfolioSnapshot
		if err := rows.Scan(&s.SnapshotDate, &s.TotalUSD, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
