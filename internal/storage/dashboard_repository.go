package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/portfolio-aggregator/internal/models"
)

// DashboardRepository stores the single portfolio-wide dashboard_stats row
type DashboardRepository struct {
	db *PostgresDB
}

// NewDashboardRepository creates a new dashboard repository
func NewDashboardRepository(db *PostgresDB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

// Upsert overwrites the headline
func (r *DashboardRepository) Upsert(ctx context.Context, s *models.DashboardStats) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO dashboard_stats (id, wallet_count, total_usd, total_primary, change_24h_amount, change_24h_percent, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			wallet_count = EXCLUDED.wallet_count,
			total_usd = EXCLUDED.total_usd,
			total_primary = EXCLUDED.total_primary,
			change_24h_amount = EXCLUDED.change_24h_amount,
			change_24h_percent = EXCLUDED.change_24h_percent,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		s.WalletCount,
		s.TotalUSD,
		s.TotalPrimary,
		s.Change24hAmount,
		s.Change24hPercent,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert dashboard stats: %w", err)
	}
	return nil
}

// Get returns the headline, or nil before the first refresh
func (r *DashboardRepository) Get(ctx context.Context) (*models.DashboardStats, error) {
	query := `
		SELECT wallet_count, total_usd, total_primary, change_24h_amount, change_24h_percent, updated_at
		FROM dashboard_stats
		WHERE id = 1
	`

	var s models.DashboardStats
	err := r.db.Pool().QueryRow(ctx, query).Scan(
		&s.WalletCount,
		&s.TotalUSD,
		&s.TotalPrimary,
		&s.Change24hAmount,
		&s.Change24hPercent,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dashboard stats: %w", err)
	}
	return &s, nil
}
