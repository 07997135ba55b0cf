package service

import (
	"context"

	"github.com/portfolio-aggregator/internal/balance"
	"github.com/portfolio-aggregator/internal/chain"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/storage"
)

// WalletRepository interface for wallet data operations
type WalletRepository interface {
	Upsert(ctx context.Context, w *models.Wallet) error
	GetByID(ctx context.Context, id string) (*models.Wallet, error)
	List(ctx context.Context) ([]*models.Wallet, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// AssetBalanceRepository interface for asset balance operations
type AssetBalanceRepository interface {
	UpsertBatch(ctx context.Context, balances []*models.AssetBalance) error
	ListByWallet(ctx context.Context, walletID string) ([]*models.AssetBalance, error)
	ListAll(ctx context.Context) ([]*models.AssetBalance, error)
}

// DashboardRepository interface for the dashboard headline
type DashboardRepository interface {
	Upsert(ctx context.Context, s *models.DashboardStats) error
	Get(ctx context.Context) (*models.DashboardStats, error)
}

// SnapshotRepository interface for daily totals
type SnapshotRepository interface {
	Upsert(ctx context.Context, s *models.PortfolioSnapshot) error
	History(ctx context.Context, days int) ([]*models.PortfolioSnapshot, error)
}

// BalanceHistorySink receives every refresh's balances. Optional.
type BalanceHistorySink interface {
	InsertBatch(ctx context.Context, records []storage.BalanceHistoryRecord) error
}

// ChainBalanceFetcher reads every configured asset of one EVM chain
type ChainBalanceFetcher interface {
	GetChainBalances(ctx context.Context, desc chain.Descriptor, walletAddress string) ([]balance.Balance, error)
}

// PrimaryBalanceFetcher reads bitcoin address balances
type PrimaryBalanceFetcher interface {
	GetTotalBalance(ctx context.Context, addresses []string) (total float64, failed []string)
}

// PriceSnapshotter hands out a consistent view of cached prices
type PriceSnapshotter interface {
	Snapshot() price.Prices
}
