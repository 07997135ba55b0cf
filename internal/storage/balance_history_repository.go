package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-aggregator/internal/models"
)

// BalanceHistoryRecord is one row of the ClickHouse balance_history table
type BalanceHistoryRecord struct {
	WalletID     string    `json:"walletId"`
	Chain        string    `json:"chain"`
	AssetSymbol  string    `json:"assetSymbol"`
	Balance      string    `json:"balance"`
	BalanceFloat float64   `json:"balanceFloat"`
	USDPrice     float64   `json:"usdPrice"`
	USDValue     float64   `json:"usdValue"`
	IsTestnet    bool      `json:"isTestnet"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// BalanceHistoryRepository appends every refresh's balances to ClickHouse
type BalanceHistoryRepository struct {
	db *ClickHouseDB
}

// NewBalanceHistoryRepository creates a new balance history repository
func NewBalanceHistoryRepository(db *ClickHouseDB) *BalanceHistoryRepository {
	return &BalanceHistoryRepository{db: db}
}

// HistoryRecords converts persisted balances into history rows stamped at
func HistoryRecords(balances []*models.AssetBalance, at time.Time) []BalanceHistoryRecord {
	out := make([]BalanceHistoryRecord, 0, len(balances))
	for _, b := range balances {
		out = append(out, BalanceHistoryRecord{
			WalletID:     b.WalletID,
			Chain:        b.Chain,
			AssetSymbol:  strings.ToUpper(b.AssetSymbol),
			Balance:      b.Balance,
			BalanceFloat: b.BalanceFloat,
			USDPrice:     b.USDPrice,
			USDValue:     b.USDValue,
			IsTestnet:    b.IsTestnet,
			RecordedAt:   at.UTC(),
		})
	}
	return out
}

// InsertBatch appends the records in one batch
func (r *BalanceHistoryRepository) InsertBatch(ctx context.Context, records []BalanceHistoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO balance_history (wallet_id, chain, asset_symbol, balance, balance_float, usd_price, usd_value, is_testnet, recorded_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, rec := range records {
		var testnet uint8
		if rec.IsTestnet {
			testnet = 1
		}
		if err := batch.Append(
			rec.WalletID,
			rec.Chain,
			rec.AssetSymbol,
			rec.Balance,
			rec.BalanceFloat,
			rec.USDPrice,
			rec.USDValue,
			testnet,
			rec.RecordedAt,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// ListByWallet returns the wallet's history for one asset between from and
// to, oldest first.
func (r *BalanceHistoryRepository) ListByWallet(ctx context.Context, walletID, symbol string, from, to time.Time) ([]BalanceHistoryRecord, error) {
	query := `
		SELECT wallet_id, chain, asset_symbol, balance, balance_float, usd_price, usd_value, is_testnet, recorded_at
		FROM balance_history
		WHERE wallet_id = ? AND asset_symbol = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, walletID, strings.ToUpper(symbol), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance history: %w", err)
	}
	defer rows.Close()

	var out []BalanceHistoryRecord
	for rows.Next() {
		var (
			rec     BalanceHistoryRecord
			testnet uint8
		)
		if err := rows.Scan(
			&rec.WalletID,
			&rec.Chain,
			&rec.AssetSymbol,
			&rec.Balance,
			&rec.BalanceFloat,
			&rec.USDPrice,
			&rec.USDValue,
			&testnet,
			&rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan balance history: %w", err)
		}
		rec.IsTestnet = testnet == 1
		out = append(out, rec)
	}
	return out, rows.Err()
}
