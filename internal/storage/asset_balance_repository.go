package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/portfolio-aggregator/internal/models"
)

const upsertAssetBalanceSQL = `
	INSERT INTO asset_balances (
		id, wallet_id, chain, chain_id, asset_symbol, asset_name, asset_decimals,
		contract_address, balance, balance_float, usd_price, usd_value, is_testnet, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (wallet_id, chain, asset_symbol) DO UPDATE SET
		chain_id = EXCLUDED.chain_id,
		asset_name = EXCLUDED.asset_name,
		asset_decimals = EXCLUDED.asset_decimals,
		contract_address = EXCLUDED.contract_address,
		balance = EXCLUDED.balance,
		balance_float = EXCLUDED.balance_float,
		usd_price = EXCLUDED.usd_price,
		usd_value = EXCLUDED.usd_value,
		is_testnet = EXCLUDED.is_testnet,
		updated_at = EXCLUDED.updated_at
`

// AssetBalanceRepository persists the latest balance of every asset
type AssetBalanceRepository struct {
	db *PostgresDB
}

// NewAssetBalanceRepository creates a new asset balance repository
func NewAssetBalanceRepository(db *PostgresDB) *AssetBalanceRepository {
	return &AssetBalanceRepository{db: db}
}

func upsertArgs(b *models.AssetBalance) []interface{} {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	return []interface{}{
		b.ID,
		b.WalletID,
		b.Chain,
		int64(b.ChainID), // #nosec G115 - chain ids fit in int64
		b.AssetSymbol,
		b.AssetName,
		int16(b.AssetDecimals),
		b.ContractAddress,
		b.Balance,
		b.BalanceFloat,
		b.USDPrice,
		b.USDValue,
		b.IsTestnet,
		b.UpdatedAt,
	}
}

// Upsert writes a single row
func (r *AssetBalanceRepository) Upsert(ctx context.Context, b *models.AssetBalance) error {
	if _, err := r.db.Pool().Exec(ctx, upsertAssetBalanceSQL, upsertArgs(b)...); err != nil {
		return fmt.Errorf("failed to upsert asset balance %s/%s: %w", b.Chain, b.AssetSymbol, err)
	}
	return nil
}

// UpsertBatch writes every row in one transaction using a single batch
// round trip. Either all rows are written or none.
func (r *AssetBalanceRepository) UpsertBatch(ctx context.Context, balances []*models.AssetBalance) error {
	if len(balances) == 0 {
		return nil
	}

	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range balances {
			batch.Queue(upsertAssetBalanceSQL, upsertArgs(b)...)
		}

		br := tx.SendBatch(ctx, batch)
		for _, b := range balances {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to upsert asset balance %s/%s: %w", b.Chain, b.AssetSymbol, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("failed to close batch: %w", err)
		}
		return nil
	})
}

const selectAssetBalanceSQL = `
	SELECT id, wallet_id, chain, chain_id, asset_symbol, asset_name, asset_decimals,
		contract_address, balance, balance_float, usd_price, usd_value, is_testnet, updated_at
	FROM asset_balances
`

// ListByWallet returns the wallet's rows ordered by USD value, largest first
func (r *AssetBalanceRepository) ListByWallet(ctx context.Context, walletID string) ([]*models.AssetBalance, error) {
	rows, err := r.db.Pool().Query(ctx, selectAssetBalanceSQL+`
		WHERE wallet_id = $1
		ORDER BY usd_value DESC, chain ASC, asset_symbol ASC`, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset balances: %w", err)
	}
	return scanAssetBalances(rows)
}

// ListAll returns the rows of every wallet, grouped by wallet
func (r *AssetBalanceRepository) ListAll(ctx context.Context) ([]*models.AssetBalance, error) {
	rows, err := r.db.Pool().Query(ctx, selectAssetBalanceSQL+`
		ORDER BY wallet_id ASC, usd_value DESC, chain ASC, asset_symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all asset balances: %w", err)
	}
	return scanAssetBalances(rows)
}

func scanAssetBalances(rows pgx.Rows) ([]*models.AssetBalance, error) {
	defer rows.Close()

	var out []*models.AssetBalance
	for rows.Next() {
		var (
			b        models.AssetBalance
			chainID  int64
			decimals int16
		)
		if err := rows.Scan(
			&b.ID,
			&b.WalletID,
			&b.Chain,
			&chainID,
			&b.AssetSymbol,
			&b.AssetName,
			&decimals,
			&b.ContractAddress,
			&b.Balance,
			&b.BalanceFloat,
			&b.USDPrice,
			&b.USDValue,
			&b.IsTestnet,
			&b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan asset balance: %w", err)
		}
		b.ChainID = uint64(chainID)       // #nosec G115 - written from uint64
		b.AssetDecimals = uint8(decimals) // #nosec G115 - written from uint8
		out = append(out, &b)
	}
	return out, rows.Err()
}
