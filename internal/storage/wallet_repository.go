package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/portfolio-aggregator/internal/models"
)

// WalletRepository handles wallet persistence
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Upsert creates the wallet, or updates its label and addresses when the id
// already exists. An empty id is assigned a new UUID.
func (r *WalletRepository) Upsert(ctx context.Context, w *models.Wallet) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	if w.BTCAddresses == nil {
		w.BTCAddresses = []string{}
	}

	query := `
		INSERT INTO wallets (id, label, evm_address, btc_addresses, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label,
			evm_address = EXCLUDED.evm_address,
			btc_addresses = EXCLUDED.btc_addresses,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		w.ID,
		w.Label,
		w.EVMAddress,
		w.BTCAddresses,
		w.CreatedAt,
		w.UpdatedAt,
	).Scan(&w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert wallet: %w", err)
	}
	return nil
}

// GetByID returns the wallet, or nil when it does not exist
func (r *WalletRepository) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	query := `
		SELECT id, label, evm_address, btc_addresses, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`

	var w models.Wallet
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&w.ID,
		&w.Label,
		&w.EVMAddress,
		&w.BTCAddresses,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

// List returns every wallet, oldest first
func (r *WalletRepository) List(ctx context.Context) ([]*models.Wallet, error) {
	query := `
		SELECT id, label, evm_address, btc_addresses, created_at, updated_at
		FROM wallets
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*models.Wallet
	for rows.Next() {
		var w models.Wallet
		if err := rows.Scan(&w.ID, &w.Label, &w.EVMAddress, &w.BTCAddresses, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, &w)
	}
	return wallets, rows.Err()
}

// Delete removes the wallet and, through the foreign key, its balances.
// It reports whether a row was deleted.
func (r *WalletRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete wallet: %w", err)
	}
	return result.RowsAffected() > 0, nil
}
