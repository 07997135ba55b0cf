package service

import (
	"context"
	"strings"

	"github.com/portfolio-aggregator/internal/balance"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
)

// Input types

// CreateWalletInput represents input for registering a wallet
type CreateWalletInput struct {
	Label        string   `json:"label"`
	EVMAddress   string   `json:"evmAddress"`
	BTCAddresses []string `json:"btcAddresses"`
}

// Validate normalises the input and checks that at least one address is
// present and the EVM address is well formed.
func (in *CreateWalletInput) Validate() error {
	in.Label = strings.TrimSpace(in.Label)
	in.EVMAddress = strings.TrimSpace(in.EVMAddress)

	seen := make(map[string]struct{}, len(in.BTCAddresses))
	btc := make([]string, 0, len(in.BTCAddresses))
	for _, a := range in.BTCAddresses {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		btc = append(btc, a)
	}
	in.BTCAddresses = btc

	if in.EVMAddress == "" && len(in.BTCAddresses) == 0 {
		return apperrors.NewInvalidParameterError("addresses", "an EVM or bitcoin address is required")
	}
	if in.EVMAddress != "" {
		if err := balance.ValidateEVMAddress(in.EVMAddress); err != nil {
			return err
		}
	}
	if len(in.Label) > 128 {
		return apperrors.NewInvalidParameterError("label", "must be at most 128 characters")
	}
	return nil
}

// CreateWallet registers a wallet under a new id
func (s *PortfolioService) CreateWallet(ctx context.Context, in CreateWalletInput) (*models.Wallet, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	w := &models.Wallet{
		Label:        in.Label,
		EVMAddress:   in.EVMAddress,
		BTCAddresses: in.BTCAddresses,
	}
	if err := s.wallets.Upsert(ctx, w); err != nil {
		return nil, apperrors.NewPersistenceError("create wallet", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"wallet_id": w.ID,
		"btc":       len(w.BTCAddresses),
		"evm":       w.EVMAddress != "",
	}).Info("wallet created")
	return w, nil
}

// GetWallet returns a wallet or a not-found error
func (s *PortfolioService) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	return s.getWallet(ctx, walletID)
}

// ListWallets returns every wallet
func (s *PortfolioService) ListWallets(ctx context.Context) ([]*models.Wallet, error) {
	wallets, err := s.wallets.List(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list wallets", err)
	}
	if wallets == nil {
		wallets = []*models.Wallet{}
	}
	return wallets, nil
}

// DeleteWallet removes a wallet and its balances
func (s *PortfolioService) DeleteWallet(ctx context.Context, walletID string) error {
	if _, err := s.getWallet(ctx, walletID); err != nil {
		return err
	}
	deleted, err := s.wallets.Delete(ctx, walletID)
	if err != nil {
		return apperrors.NewPersistenceError("delete wallet", err)
	}
	if !deleted {
		return apperrors.NewNotFoundError("wallet", walletID)
	}
	s.allocCache.Delete(walletID)
	s.logger.WithField("wallet_id", walletID).Info("wallet deleted")
	return nil
}
