// Package balance reads wallet balances: every configured asset of an EVM
// chain through its provider, and the primary bitcoin ledger through public
// block explorers.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/portfolio-aggregator/internal/chain"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/provider"
	"github.com/portfolio-aggregator/internal/retry"
)

var evmAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidateEVMAddress checks the 0x-prefixed 20-byte hex form
func ValidateEVMAddress(address string) error {
	if !evmAddressPattern.MatchString(address) {
		return apperrors.NewInvalidAddressError(address)
	}
	return nil
}

// Reader is what the fetcher needs from a chain provider
type Reader interface {
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// ReaderFunc resolves the reader for a chain
type ReaderFunc func(ctx context.Context, desc chain.Descriptor) (Reader, error)

// FromRegistry resolves readers through the provider registry
func FromRegistry(reg *provider.Registry) ReaderFunc {
	return func(ctx context.Context, desc chain.Descriptor) (Reader, error) {
		p, err := reg.GetOrInit(ctx, desc)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Balance is one asset's holding on one chain
type Balance struct {
	Symbol   string
	Name     string
	Decimals uint8
	Contract string
	Raw      string
	Float    float64
}

// Fetcher reads every configured asset of a chain concurrently
type Fetcher struct {
	readers ReaderFunc
	policy  retry.Policy
	logger  *logging.Logger
}

// NewFetcher creates a fetcher using the balance retry policy
func NewFetcher(readers ReaderFunc) *Fetcher {
	return &Fetcher{
		readers: readers,
		policy:  retry.BalancePolicy(),
		logger:  logging.Component("balance"),
	}
}

// WithPolicy overrides the per-asset retry policy
func (f *Fetcher) WithPolicy(p retry.Policy) *Fetcher {
	f.policy = p
	return f
}

// GetChainBalances returns the wallet's balance of every asset on desc, in
// the chain's configured asset order. An asset that fails after its retries
// is logged and left out without affecting the others. An error is returned
// for a bad address, an unusable provider, or when every asset failed.
func (f *Fetcher) GetChainBalances(ctx context.Context, desc chain.Descriptor, walletAddress string) ([]Balance, error) {
	if err := ValidateEVMAddress(walletAddress); err != nil {
		return nil, err
	}
	owner := common.HexToAddress(walletAddress)

	reader, err := f.readers(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("provider for %s: %w", desc.Name, err)
	}

	logger := f.logger.WithField("chain", desc.Name)
	start := time.Now()

	results := make([]*Balance, len(desc.Assets))
	var wg sync.WaitGroup
	for i, asset := range desc.Assets {
		wg.Add(1)
		go func(i int, asset chain.Asset) {
			defer wg.Done()

			raw, err := retry.Value(ctx, f.policy, func(ctx context.Context, attempt int) (*big.Int, error) {
				return f.readAsset(ctx, reader, asset, owner)
			})
			if err != nil {
				logger.WithField("asset", asset.Symbol).WithError(err).Warn("asset balance unavailable")
				return
			}

			results[i] = &Balance{
				Symbol:   asset.Symbol,
				Name:     asset.Name,
				Decimals: asset.Decimals,
				Contract: asset.Contract,
				Raw:      raw.String(),
				Float:    ToFloat(raw, asset.Decimals),
			}
		}(i, asset)
	}
	wg.Wait()

	out := make([]Balance, 0, len(results))
	for _, b := range results {
		if b != nil {
			out = append(out, *b)
		}
	}

	logger.WithFields(map[string]interface{}{
		"assets":   len(desc.Assets),
		"fetched":  len(out),
		"duration": time.Since(start).String(),
	}).Debug("chain balances fetched")

	if len(out) == 0 && len(desc.Assets) > 0 {
		return nil, apperrors.NewConnectivityError(desc.Name, fmt.Errorf("no asset balance could be read"))
	}
	return out, nil
}

func (f *Fetcher) readAsset(ctx context.Context, reader Reader, asset chain.Asset, owner common.Address) (*big.Int, error) {
	if asset.IsNative() {
		return reader.GetBalance(ctx, owner)
	}

	token := common.HexToAddress(asset.Contract)
	out, err := reader.CallContract(ctx, ethereum.CallMsg{To: &token, Data: EncodeBalanceOf(owner)})
	if err != nil {
		return nil, err
	}
	v, err := DecodeUint256(out)
	if err != nil {
		// a malformed reply will not improve on retry
		return nil, retry.Permanent(apperrors.NewDataError(asset.Symbol, err))
	}
	return v, nil
}
