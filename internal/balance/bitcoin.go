package balance

import (
	"context"
	"fmt"
	"strings"

	"github.com/portfolio-aggregator/internal/circuitbreaker"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/httpclient"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/retry"
)

type blockstreamStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type blockstreamAddress struct {
	Address      string           `json:"address"`
	ChainStats   blockstreamStats `json:"chain_stats"`
	MempoolStats blockstreamStats `json:"mempool_stats"`
}

type blockchainInfoAddress struct {
	FinalBalance  int64 `json:"final_balance"`
	NTx           int64 `json:"n_tx"`
	TotalReceived int64 `json:"total_received"`
}

// explorer is one bitcoin balance API
type explorer struct {
	name  string
	query func(ctx context.Context, address string) (int64, error)
}

// BitcoinClient reads bitcoin address balances, trying each explorer in
// turn with its own retries.
type BitcoinClient struct {
	http      *httpclient.Client
	explorers []explorer
	policy    retry.Policy
	breakers  *circuitbreaker.Manager
	logger    *logging.Logger
}

// NewBitcoinClient queries Blockstream first and Blockchain.info second
func NewBitcoinClient(http *httpclient.Client, blockstreamURL, blockchainInfoURL string, breakers *circuitbreaker.Manager) *BitcoinClient {
	if breakers == nil {
		breakers = circuitbreaker.NewManager()
	}
	b := &BitcoinClient{
		http:     http,
		policy:   retry.BalancePolicy(),
		breakers: breakers,
		logger:   logging.Component("bitcoin"),
	}

	blockstream := strings.TrimRight(blockstreamURL, "/")
	blockchainInfo := strings.TrimRight(blockchainInfoURL, "/")

	b.explorers = []explorer{
		{name: "blockstream", query: func(ctx context.Context, address string) (int64, error) {
			var resp blockstreamAddress
			if err := b.http.GetJSON(ctx, fmt.Sprintf("%s/address/%s", blockstream, address), nil, &resp); err != nil {
				return 0, err
			}
			confirmed := resp.ChainStats.FundedTxoSum - resp.ChainStats.SpentTxoSum
			pending := resp.MempoolStats.FundedTxoSum - resp.MempoolStats.SpentTxoSum
			return confirmed + pending, nil
		}},
		{name: "blockchain.info", query: func(ctx context.Context, address string) (int64, error) {
			var resp blockchainInfoAddress
			if err := b.http.GetJSON(ctx, fmt.Sprintf("%s/rawaddr/%s?limit=0", blockchainInfo, address), nil, &resp); err != nil {
				return 0, err
			}
			return resp.FinalBalance, nil
		}},
	}
	return b
}

// WithPolicy overrides the per-explorer retry policy
func (b *BitcoinClient) WithPolicy(p retry.Policy) *BitcoinClient {
	b.policy = p
	return b
}

// GetBalance returns the address balance in BTC
func (b *BitcoinClient) GetBalance(ctx context.Context, address string) (float64, error) {
	if strings.TrimSpace(address) == "" {
		return 0, apperrors.NewInvalidAddressError(address)
	}

	var errs []string
	for _, ex := range b.explorers {
		breaker := b.breakers.GetOrCreate(ex.name, nil)
		sats, err := retry.Value(ctx, b.policy, func(ctx context.Context, attempt int) (int64, error) {
			var sats int64
			err := breaker.Execute(ctx, func(ctx context.Context) error {
				var qerr error
				sats, qerr = ex.query(ctx, address)
				return qerr
			})
			// open breakers and bad payloads are not retried
			if err != nil && !apperrors.IsRetryable(err) {
				return 0, retry.Permanent(err)
			}
			return sats, err
		})
		if err == nil {
			b.logger.WithFields(map[string]interface{}{
				"explorer": ex.name,
				"address":  address,
			}).Debug("bitcoin balance fetched")
			return SatoshisToBTC(sats), nil
		}

		b.logger.WithField("explorer", ex.name).WithError(err).Warn("bitcoin explorer failed, trying next")
		errs = append(errs, fmt.Sprintf("%s: %v", ex.name, err))
	}

	return 0, apperrors.NewConnectivityError("bitcoin explorers", fmt.Errorf("%s", strings.Join(errs, "; ")))
}

// GetTotalBalance sums the balances of several addresses. Addresses that
// cannot be read are reported through failed.
func (b *BitcoinClient) GetTotalBalance(ctx context.Context, addresses []string) (total float64, failed []string) {
	for _, a := range addresses {
		v, err := b.GetBalance(ctx, a)
		if err != nil {
			failed = append(failed, a)
			continue
		}
		total += v
	}
	return total, failed
}
