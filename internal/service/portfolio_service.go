package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/portfolio-aggregator/internal/chain"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/storage"
)

// Options tunes the aggregator
type Options struct {
	ChainConcurrency     int
	PrimaryFallbackPrice float64
	AllocationTopN       int
	AllocationCacheTTL   time.Duration
	HistoryDays          int
	Now                  func() time.Time
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		ChainConcurrency:     3,
		PrimaryFallbackPrice: 95000,
		AllocationTopN:       5,
		AllocationCacheTTL:   5 * time.Minute,
		HistoryDays:          7,
		Now:                  time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChainConcurrency < 1 {
		o.ChainConcurrency = d.ChainConcurrency
	}
	if o.PrimaryFallbackPrice < 0 {
		o.PrimaryFallbackPrice = d.PrimaryFallbackPrice
	}
	if o.AllocationTopN < 1 {
		o.AllocationTopN = d.AllocationTopN
	}
	if o.AllocationCacheTTL <= 0 {
		o.AllocationCacheTTL = d.AllocationCacheTTL
	}
	if o.HistoryDays < 1 {
		o.HistoryDays = d.HistoryDays
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Dependencies are the collaborators of PortfolioService. History and
// Monitor are optional.
type Dependencies struct {
	Wallets   WalletRepository
	Balances  AssetBalanceRepository
	Dashboard DashboardRepository
	Snapshots SnapshotRepository
	History   BalanceHistorySink
	Prices    PriceSnapshotter
	Chains    *chain.Table
	EVM       ChainBalanceFetcher
	Primary   PrimaryBalanceFetcher
	Monitor   *RefreshMonitor
}

// PortfolioService aggregates wallet balances across the primary ledger and
// every configured EVM chain into USD totals.
type PortfolioService struct {
	wallets   WalletRepository
	balances  AssetBalanceRepository
	dashboard DashboardRepository
	snapshots SnapshotRepository
	history   BalanceHistorySink
	prices    PriceSnapshotter
	chains    *chain.Table
	evm       ChainBalanceFetcher
	primary   PrimaryBalanceFetcher
	monitor   *RefreshMonitor

	opts       Options
	allocCache *cache.Cache
	logger     *logging.Logger
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(deps Dependencies, opts Options) *PortfolioService {
	opts = opts.withDefaults()
	monitor := deps.Monitor
	if monitor == nil {
		monitor = NewRefreshMonitor(nil)
	}
	return &PortfolioService{
		wallets:    deps.Wallets,
		balances:   deps.Balances,
		dashboard:  deps.Dashboard,
		snapshots:  deps.Snapshots,
		history:    deps.History,
		prices:     deps.Prices,
		chains:     deps.Chains,
		evm:        deps.EVM,
		primary:    deps.Primary,
		monitor:    monitor,
		opts:       opts,
		allocCache: cache.New(opts.AllocationCacheTTL, 2*opts.AllocationCacheTTL),
		logger:     logging.Component("portfolio"),
	}
}

// Output types

// AssetValue is one priced holding
type AssetValue struct {
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	Decimals     uint8    `json:"decimals"`
	Contract     string   `json:"contract,omitempty"`
	Balance      string   `json:"balance"`
	BalanceFloat float64  `json:"balanceFloat"`
	PriceUSD     float64  `json:"priceUsd"`
	ValueUSD     float64  `json:"valueUsd"`
	Change24h    *float64 `json:"change24h,omitempty"`
	Priced       bool     `json:"priced"`
}

// ChainResult is one chain's contribution to a refresh
type ChainResult struct {
	Chain     string       `json:"chain"`
	ChainID   uint64       `json:"chainId"`
	IsTestnet bool         `json:"isTestnet"`
	Assets    []AssetValue `json:"assets"`
	TotalUSD  float64      `json:"totalUsd"`
	Error     string       `json:"error,omitempty"`
}

// PrimaryResult is the bitcoin contribution to a refresh
type PrimaryResult struct {
	Addresses     int      `json:"addresses"`
	Failed        []string `json:"failed,omitempty"`
	Balance       float64  `json:"balance"`
	PriceUSD      float64  `json:"priceUsd"`
	FallbackPrice bool     `json:"fallbackPrice"`
	FromStore     bool     `json:"fromStore"`
	ValueUSD      float64  `json:"valueUsd"`
}

// RefreshResult is the outcome of RefreshPortfolio
type RefreshResult struct {
	WalletID         string        `json:"walletId"`
	TotalUSD         float64       `json:"totalUsd"`
	TotalPrimary     float64       `json:"totalPrimary"`
	Change24hAmount  float64       `json:"change24hAmount"`
	Change24hPercent float64       `json:"change24hPercent"`
	Primary          PrimaryResult `json:"primary"`
	Chains           []ChainResult `json:"chains"`
	UpdatedAt        time.Time     `json:"updatedAt"`

	// Portfolio is the all-wallet headline written to the dashboard and
	// the daily snapshot by this refresh.
	Portfolio models.DashboardStats `json:"portfolio"`
}

// RefreshPortfolio fetches every balance of the wallet, prices it from the
// cache, persists the result and returns the totals. Balance fetch failures
// degrade the result without failing it; only an unknown wallet or a
// persistence failure is returned as an error. Once the wallet is found the
// work is detached from ctx's cancellation so an abandoned caller does not
// leave a half-written refresh.
func (s *PortfolioService) RefreshPortfolio(ctx context.Context, walletID string) (_ *RefreshResult, err error) {
	wallet, err := s.getWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	work := context.WithoutCancel(ctx)
	logger := s.logger.WithField("wallet_id", wallet.ID)
	start := s.opts.Now()

	var (
		result       *RefreshResult
		failedChains []string
	)
	defer func() {
		var total float64
		if result != nil {
			total = result.TotalUSD
		}
		s.monitor.RecordRefresh(s.opts.Now().Sub(start), total, failedChains, err)
	}()

	prices := s.prices.Snapshot()
	logger.WithField("symbols", prices.Len()).Debug("prices_read")

	previous, err := s.balances.ListByWallet(work, wallet.ID)
	if err != nil {
		logger.WithError(err).Warn("could not load previous balances")
	}

	logger.Debug("balances_fetching")
	var (
		wg      sync.WaitGroup
		primary PrimaryResult
		chains  []ChainResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		primary = s.fetchPrimary(work, wallet, prices, previous, logger)
	}()
	go func() {
		defer wg.Done()
		chains = s.fetchChains(work, wallet, prices, logger)
	}()
	wg.Wait()

	for _, c := range chains {
		if c.Error != "" {
			failedChains = append(failedChains, c.Chain)
		}
	}

	logger.Debug("reducing")
	result = s.reduce(wallet.ID, primary, chains, prices)
	result.UpdatedAt = s.opts.Now().UTC()

	logger.Debug("persisting")
	rows := s.balanceRows(wallet.ID, primary, chains, result.UpdatedAt)
	if err = s.persist(work, result, rows, prices); err != nil {
		logger.WithError(err).Error("refresh persistence failed")
		result = nil
		return nil, err
	}
	s.allocCache.Delete(wallet.ID)

	if s.history != nil {
		if err := s.history.InsertBatch(work, storage.HistoryRecords(rows, result.UpdatedAt)); err != nil {
			logger.WithError(err).Warn("balance history sink failed")
		}
	}

	logger.WithFields(map[string]interface{}{
		"total_usd":  result.TotalUSD,
		"chains":     len(result.Chains),
		"duration":   s.opts.Now().Sub(start).String(),
		"change_pct": result.Change24hPercent,
	}).Info("portfolio refreshed")

	return result, nil
}

func (s *PortfolioService) fetchPrimary(ctx context.Context, wallet *models.Wallet, prices price.Prices, previous []*models.AssetBalance, logger *logging.Logger) PrimaryResult {
	res := PrimaryResult{Addresses: len(wallet.BTCAddresses)}

	if p, ok := prices.Price(chain.PrimarySymbol); ok && p > 0 {
		res.PriceUSD = p
	} else {
		res.PriceUSD = s.opts.PrimaryFallbackPrice
		res.FallbackPrice = true
		logger.WithField("fallback", res.PriceUSD).Warn("primary price unavailable, using fallback")
	}

	if len(wallet.BTCAddresses) == 0 {
		return res
	}

	total, failed := s.primary.GetTotalBalance(ctx, wallet.BTCAddresses)
	res.Balance = total
	res.Failed = failed

	// a partial read would show as a false drop; prefer the last full value
	if len(failed) > 0 {
		for _, b := range previous {
			if b.Chain == chain.PrimaryChainName && strings.EqualFold(b.AssetSymbol, chain.PrimarySymbol) {
				res.Balance = b.BalanceFloat
				res.FromStore = true
				break
			}
		}
		logger.WithFields(map[string]interface{}{
			"failed":     len(failed),
			"from_store": res.FromStore,
		}).Warn("primary balance partially unavailable")
	}

	res.ValueUSD = res.Balance * res.PriceUSD
	return res
}

func (s *PortfolioService) fetchChains(ctx context.Context, wallet *models.Wallet, prices price.Prices, logger *logging.Logger) []ChainResult {
	if wallet.EVMAddress == "" || s.chains == nil {
		return nil
	}

	descs := s.chains.All()
	results := make([]ChainResult, len(descs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.ChainConcurrency)
	for i, desc := range descs {
		i, desc := i, desc
		g.Go(func() error {
			res := ChainResult{Chain: desc.Name, ChainID: desc.ID, IsTestnet: desc.Testnet}
			bals, err := s.evm.GetChainBalances(gctx, desc, wallet.EVMAddress)
			if err != nil {
				res.Error = err.Error()
				logger.WithField("chain", desc.Name).WithError(err).Warn("chain balances unavailable")
				results[i] = res
				// one chain never cancels the others
				return nil
			}
			for _, b := range bals {
				av := AssetValue{
					Symbol:       b.Symbol,
					Name:         b.Name,
					Decimals:     b.Decimals,
					Contract:     b.Contract,
					Balance:      b.Raw,
					BalanceFloat: b.Float,
				}
				if p, ok := prices.Price(b.Symbol); ok {
					av.PriceUSD = p
					av.ValueUSD = b.Float * p
					av.Priced = true
				}
				if c, ok := prices.Change(b.Symbol); ok {
					av.Change24h = &c
				}
				res.TotalUSD += av.ValueUSD
				res.Assets = append(res.Assets, av)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait() // nolint:errcheck // goroutines never return errors

	sort.SliceStable(results, func(a, b int) bool {
		return s.chains.Order(results[a].ChainID) < s.chains.Order(results[b].ChainID)
	})
	return results
}

// reduce computes totals. Testnet chains are reported but do not count.
func (s *PortfolioService) reduce(walletID string, primary PrimaryResult, chains []ChainResult, prices price.Prices) *RefreshResult {
	result := &RefreshResult{
		WalletID: walletID,
		Primary:  primary,
		Chains:   chains,
	}
	if result.Chains == nil {
		result.Chains = []ChainResult{}
	}

	total := primary.ValueUSD
	var change float64
	if pct, ok := prices.Change(chain.PrimarySymbol); ok {
		change += primary.ValueUSD * pct / 100
	}

	for _, c := range chains {
		if c.IsTestnet {
			continue
		}
		total += c.TotalUSD
		for _, a := range c.Assets {
			if a.Change24h != nil {
				change += a.ValueUSD * *a.Change24h / 100
			}
		}
	}

	result.TotalUSD = total
	result.Change24hAmount = change
	if primary.PriceUSD > 0 {
		result.TotalPrimary = total / primary.PriceUSD
	}
	if total > 0 {
		result.Change24hPercent = change / total * 100
	}
	return result
}

func (s *PortfolioService) balanceRows(walletID string, primary PrimaryResult, chains []ChainResult, at time.Time) []*models.AssetBalance {
	var rows []*models.AssetBalance

	if primary.Addresses > 0 {
		sats := int64(math.Round(primary.Balance * 1e8))
		rows = append(rows, &models.AssetBalance{
			WalletID:      walletID,
			Chain:         chain.PrimaryChainName,
			AssetSymbol:   chain.Primary.Symbol,
			AssetName:     chain.Primary.Name,
			AssetDecimals: chain.Primary.Decimals,
			Balance:       strconv.FormatInt(sats, 10),
			BalanceFloat:  primary.Balance,
			USDPrice:      primary.PriceUSD,
			USDValue:      primary.ValueUSD,
			UpdatedAt:     at,
		})
	}

	for _, c := range chains {
		// failed chains keep their last persisted rows
		if c.Error != "" {
			continue
		}
		for _, a := range c.Assets {
			rows = append(rows, &models.AssetBalance{
				WalletID:        walletID,
				Chain:           c.Chain,
				ChainID:         c.ChainID,
				AssetSymbol:     a.Symbol,
				AssetName:       a.Name,
				AssetDecimals:   a.Decimals,
				ContractAddress: a.Contract,
				Balance:         a.Balance,
				BalanceFloat:    a.BalanceFloat,
				USDPrice:        a.PriceUSD,
				USDValue:        a.ValueUSD,
				IsTestnet:       c.IsTestnet,
				UpdatedAt:       at,
			})
		}
	}
	return rows
}

func (s *PortfolioService) persist(ctx context.Context, result *RefreshResult, rows []*models.AssetBalance, prices price.Prices) error {
	if err := s.balances.UpsertBatch(ctx, rows); err != nil {
		return apperrors.NewPersistenceError("upsert asset balances", err)
	}

	stored, err := s.balances.ListAll(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("list asset balances", err)
	}
	result.Portfolio = portfolioTotals(result, stored, prices)

	if err := s.dashboard.Upsert(ctx, &result.Portfolio); err != nil {
		return apperrors.NewPersistenceError("upsert dashboard stats", err)
	}

	if err := s.snapshots.Upsert(ctx, &models.PortfolioSnapshot{
		SnapshotDate: result.UpdatedAt,
		TotalUSD:     result.Portfolio.TotalUSD,
		UpdatedAt:    result.UpdatedAt,
	}); err != nil {
		return apperrors.NewPersistenceError("upsert daily snapshot", err)
	}
	return nil
}

// portfolioTotals adds every other wallet's stored balances, repriced from
// the same snapshot, to the fresh totals of the refreshed wallet. Testnet
// rows and unpriced assets count zero, as in reduce.
func portfolioTotals(result *RefreshResult, stored []*models.AssetBalance, prices price.Prices) models.DashboardStats {
	total := result.TotalUSD
	change := result.Change24hAmount
	wallets := map[string]struct{}{result.WalletID: {}}

	for _, b := range stored {
		if b.WalletID == result.WalletID {
			continue
		}
		wallets[b.WalletID] = struct{}{}
		if b.IsTestnet {
			continue
		}

		var value float64
		if b.Chain == chain.PrimaryChainName && strings.EqualFold(b.AssetSymbol, chain.PrimarySymbol) {
			value = b.BalanceFloat * result.Primary.PriceUSD
		} else if p, ok := prices.Price(b.AssetSymbol); ok {
			value = b.BalanceFloat * p
		}
		total += value
		if pct, ok := prices.Change(b.AssetSymbol); ok {
			change += value * pct / 100
		}
	}

	out := models.DashboardStats{
		WalletCount:     len(wallets),
		TotalUSD:        total,
		Change24hAmount: change,
		UpdatedAt:       result.UpdatedAt,
	}
	if result.Primary.PriceUSD > 0 {
		out.TotalPrimary = total / result.Primary.PriceUSD
	}
	if total > 0 {
		out.Change24hPercent = change / total * 100
	}
	return out
}

// GetAssetAllocation returns the mainnet holdings grouped by symbol, largest
// first, folding everything after the top N into an "Other" slice. Results
// are cached per wallet until the next refresh.
func (s *PortfolioService) GetAssetAllocation(ctx context.Context, walletID string) ([]models.Allocation, error) {
	if cached, ok := s.allocCache.Get(walletID); ok {
		s.monitor.RecordAllocationLookup(true)
		return cached.([]models.Allocation), nil
	}
	s.monitor.RecordAllocationLookup(false)

	if _, err := s.getWallet(ctx, walletID); err != nil {
		return nil, err
	}

	rows, err := s.balances.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list asset balances", err)
	}

	allocation := Allocate(rows, s.opts.AllocationTopN)
	s.allocCache.SetDefault(walletID, allocation)
	return allocation, nil
}

// Allocate groups non-testnet rows with a positive value by symbol and keeps
// the topN largest, summing the rest into "Other".
func Allocate(rows []*models.AssetBalance, topN int) []models.Allocation {
	bySymbol := make(map[string]*models.Allocation)
	var total float64
	for _, r := range rows {
		if r.IsTestnet || r.USDValue <= 0 {
			continue
		}
		sym := strings.ToUpper(r.AssetSymbol)
		a, ok := bySymbol[sym]
		if !ok {
			a = &models.Allocation{Symbol: sym}
			bySymbol[sym] = a
		}
		if a.Name == "" {
			a.Name = r.AssetName
		}
		a.ValueUSD += r.USDValue
		total += r.USDValue
	}

	out := make([]models.Allocation, 0, len(bySymbol))
	for _, a := range bySymbol {
		if a.Name == "" {
			a.Name = a.Symbol
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ValueUSD != out[j].ValueUSD {
			return out[i].ValueUSD > out[j].ValueUSD
		}
		return out[i].Symbol < out[j].Symbol
	})

	if topN > 0 && len(out) > topN {
		other := models.Allocation{Name: "Other", Symbol: "Other"}
		for _, a := range out[topN:] {
			other.ValueUSD += a.ValueUSD
		}
		out = append(out[:topN:topN], other)
	}

	for i := range out {
		if total > 0 {
			out[i].Percentage = out[i].ValueUSD / total * 100
		}
	}
	return out
}

// GetAssets lists the wallet's persisted balances including testnets
func (s *PortfolioService) GetAssets(ctx context.Context, walletID string) ([]*models.AssetBalance, error) {
	if _, err := s.getWallet(ctx, walletID); err != nil {
		return nil, err
	}
	rows, err := s.balances.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list asset balances", err)
	}
	if rows == nil {
		rows = []*models.AssetBalance{}
	}
	return rows, nil
}

// GetPortfolioHistory returns the daily totals of the last days days. A
// non-positive days uses the configured default.
func (s *PortfolioService) GetPortfolioHistory(ctx context.Context, days int) ([]*models.PortfolioSnapshot, error) {
	if days <= 0 {
		days = s.opts.HistoryDays
	}
	if days > 365 {
		return nil, apperrors.NewInvalidParameterError("days", "must be at most 365")
	}
	out, err := s.snapshots.History(ctx, days)
	if err != nil {
		return nil, apperrors.NewPersistenceError("load snapshot history", err)
	}
	if out == nil {
		out = []*models.PortfolioSnapshot{}
	}
	return out, nil
}

// RefreshStats returns refresh and allocation cache statistics
func (s *PortfolioService) RefreshStats() *RefreshStats {
	return s.monitor.Stats()
}

// RefreshAll refreshes every wallet in turn and reports how many failed
func (s *PortfolioService) RefreshAll(ctx context.Context) (refreshed, failed int, err error) {
	wallets, err := s.wallets.List(ctx)
	if err != nil {
		return 0, 0, apperrors.NewPersistenceError("list wallets", err)
	}
	for _, w := range wallets {
		if ctx.Err() != nil {
			return refreshed, failed, ctx.Err()
		}
		if _, err := s.RefreshPortfolio(ctx, w.ID); err != nil {
			failed++
			s.logger.WithField("wallet_id", w.ID).WithError(err).Error("scheduled refresh failed")
			continue
		}
		refreshed++
	}
	return refreshed, failed, nil
}

func (s *PortfolioService) getWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	if _, err := uuid.Parse(walletID); err != nil {
		return nil, apperrors.NewInvalidParameterError("wallet_id", "must be a UUID")
	}
	w, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("get wallet", fmt.Errorf("wallet %s: %w", walletID, err))
	}
	if w == nil {
		return nil, apperrors.NewNotFoundError("wallet", walletID)
	}
	return w, nil
}
