package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-aggregator/internal/balance"
	"github.com/portfolio-aggregator/internal/chain"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/price"
)

const testEVMAddress = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *PortfolioService
	wallet    *models.Wallet
	wallets   *mockWalletRepo
	balances  *mockBalanceRepo
	dashboard *mockDashboardRepo
	snapshots *mockSnapshotRepo
	history   *mockHistorySink
	evm       *mockEVM
	primary   *mockPrimary
	monitor   *RefreshMonitor
}

func testChains(t *testing.T) *chain.Table {
	t.Helper()
	table, err := chain.NewTable([]chain.Descriptor{
		{ID: 1, Name: "ethereum", HTTPURL: "http://eth.test", Assets: []chain.Asset{{Symbol: "ETH", Decimals: 18}}},
		{ID: 137, Name: "polygon", HTTPURL: "http://polygon.test", Assets: []chain.Asset{{Symbol: "MATIC", Decimals: 18}}},
		{ID: 11155111, Name: "sepolia", HTTPURL: "http://sepolia.test", Testnet: true, Assets: []chain.Asset{{Symbol: "ETH", Decimals: 18}}},
	})
	require.NoError(t, err)
	return table
}

func defaultPrices() staticPrices {
	return pricesOf(map[string]price.Entry{
		"BTC": {Price: 95000, Change24h: 2, HasChange: true},
		"ETH": {Price: 3000, Change24h: -1, HasChange: true},
	})
}

func newFixture(t *testing.T, prices PriceSnapshotter, chains *chain.Table) *fixture {
	t.Helper()
	w := &models.Wallet{
		ID:           uuid.NewString(),
		Label:        "main",
		EVMAddress:   testEVMAddress,
		BTCAddresses: []string{"bc1qtest"},
	}
	f := &fixture{
		wallet:    w,
		wallets:   newMockWalletRepo(w),
		balances:  newMockBalanceRepo(),
		dashboard: &mockDashboardRepo{},
		snapshots: newMockSnapshotRepo(),
		history:   &mockHistorySink{},
		evm:       &mockEVM{balances: map[string][]balance.Balance{}, errs: map[string]error{}},
		primary:   &mockPrimary{},
		monitor:   NewRefreshMonitor(nil),
	}
	f.svc = NewPortfolioService(Dependencies{
		Wallets:   f.wallets,
		Balances:  f.balances,
		Dashboard: f.dashboard,
		Snapshots: f.snapshots,
		History:   f.history,
		Prices:    prices,
		Chains:    chains,
		EVM:       f.evm,
		Primary:   f.primary,
		Monitor:   f.monitor,
	}, Options{Now: func() time.Time { return testNow }})
	return f
}

func TestRefreshPortfolio_Totals(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.primary.total = 0.5
	f.evm.balances["ethereum"] = []balance.Balance{evmBalance("USDT", 100, 6)}

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)

	assert.InDelta(t, 47600, res.TotalUSD, 1e-6)
	assert.InDelta(t, 0.50105, res.TotalPrimary, 1e-5)
	assert.InDelta(t, 950, res.Change24hAmount, 1e-6)
	assert.InDelta(t, 1.9958, res.Change24hPercent, 1e-4)
	assert.Equal(t, 95000.0, res.Primary.PriceUSD)
	assert.False(t, res.Primary.FallbackPrice)
	assert.Equal(t, testNow, res.UpdatedAt)

	require.Len(t, res.Chains, 3)
	assert.Equal(t, []string{"ethereum", "polygon", "sepolia"},
		[]string{res.Chains[0].Chain, res.Chains[1].Chain, res.Chains[2].Chain})
	assert.InDelta(t, 100, res.Chains[0].TotalUSD, 1e-9)

	stats := f.dashboard.stats
	require.NotNil(t, stats)
	assert.InDelta(t, 47600, stats.TotalUSD, 1e-6)
	assert.Equal(t, 1, stats.WalletCount)
	assert.Equal(t, *stats, res.Portfolio)

	snap := f.snapshots.byDay["2026-03-14"]
	require.NotNil(t, snap)
	assert.InDelta(t, 47600, snap.TotalUSD, 1e-6)

	btc := f.balances.get(f.wallet.ID, chain.PrimaryChainName, chain.PrimarySymbol)
	require.NotNil(t, btc)
	assert.Equal(t, "50000000", btc.Balance)
	assert.Equal(t, uint64(0), btc.ChainID)
	assert.InDelta(t, 47500, btc.USDValue, 1e-6)

	usdt := f.balances.get(f.wallet.ID, "ethereum", "USDT")
	require.NotNil(t, usdt)
	assert.Equal(t, 1.0, usdt.USDPrice)
	assert.Equal(t, uint64(1), usdt.ChainID)

	assert.Len(t, f.history.records, 2)
}

func TestRefreshPortfolio_TestnetExcluded(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.evm.balances["ethereum"] = []balance.Balance{evmBalance("ETH", 1, 18)}
	f.evm.balances["sepolia"] = []balance.Balance{evmBalance("ETH", 10, 18)}

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)

	assert.InDelta(t, 3000, res.TotalUSD, 1e-9)
	assert.InDelta(t, -30, res.Change24hAmount, 1e-9)
	assert.InDelta(t, 30000, res.Chains[2].TotalUSD, 1e-9)
	assert.True(t, res.Chains[2].IsTestnet)

	sep := f.balances.get(f.wallet.ID, "sepolia", "ETH")
	require.NotNil(t, sep)
	assert.True(t, sep.IsTestnet)
}

func TestRefreshPortfolio_ChainFailureDegrades(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.primary.total = 0.1
	f.evm.balances["ethereum"] = []balance.Balance{evmBalance("ETH", 1, 18)}
	f.evm.errs["polygon"] = errors.New("rpc down")

	// an earlier refresh left a polygon row behind
	require.NoError(t, f.balances.UpsertBatch(context.Background(), []*models.AssetBalance{{
		WalletID: f.wallet.ID, Chain: "polygon", ChainID: 137, AssetSymbol: "MATIC", USDValue: 12,
	}}))

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)

	assert.InDelta(t, 9500+3000, res.TotalUSD, 1e-9)
	assert.Equal(t, "rpc down", res.Chains[1].Error)
	assert.Empty(t, res.Chains[0].Error)

	kept := f.balances.get(f.wallet.ID, "polygon", "MATIC")
	require.NotNil(t, kept)
	assert.Equal(t, 12.0, kept.USDValue)

	stats := f.svc.RefreshStats()
	assert.Equal(t, int64(1), stats.ChainFailures["polygon"])
	assert.Equal(t, int64(0), stats.Failures)
}

func TestRefreshPortfolio_UnpricedAssetCountsZero(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.evm.balances["polygon"] = []balance.Balance{evmBalance("MATIC", 50, 18)}

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)

	require.Len(t, res.Chains[1].Assets, 1)
	asset := res.Chains[1].Assets[0]
	assert.False(t, asset.Priced)
	assert.Nil(t, asset.Change24h)
	assert.Zero(t, asset.ValueUSD)
	assert.Zero(t, res.TotalUSD)
}

func TestRefreshPortfolio_FallbackPrice(t *testing.T) {
	f := newFixture(t, pricesOf(nil), testChains(t))
	f.primary.total = 1

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)

	assert.True(t, res.Primary.FallbackPrice)
	assert.Equal(t, 95000.0, res.Primary.PriceUSD)
	assert.InDelta(t, 95000, res.TotalUSD, 1e-9)
	assert.InDelta(t, 1, res.TotalPrimary, 1e-12)
	assert.Zero(t, res.Change24hAmount)
	assert.Zero(t, res.Change24hPercent)
}

func TestRefreshPortfolio_PrimaryFromStore(t *testing.T) {
	f := newFixture(t, defaultPrices(), nil)
	f.wallet.BTCAddresses = []string{"bc1qa", "bc1qb"}
	f.primary.total = 0.2
	f.primary.failed = []string{"bc1qb"}

	require.NoError(t, f.balances.UpsertBatch(context.Background(), []*models.AssetBalance{{
		WalletID: f.wallet.ID, Chain: chain.PrimaryChainName, AssetSymbol: "BTC", BalanceFloat: 0.7,
	}}))

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)

	assert.True(t, res.Primary.FromStore)
	assert.Equal(t, []string{"bc1qb"}, res.Primary.Failed)
	assert.InDelta(t, 0.7, res.Primary.Balance, 1e-12)
	assert.InDelta(t, 0.7*95000, res.TotalUSD, 1e-6)
	assert.Empty(t, res.Chains)
}

func TestRefreshPortfolio_PartialPrimaryWithoutStore(t *testing.T) {
	f := newFixture(t, defaultPrices(), nil)
	f.primary.total = 0.2
	f.primary.failed = []string{"bc1qtest"}

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)

	assert.False(t, res.Primary.FromStore)
	assert.InDelta(t, 0.2*95000, res.TotalUSD, 1e-6)
}

func TestRefreshPortfolio_Errors(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		f := newFixture(t, defaultPrices(), testChains(t))
		_, err := f.svc.RefreshPortfolio(context.Background(), "not-a-uuid")
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
		assert.Equal(t, 400, apperrors.GetHTTPStatusCode(err))
	})

	t.Run("unknown wallet", func(t *testing.T) {
		f := newFixture(t, defaultPrices(), testChains(t))
		_, err := f.svc.RefreshPortfolio(context.Background(), uuid.NewString())
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))
		assert.Zero(t, f.evm.calls)
	})

	t.Run("wallet lookup fails", func(t *testing.T) {
		f := newFixture(t, defaultPrices(), testChains(t))
		f.wallets.getErr = errStore
		_, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CategoryPersistence))
		assert.ErrorIs(t, err, errStore)
	})

	t.Run("balance persistence fails", func(t *testing.T) {
		f := newFixture(t, defaultPrices(), testChains(t))
		f.balances.upsertErr = errStore
		res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
		require.Error(t, err)
		assert.Nil(t, res)
		assert.True(t, apperrors.Is(err, apperrors.CategoryPersistence))
		assert.Nil(t, f.dashboard.stats)
		assert.Empty(t, f.history.records)

		stats := f.svc.RefreshStats()
		assert.Equal(t, int64(1), stats.Refreshes)
		assert.Equal(t, int64(1), stats.Failures)
	})

	t.Run("dashboard persistence fails", func(t *testing.T) {
		f := newFixture(t, defaultPrices(), testChains(t))
		f.dashboard.err = errStore
		_, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CategoryPersistence))
		assert.Empty(t, f.snapshots.byDay)
	})

	t.Run("portfolio balances unreadable", func(t *testing.T) {
		f := newFixture(t, defaultPrices(), testChains(t))
		f.balances.listErr = errStore
		_, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CategoryPersistence))
		assert.Nil(t, f.dashboard.stats)
		assert.Empty(t, f.snapshots.byDay)
	})
}

func TestRefreshPortfolio_HistorySinkFailureIgnored(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.primary.total = 1
	f.history.err = errStore

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)
	assert.InDelta(t, 95000, res.TotalUSD, 1e-9)
}

func TestRefreshPortfolio_ConcurrencyLimit(t *testing.T) {
	var descs []chain.Descriptor
	for i := 1; i <= 8; i++ {
		descs = append(descs, chain.Descriptor{
			ID:      uint64(i),
			Name:    fmt.Sprintf("chain%d", i),
			HTTPURL: "http://rpc.test",
		})
	}
	table, err := chain.NewTable(descs)
	require.NoError(t, err)

	f := newFixture(t, defaultPrices(), table)
	f.evm.delay = 20 * time.Millisecond

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)

	assert.Len(t, res.Chains, 8)
	assert.Equal(t, int32(8), f.evm.calls)
	assert.LessOrEqual(t, f.evm.maxInFlight, int32(3))
	assert.Greater(t, f.evm.maxInFlight, int32(1))
	for i, c := range res.Chains {
		assert.Equal(t, uint64(i+1), c.ChainID)
	}
}

func TestRefreshPortfolio_CompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.evm.delay = 30 * time.Millisecond
	f.evm.balances["ethereum"] = []balance.Balance{evmBalance("ETH", 1, 18)}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	res, err := f.svc.RefreshPortfolio(ctx, f.wallet.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Chains[0].Error)
	assert.InDelta(t, 3000, res.TotalUSD, 1e-9)
	assert.NotNil(t, f.dashboard.stats)
}

func TestRefreshPortfolio_NoAddresses(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.wallet.EVMAddress = ""
	f.wallet.BTCAddresses = nil

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)
	assert.Zero(t, res.TotalUSD)
	assert.Empty(t, res.Chains)
	assert.Zero(t, f.evm.calls)
	assert.Empty(t, f.balances.rows)
}

func TestAllocate(t *testing.T) {
	rows := []*models.AssetBalance{
		{AssetSymbol: "BTC", AssetName: "Bitcoin", USDValue: 500},
		{AssetSymbol: "eth", AssetName: "Ethereum", USDValue: 150, Chain: "ethereum"},
		{AssetSymbol: "ETH", AssetName: "Arbitrum Ether", USDValue: 50, Chain: "arbitrum"},
		{AssetSymbol: "USDT", AssetName: "Tether USD", USDValue: 100},
		{AssetSymbol: "USDC", USDValue: 80},
		{AssetSymbol: "MATIC", AssetName: "Polygon", USDValue: 40},
		{AssetSymbol: "BNB", AssetName: "BNB", USDValue: 70},
		{AssetSymbol: "DAI", USDValue: 10},
		{AssetSymbol: "ETH", USDValue: 999, IsTestnet: true},
		{AssetSymbol: "LINK", USDValue: 0},
	}

	got := Allocate(rows, 5)
	require.Len(t, got, 6)

	want := []string{"BTC", "ETH", "USDT", "USDC", "BNB", "Other"}
	names := []string{"Bitcoin", "Ethereum", "Tether USD", "USDC", "BNB", "Other"}
	var sum float64
	for i, a := range got {
		assert.Equal(t, want[i], a.Symbol)
		assert.Equal(t, names[i], a.Name)
		sum += a.Percentage
	}
	assert.InDelta(t, 100, sum, 1e-9)
	assert.InDelta(t, 200, got[1].ValueUSD, 1e-9)
	assert.InDelta(t, 50, got[5].ValueUSD, 1e-9)
	assert.InDelta(t, 50, got[0].Percentage, 1e-9)
}

func TestAllocate_Empty(t *testing.T) {
	assert.Empty(t, Allocate(nil, 5))
	assert.Empty(t, Allocate([]*models.AssetBalance{{AssetSymbol: "ETH", IsTestnet: true, USDValue: 1}}, 5))
}

func TestAllocate_TiesBySymbol(t *testing.T) {
	got := Allocate([]*models.AssetBalance{
		{AssetSymbol: "USDT", USDValue: 10},
		{AssetSymbol: "DAI", USDValue: 10},
	}, 5)
	require.Len(t, got, 2)
	assert.Equal(t, "DAI", got[0].Symbol)
	assert.Equal(t, 50.0, got[0].Percentage)
}

func TestGetAssetAllocation_CachedUntilRefresh(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.primary.total = 1
	ctx := context.Background()

	_, err := f.svc.RefreshPortfolio(ctx, f.wallet.ID)
	require.NoError(t, err)

	first, err := f.svc.GetAssetAllocation(ctx, f.wallet.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "BTC", first[0].Symbol)

	// a write behind the service's back is not visible while cached
	require.NoError(t, f.balances.UpsertBatch(ctx, []*models.AssetBalance{{
		WalletID: f.wallet.ID, Chain: "ethereum", AssetSymbol: "ETH", USDValue: 5000,
	}}))
	cached, err := f.svc.GetAssetAllocation(ctx, f.wallet.ID)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	f.evm.balances["ethereum"] = []balance.Balance{evmBalance("ETH", 1, 18)}
	_, err = f.svc.RefreshPortfolio(ctx, f.wallet.ID)
	require.NoError(t, err)

	fresh, err := f.svc.GetAssetAllocation(ctx, f.wallet.ID)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "BTC", fresh[0].Symbol)
	assert.Equal(t, "ETH", fresh[1].Symbol)

	stats := f.svc.RefreshStats()
	assert.Equal(t, int64(1), stats.AllocationHits)
	assert.Equal(t, int64(2), stats.AllocationMisses)
}

func TestGetAssetAllocation_UnknownWallet(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	_, err := f.svc.GetAssetAllocation(context.Background(), uuid.NewString())
	assert.True(t, apperrors.Is(err, apperrors.CategoryNotFound))
}

func TestGetAssets(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	ctx := context.Background()

	rows, err := f.svc.GetAssets(ctx, f.wallet.ID)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	f.evm.balances["sepolia"] = []balance.Balance{evmBalance("ETH", 2, 18)}
	_, err = f.svc.RefreshPortfolio(ctx, f.wallet.ID)
	require.NoError(t, err)

	rows, err = f.svc.GetAssets(ctx, f.wallet.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestGetPortfolioHistory(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	ctx := context.Background()

	out, err := f.svc.GetPortfolioHistory(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Equal(t, []int{7}, f.snapshots.days)

	_, err = f.svc.GetPortfolioHistory(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 30}, f.snapshots.days)

	_, err = f.svc.GetPortfolioHistory(ctx, 366)
	assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
}

func TestRefreshAll(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.primary.total = 1
	second := &models.Wallet{ID: uuid.NewString(), BTCAddresses: []string{"bc1qother"}}
	require.NoError(t, f.wallets.Upsert(context.Background(), second))

	refreshed, failed, err := f.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
	assert.Zero(t, failed)
	assert.Equal(t, int64(2), f.svc.RefreshStats().Refreshes)

	f.balances.upsertErr = errStore
	refreshed, failed, err = f.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, refreshed)
	assert.Equal(t, 2, failed)
}

func TestRefreshAll_DashboardCoversEveryWallet(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.primary.total = 1
	second := &models.Wallet{ID: uuid.NewString(), BTCAddresses: []string{"bc1qother"}}
	require.NoError(t, f.wallets.Upsert(context.Background(), second))

	refreshed, failed, err := f.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, refreshed)
	require.Zero(t, failed)

	stats := f.dashboard.stats
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.WalletCount)
	assert.InDelta(t, 190000, stats.TotalUSD, 1e-6)
	assert.InDelta(t, 2, stats.TotalPrimary, 1e-9)
	assert.InDelta(t, 3800, stats.Change24hAmount, 1e-6)
	assert.InDelta(t, 2, stats.Change24hPercent, 1e-9)

	require.Len(t, f.snapshots.byDay, 1)
	assert.InDelta(t, 190000, f.snapshots.byDay["2026-03-14"].TotalUSD, 1e-6)
}

func TestRefreshPortfolio_PortfolioTotalsRepriceOtherWallets(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	f.primary.total = 1
	other := uuid.NewString()

	// left behind by an earlier refresh of another wallet, at older prices
	require.NoError(t, f.balances.UpsertBatch(context.Background(), []*models.AssetBalance{
		{WalletID: other, Chain: chain.PrimaryChainName, AssetSymbol: "BTC", BalanceFloat: 0.5, USDValue: 40000},
		{WalletID: other, Chain: "ethereum", ChainID: 1, AssetSymbol: "ETH", BalanceFloat: 2, USDValue: 5000},
		{WalletID: other, Chain: "sepolia", ChainID: 11155111, AssetSymbol: "ETH", BalanceFloat: 10, USDValue: 30000, IsTestnet: true},
		{WalletID: other, Chain: "polygon", ChainID: 137, AssetSymbol: "MATIC", BalanceFloat: 100, USDValue: 50},
	}))

	res, err := f.svc.RefreshPortfolio(context.Background(), f.wallet.ID)
	require.NoError(t, err)

	// the wallet's own totals are unaffected
	assert.InDelta(t, 95000, res.TotalUSD, 1e-6)
	assert.InDelta(t, 1900, res.Change24hAmount, 1e-6)

	p := res.Portfolio
	assert.Equal(t, 2, p.WalletCount)
	assert.InDelta(t, 95000+47500+6000, p.TotalUSD, 1e-6)
	assert.InDelta(t, 1900+950-60, p.Change24hAmount, 1e-6)
	assert.InDelta(t, 148500.0/95000, p.TotalPrimary, 1e-9)
	assert.InDelta(t, 2790.0/148500*100, p.Change24hPercent, 1e-9)
	assert.Equal(t, testNow, p.UpdatedAt)

	require.NotNil(t, f.dashboard.stats)
	assert.Equal(t, p, *f.dashboard.stats)
}

func TestRefreshPortfolio_SameDaySnapshotOverwritten(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	ctx := context.Background()

	f.primary.total = 1
	_, err := f.svc.RefreshPortfolio(ctx, f.wallet.ID)
	require.NoError(t, err)

	f.primary.total = 2
	_, err = f.svc.RefreshPortfolio(ctx, f.wallet.ID)
	require.NoError(t, err)

	history, err := f.svc.GetPortfolioHistory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 190000, history[0].TotalUSD, 1e-6)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), history[0].SnapshotDate)
}

func TestRefreshAll_StopsOnCancel(t *testing.T) {
	f := newFixture(t, defaultPrices(), testChains(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refreshed, _, err := f.svc.RefreshAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, refreshed)
}
