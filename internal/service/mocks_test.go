package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-aggregator/internal/balance"
	"github.com/portfolio-aggregator/internal/chain"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/storage"
)

var errStore = errors.New("store unavailable")

type mockWalletRepo struct {
	mu      sync.Mutex
	wallets map[string]*models.Wallet
	order   []string
	getErr  error
}

func newMockWalletRepo(wallets ...*models.Wallet) *mockWalletRepo {
	r := &mockWalletRepo{wallets: make(map[string]*models.Wallet)}
	for _, w := range wallets {
		r.wallets[w.ID] = w
		r.order = append(r.order, w.ID)
	}
	return r
}

func (r *mockWalletRepo) Upsert(ctx context.Context, w *models.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if _, ok := r.wallets[w.ID]; !ok {
		r.order = append(r.order, w.ID)
	}
	r.wallets[w.ID] = w
	return nil
}

func (r *mockWalletRepo) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.wallets[id], nil
}

func (r *mockWalletRepo) List(ctx context.Context) ([]*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Wallet, 0, len(r.order))
	for _, id := range r.order {
		if w, ok := r.wallets[id]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *mockWalletRepo) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wallets[id]; !ok {
		return false, nil
	}
	delete(r.wallets, id)
	return true, nil
}

type mockBalanceRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.AssetBalance
	upsertErr error
	listErr   error
	upserts   int
}

func newMockBalanceRepo() *mockBalanceRepo {
	return &mockBalanceRepo{rows: make(map[string]*models.AssetBalance)}
}

func balanceKey(b *models.AssetBalance) string {
	return b.WalletID + "/" + b.Chain + "/" + strings.ToUpper(b.AssetSymbol)
}

func (r *mockBalanceRepo) UpsertBatch(ctx context.Context, balances []*models.AssetBalance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserts++
	for _, b := range balances {
		cp := *b
		r.rows[balanceKey(b)] = &cp
	}
	return nil
}

func (r *mockBalanceRepo) ListByWallet(ctx context.Context, walletID string) ([]*models.AssetBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AssetBalance
	for _, b := range r.rows {
		if b.WalletID == walletID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *mockBalanceRepo) ListAll(ctx context.Context) ([]*models.AssetBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]*models.AssetBalance, 0, len(r.rows))
	for _, b := range r.rows {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (r *mockBalanceRepo) get(walletID, chainName, symbol string) *models.AssetBalance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[walletID+"/"+chainName+"/"+symbol]
}

type mockDashboardRepo struct {
	mu    sync.Mutex
	stats *models.DashboardStats
	err   error
}

func (r *mockDashboardRepo) Upsert(ctx context.Context, s *models.DashboardStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cp := *s
	r.stats = &cp
	return nil
}

func (r *mockDashboardRepo) Get(ctx context.Context) (*models.DashboardStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.stats, nil
}

type mockSnapshotRepo struct {
	mu    sync.Mutex
	byDay map[string]*models.PortfolioSnapshot
	days  []int
}

func newMockSnapshotRepo() *mockSnapshotRepo {
	return &mockSnapshotRepo{byDay: make(map[string]*models.PortfolioSnapshot)}
}

func (r *mockSnapshotRepo) Upsert(ctx context.Context, s *models.PortfolioSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.SnapshotDate = storage.SnapshotDay(s.SnapshotDate)
	r.byDay[cp.SnapshotDate.Format("2006-01-02")] = &cp
	return nil
}

func (r *mockSnapshotRepo) History(ctx context.Context, days int) ([]*models.PortfolioSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.days = append(r.days, days)
	var out []*models.PortfolioSnapshot
	for _, s := range r.byDay {
		out = append(out, s)
	}
	return out, nil
}

type mockHistorySink struct {
	mu      sync.Mutex
	records []storage.BalanceHistoryRecord
	err     error
}

func (h *mockHistorySink) InsertBatch(ctx context.Context, records []storage.BalanceHistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, records...)
	return nil
}

// mockEVM serves canned balances per chain and tracks concurrency
type mockEVM struct {
	balances map[string][]balance.Balance
	errs     map[string]error
	delay    time.Duration

	inFlight    int32
	maxInFlight int32
	calls       int32
}

func (m *mockEVM) GetChainBalances(ctx context.Context, desc chain.Descriptor, walletAddress string) ([]balance.Balance, error) {
	atomic.AddInt32(&m.calls, 1)
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&m.maxInFlight)
		if n <= peak || atomic.CompareAndSwapInt32(&m.maxInFlight, peak, n) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.errs[desc.Name]; err != nil {
		return nil, err
	}
	return m.balances[desc.Name], nil
}

type mockPrimary struct {
	total  float64
	failed []string
}

func (m *mockPrimary) GetTotalBalance(ctx context.Context, addresses []string) (float64, []string) {
	return m.total, m.failed
}

type staticPrices struct {
	prices price.Prices
}

func (s staticPrices) Snapshot() price.Prices {
	return s.prices
}

func pricesOf(entries map[string]price.Entry) staticPrices {
	return staticPrices{prices: price.NewPrices(entries)}
}

func evmBalance(symbol string, amount float64, decimals uint8) balance.Balance {
	return balance.Balance{
		Symbol:   symbol,
		Name:     symbol,
		Decimals: decimals,
		Raw:      "1",
		Float:    amount,
	}
}
