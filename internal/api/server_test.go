package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/provider"
	"github.com/portfolio-aggregator/internal/service"
)

const testWalletID = "7f0c1b5e-8a52-4d8e-9a1e-3f7c2d9b6a10"

// Mock services for testing
type mockPortfolioService struct {
	createFunc  func(ctx context.Context, in service.CreateWalletInput) (*models.Wallet, error)
	getFunc     func(ctx context.Context, walletID string) (*models.Wallet, error)
	deleteFunc  func(ctx context.Context, walletID string) error
	refreshFunc func(ctx context.Context, walletID string) (*service.RefreshResult, error)
	historyFunc func(ctx context.Context, days int) ([]*models.PortfolioSnapshot, error)
}

func (m *mockPortfolioService) CreateWallet(ctx context.Context, in service.CreateWalletInput) (*models.Wallet, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, in)
	}
	return &models.Wallet{ID: testWalletID, Label: in.Label, EVMAddress: in.EVMAddress, BTCAddresses: in.BTCAddresses}, nil
}

func (m *mockPortfolioService) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, walletID)
	}
	return &models.Wallet{ID: walletID, Label: "main"}, nil
}

func (m *mockPortfolioService) ListWallets(ctx context.Context) ([]*models.Wallet, error) {
	return []*models.Wallet{{ID: testWalletID}}, nil
}

func (m *mockPortfolioService) DeleteWallet(ctx context.Context, walletID string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, walletID)
	}
	return nil
}

func (m *mockPortfolioService) RefreshPortfolio(ctx context.Context, walletID string) (*service.RefreshResult, error) {
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, walletID)
	}
	return &service.RefreshResult{WalletID: walletID, TotalUSD: 47600, TotalPrimary: 0.50105}, nil
}

func (m *mockPortfolioService) GetAssetAllocation(ctx context.Context, walletID string) ([]models.Allocation, error) {
	return []models.Allocation{{Name: "Bitcoin", Symbol: "BTC", ValueUSD: 47500, Percentage: 99.79}}, nil
}

func (m *mockPortfolioService) GetAssets(ctx context.Context, walletID string) ([]*models.AssetBalance, error) {
	return []*models.AssetBalance{{WalletID: walletID, Chain: "bitcoin", AssetSymbol: "BTC"}}, nil
}

func (m *mockPortfolioService) GetDashboardStats(ctx context.Context) (*service.DashboardView, error) {
	return &service.DashboardView{HasData: true, TotalUSDDisplay: "$47,600.00"}, nil
}

func (m *mockPortfolioService) GetPortfolioHistory(ctx context.Context, days int) ([]*models.PortfolioSnapshot, error) {
	if m.historyFunc != nil {
		return m.historyFunc(ctx, days)
	}
	return []*models.PortfolioSnapshot{}, nil
}

func (m *mockPortfolioService) RefreshStats() *service.RefreshStats {
	return &service.RefreshStats{Refreshes: 3}
}

type mockPrices struct {
	err     error
	entries map[string]price.Entry
	last    time.Time
}

func (m *mockPrices) Refresh(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	m.last = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return nil
}

func (m *mockPrices) Entries() map[string]price.Entry { return m.entries }

func (m *mockPrices) LastRefresh() time.Time { return m.last }

type mockProviders struct{}

func (mockProviders) Metrics() []provider.MetricsSnapshot {
	return []provider.MetricsSnapshot{{Chain: "ethereum", PoolSize: 3}}
}

func newTestServer(svc PortfolioServiceInterface, prices PriceCacheInterface) http.Handler {
	return NewServer(nil, svc, prices, mockProviders{}, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&mockPortfolioService{}, nil), "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateWallet(t *testing.T) {
	h := newTestServer(&mockPortfolioService{}, nil)

	rec := do(t, h, "POST", "/api/wallets", `{"label":"main","btcAddresses":["bc1qa"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var w models.Wallet
	decode(t, rec, &w)
	assert.Equal(t, testWalletID, w.ID)
	assert.Equal(t, []string{"bc1qa"}, w.BTCAddresses)
}

func TestCreateWallet_BadBody(t *testing.T) {
	h := newTestServer(&mockPortfolioService{}, nil)

	for _, body := range []string{`{"label":`, `{"unknown":1}`} {
		rec := do(t, h, "POST", "/api/wallets", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		var resp ErrorResponse
		decode(t, rec, &resp)
		assert.Equal(t, ErrCodeInvalidInput, resp.Error.Code)
	}
}

func TestCreateWallet_ValidationError(t *testing.T) {
	svc := &mockPortfolioService{
		createFunc: func(ctx context.Context, in service.CreateWalletInput) (*models.Wallet, error) {
			return nil, apperrors.NewInvalidAddressError("0x12")
		},
	}
	rec := do(t, newTestServer(svc, nil), "POST", "/api/wallets", `{"evmAddress":"0x12"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWalletRoutes(t *testing.T) {
	var deleted string
	svc := &mockPortfolioService{
		deleteFunc: func(ctx context.Context, walletID string) error {
			deleted = walletID
			return nil
		},
	}
	h := newTestServer(svc, nil)

	rec := do(t, h, "GET", "/api/wallets", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Wallets []models.Wallet `json:"wallets"`
		Count   int             `json:"count"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = do(t, h, "GET", "/api/wallets/"+testWalletID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, "DELETE", "/api/wallets/"+testWalletID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, testWalletID, deleted)

	rec = do(t, h, "GET", "/api/wallets/"+testWalletID+"/allocation", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"BTC"`)
	assert.Contains(t, rec.Body.String(), `"name":"Bitcoin"`)

	rec = do(t, h, "GET", "/api/wallets/"+testWalletID+"/assets", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestGetWallet_NotFound(t *testing.T) {
	svc := &mockPortfolioService{
		getFunc: func(ctx context.Context, walletID string) (*models.Wallet, error) {
			return nil, apperrors.NewNotFoundError("wallet", walletID)
		},
	}
	rec := do(t, newTestServer(svc, nil), "GET", "/api/wallets/"+testWalletID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestRefreshWallet(t *testing.T) {
	rec := do(t, newTestServer(&mockPortfolioService{}, nil), "POST", "/api/wallets/"+testWalletID+"/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res service.RefreshResult
	decode(t, rec, &res)
	assert.Equal(t, testWalletID, res.WalletID)
	assert.Equal(t, 47600.0, res.TotalUSD)
}

func TestRefreshWallet_InternalErrorHidden(t *testing.T) {
	svc := &mockPortfolioService{
		refreshFunc: func(ctx context.Context, walletID string) (*service.RefreshResult, error) {
			return nil, errors.New("pq: password authentication failed for user portfolio")
		},
	}
	rec := do(t, newTestServer(svc, nil), "POST", "/api/wallets/"+testWalletID+"/refresh", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestRefreshWallet_PersistenceError(t *testing.T) {
	svc := &mockPortfolioService{
		refreshFunc: func(ctx context.Context, walletID string) (*service.RefreshResult, error) {
			return nil, apperrors.NewPersistenceError("upsert asset balances", errors.New("conn reset"))
		},
	}
	rec := do(t, newTestServer(svc, nil), "POST", "/api/wallets/"+testWalletID+"/refresh", "")
	assert.GreaterOrEqual(t, rec.Code, 500)
	assert.NotContains(t, rec.Body.String(), "conn reset")
}

func TestHistory_Days(t *testing.T) {
	var gotDays int
	svc := &mockPortfolioService{
		historyFunc: func(ctx context.Context, days int) ([]*models.PortfolioSnapshot, error) {
			gotDays = days
			return []*models.PortfolioSnapshot{{TotalUSD: 1}}, nil
		},
	}
	h := newTestServer(svc, nil)

	rec := do(t, h, "GET", "/api/history", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, gotDays)

	rec = do(t, h, "GET", "/api/history?days=30", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, gotDays)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	for _, q := range []string{"abc", "0", "-3"} {
		rec = do(t, h, "GET", "/api/history?days="+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestDashboardAndStats(t *testing.T) {
	h := newTestServer(&mockPortfolioService{}, nil)

	rec := do(t, h, "GET", "/api/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"totalUsdDisplay":"$47,600.00"`)

	rec = do(t, h, "GET", "/api/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"refreshes":3`)
}

func TestPrices(t *testing.T) {
	prices := &mockPrices{entries: map[string]price.Entry{
		"ETH": {Price: 3000},
		"BTC": {Price: 95000, Change24h: 2, HasChange: true},
	}}
	h := newTestServer(&mockPortfolioService{}, prices)

	rec := do(t, h, "GET", "/api/prices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Prices []PriceView `json:"prices"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Prices, 2)
	assert.Equal(t, "BTC", body.Prices[0].Symbol)
	require.NotNil(t, body.Prices[0].Change24h)
	assert.Nil(t, body.Prices[1].Change24h)

	rec = do(t, h, "POST", "/api/prices/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lastRefresh")

	prices.err = apperrors.NewUpstreamStatusError("coingecko", 500)
	rec = do(t, h, "POST", "/api/prices/refresh", "")
	assert.Equal(t, apperrors.GetHTTPStatusCode(prices.err), rec.Code)
}

func TestPrices_Unavailable(t *testing.T) {
	h := newTestServer(&mockPortfolioService{}, nil)
	rec := do(t, h, "POST", "/api/prices/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProviderMetrics(t *testing.T) {
	rec := do(t, newTestServer(&mockPortfolioService{}, nil), "GET", "/api/providers/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"chain":"ethereum"`)

	h := NewServer(nil, &mockPortfolioService{}, nil, nil, nil).Handler()
	rec = do(t, h, "GET", "/api/providers/metrics", "")
	assert.JSONEq(t, `{"providers":[]}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_requests_total", Help: "x"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewServer(nil, &mockPortfolioService{}, nil, nil, reg).Handler()
	rec := do(t, h, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_requests_total 1")

	rec = do(t, NewServer(nil, &mockPortfolioService{}, nil, nil, nil).Handler(), "GET", "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompression(t *testing.T) {
	h := newTestServer(&mockPortfolioService{}, nil)

	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "totalUsdDisplay")
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, newTestServer(&mockPortfolioService{}, nil), "OPTIONS", "/api/wallets/"+testWalletID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	svc := &mockPortfolioService{
		getFunc: func(ctx context.Context, walletID string) (*models.Wallet, error) {
			panic("boom")
		},
	}
	rec := do(t, newTestServer(svc, nil), "GET", "/api/wallets/"+testWalletID, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrCodeInternalError)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RequestsPerSecond = 0.5
	cfg.Burst = 2
	h := NewServer(cfg, &mockPortfolioService{}, nil, nil, nil).Handler()

	for i := 0; i < 2; i++ {
		rec := do(t, h, "GET", "/api/dashboard", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, "GET", "/api/dashboard", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	// another client has its own bucket
	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)

	// health is never limited
	rec = do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
