// Package app wires configuration, storage, providers, the price cache and
// the portfolio service into one graph shared by every binary.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/portfolio-aggregator/internal/balance"
	"github.com/portfolio-aggregator/internal/chain"
	"github.com/portfolio-aggregator/internal/circuitbreaker"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/httpclient"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/provider"
	"github.com/portfolio-aggregator/internal/service"
	"github.com/portfolio-aggregator/internal/storage"
)

// App is the assembled dependency graph. Redis and ClickHouse are nil when
// disabled or unreachable.
type App struct {
	Config     *config.Config
	Chains     *chain.Table
	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB
	Providers  *provider.Registry
	Prices     *price.Manager
	Portfolio  *service.PortfolioService
	Metrics    *prometheus.Registry

	logger *logging.Logger
}

// InitLogging configures the global logger from cfg
func InitLogging(cfg *config.Config) *logging.Logger {
	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Debug("structured logging initialized")
	return logger
}

// New connects to every store and builds the service graph. Only Postgres
// is required; the Redis price mirror and the ClickHouse history sink are
// skipped with a warning when they cannot be reached.
func New(cfg *config.Config) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: prometheus.NewRegistry(),
		logger:  logging.Component("app"),
	}
	a.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	table, err := chain.Load(cfg.ChainsFile)
	if err != nil {
		return nil, fmt.Errorf("load chain table: %w", err)
	}
	a.Chains = table
	a.logger.WithFields(map[string]interface{}{
		"chains":   table.Len(),
		"mainnets": len(table.Mainnets()),
		"file":     cfg.ChainsFile,
	}).Info("chain table loaded")

	a.Postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if cfg.Database.Redis.Enabled {
		a.Redis, err = storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			a.logger.WithError(err).Warn("redis unavailable, price cache will not be mirrored")
			a.Redis = nil
		}
	}

	if cfg.Database.ClickHouse.Enabled {
		a.ClickHouse, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			a.logger.WithError(err).Warn("clickhouse unavailable, balance history disabled")
			a.ClickHouse = nil
		}
	}

	a.Providers = provider.NewRegistry(providerConfig(cfg.Provider), provider.Options{
		Collectors: provider.NewCollectors(a.Metrics),
	})

	breakers := circuitbreaker.NewManager()
	a.Prices = a.buildPrices(breakers)

	bitcoin := balance.NewBitcoinClient(
		httpclient.New(cfg.Bitcoin.RequestTimeout),
		cfg.Bitcoin.BlockstreamURL,
		cfg.Bitcoin.BlockchainInfoURL,
		breakers,
	)

	deps := service.Dependencies{
		Wallets:   storage.NewWalletRepository(a.Postgres),
		Balances:  storage.NewAssetBalanceRepository(a.Postgres),
		Dashboard: storage.NewDashboardRepository(a.Postgres),
		Snapshots: storage.NewSnapshotRepository(a.Postgres),
		Prices:    a.Prices,
		Chains:    table,
		EVM:       balance.NewFetcher(balance.FromRegistry(a.Providers)),
		Primary:   bitcoin,
		Monitor:   service.NewRefreshMonitor(a.Metrics),
	}
	if a.ClickHouse != nil {
		deps.History = storage.NewBalanceHistoryRepository(a.ClickHouse)
	}

	a.Portfolio = service.NewPortfolioService(deps, service.Options{
		ChainConcurrency:     cfg.Aggregator.ChainConcurrency,
		PrimaryFallbackPrice: cfg.Aggregator.PrimaryFallbackPrice,
		HistoryDays:          cfg.Aggregator.HistoryDays,
	})
	return a, nil
}

func (a *App) buildPrices(breakers *circuitbreaker.Manager) *price.Manager {
	cfg := a.Config.Price
	source := price.NewCoinGeckoSource(httpclient.New(cfg.RequestTimeout), price.CoinGeckoConfig{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		RequestsPerSec: cfg.RequestsPerSec,
	}, breakers)

	symbols := make([]string, 0, len(price.DefaultSymbols)+a.Chains.Len())
	symbols = append(symbols, price.DefaultSymbols...)
	symbols = append(symbols, a.Chains.Symbols()...)

	opts := price.Options{
		Symbols:         symbols,
		RefreshInterval: cfg.RefreshInterval,
		TTL:             cfg.TTL,
	}
	if a.Redis != nil {
		opts.Store = a.Redis.PriceStore(cfg.RedisTTL)
	}
	return price.NewManager(source, opts)
}

func providerConfig(p config.ProviderConfig) provider.Config {
	base := provider.DefaultConfig("", "")
	base.EnableWSS = p.EnableWSS
	base.AutoReconnect = p.AutoReconnect
	if p.PoolSize > 0 {
		base.PoolSize = p.PoolSize
	}
	if p.ConnectTimeout > 0 {
		base.ConnectTimeout = p.ConnectTimeout
	}
	if p.HealthCheckInterval > 0 {
		base.HealthCheckInterval = p.HealthCheckInterval
	}
	if p.MaxReconnectAttempts > 0 {
		base.MaxReconnectAttempts = p.MaxReconnectAttempts
	}
	return base
}

// Start begins the background price refresh loop
func (a *App) Start(ctx context.Context) {
	a.Prices.Start(ctx)
}

// Close stops background work and releases every connection
func (a *App) Close() {
	if a.Prices != nil {
		a.Prices.Stop()
	}
	if a.Providers != nil {
		a.Providers.Close()
	}
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			a.logger.WithError(err).Warn("error closing clickhouse")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.WithError(err).Warn("error closing redis")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}

// WaitForPrices refreshes once and returns when the cache has data or the
// timeout passes. Used by one-shot commands that never run the loop.
func (a *App) WaitForPrices(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.Prices.Refresh(ctx)
}
