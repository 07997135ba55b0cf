// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/provider"
	"github.com/portfolio-aggregator/internal/service"
)

// Service interfaces for dependency injection and testing

// PortfolioServiceInterface defines the portfolio operations the API exposes
type PortfolioServiceInterface interface {
	CreateWallet(ctx context.Context, in service.CreateWalletInput) (*models.Wallet, error)
	GetWallet(ctx context.Context, walletID string) (*models.Wallet, error)
	ListWallets(ctx context.Context) ([]*models.Wallet, error)
	DeleteWallet(ctx context.Context, walletID string) error
	RefreshPortfolio(ctx context.Context, walletID string) (*service.RefreshResult, error)
	GetAssetAllocation(ctx context.Context, walletID string) ([]models.Allocation, error)
	GetAssets(ctx context.Context, walletID string) ([]*models.AssetBalance, error)
	GetDashboardStats(ctx context.Context) (*service.DashboardView, error)
	GetPortfolioHistory(ctx context.Context, days int) ([]*models.PortfolioSnapshot, error)
	RefreshStats() *service.RefreshStats
}

// PriceCacheInterface defines the price cache operations the API exposes
type PriceCacheInterface interface {
	Refresh(ctx context.Context) error
	Entries() map[string]price.Entry
	LastRefresh() time.Time
}

// ProviderMetricsInterface reports per-chain provider counters
type ProviderMetricsInterface interface {
	Metrics() []provider.MetricsSnapshot
}

// Server represents the HTTP API server.
type Server struct {
	router           *mux.Router
	httpServer       *http.Server
	portfolioService PortfolioServiceInterface
	prices           PriceCacheInterface
	providers        ProviderMetricsInterface
	gatherer         prometheus.Gatherer
	config           *ServerConfig
	logger           *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64 // per client
	Burst             int
}

// DefaultServerConfig returns timeouts suited to refreshes that fan out to
// every chain.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "0.0.0.0",
		Port:              "8080",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// NewServer creates a new API server instance. prices, providers and
// gatherer may be nil; their endpoints then answer 503 or are not mounted.
func NewServer(
	config *ServerConfig,
	portfolioService PortfolioServiceInterface,
	prices PriceCacheInterface,
	providers ProviderMetricsInterface,
	gatherer prometheus.Gatherer,
) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	s := &Server{
		router:           mux.NewRouter(),
		portfolioService: portfolioService,
		prices:           prices,
		providers:        providers,
		gatherer:         gatherer,
		config:           config,
		logger:           logging.Component("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters: recovery must see panics from everything after it
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	// preflight requests need a matching route for the middleware to run
	s.router.MatcherFunc(isPreflight).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.gatherer != nil {
		// compression is left to CompressionMiddleware
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
			DisableCompression: true,
		})).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()

	// Wallet endpoints
	api.HandleFunc("/wallets", s.handleCreateWallet).Methods("POST")
	api.HandleFunc("/wallets", s.handleListWallets).Methods("GET")
	api.HandleFunc("/wallets/{id}", s.handleGetWallet).Methods("GET")
	api.HandleFunc("/wallets/{id}", s.handleDeleteWallet).Methods("DELETE")

	// Portfolio endpoints
	api.HandleFunc("/wallets/{id}/refresh", s.handleRefreshWallet).Methods("POST")
	api.HandleFunc("/wallets/{id}/allocation", s.handleGetAllocation).Methods("GET")
	api.HandleFunc("/wallets/{id}/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/dashboard", s.handleGetDashboard).Methods("GET")
	api.HandleFunc("/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	// Price and provider endpoints
	api.HandleFunc("/prices", s.handleGetPrices).Methods("GET")
	api.HandleFunc("/prices/refresh", s.handleRefreshPrices).Methods("POST")
	api.HandleFunc("/providers/metrics", s.handleProviderMetrics).Methods("GET")
}

// isPreflight matches OPTIONS without registering a method route, which
// would turn unknown paths into 405s.
func isPreflight(r *http.Request, _ *mux.RouteMatch) bool {
	return r.Method == http.MethodOptions
}

// Handler exposes the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "portfolio-aggregator",
	}
	if s.prices != nil {
		if last := s.prices.LastRefresh(); !last.IsZero() {
			body["pricesUpdatedAt"] = last.UTC()
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
