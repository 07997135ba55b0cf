package provider

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
)

// Options carries injectable collaborators. Zero values use production defaults.
type Options struct {
	// WSSDial opens websocket connections
	WSSDial Dialer
	// HTTPDial builds the HTTP fallback client
	HTTPDial Dialer
	// Collectors receives Prometheus series, nil disables them
	Collectors *Collectors
}

// HybridProvider answers balance and contract-call queries for one chain,
// preferring the websocket pool and falling back to HTTP.
type HybridProvider struct {
	chain   string
	cfg     Config
	http    Client
	slot    *poolSlot
	metrics *Metrics
	monitor *HealthMonitor
	logger  *logging.Logger
}

// NewHybridProvider builds the handle for one chain. A failed HTTP client is
// fatal; a failed websocket pool only means HTTP-only mode until the health
// monitor manages to build one.
func NewHybridProvider(ctx context.Context, cfg Config, chain string, opts Options) (*HybridProvider, error) {
	if opts.WSSDial == nil {
		opts.WSSDial = DialEthClient
	}
	if opts.HTTPDial == nil {
		opts.HTTPDial = DialEthClient
	}

	logger := logging.Component("provider").WithField("chain", chain)

	if cfg.HTTPURL == "" {
		return nil, &Error{Chain: chain, Op: "init", Err: fmt.Errorf("%w: no HTTP endpoint", ErrHTTPConnectionFailed)}
	}
	httpClient, err := opts.HTTPDial(ctx, cfg.HTTPURL)
	if err != nil {
		return nil, &Error{Chain: chain, Op: "init", Err: fmt.Errorf("%w: %v", ErrHTTPConnectionFailed, err)}
	}

	h := &HybridProvider{
		chain:   chain,
		cfg:     cfg,
		http:    httpClient,
		slot:    &poolSlot{},
		metrics: NewMetrics(chain, opts.Collectors),
		logger:  logger,
	}

	if cfg.WSSEnabled() {
		pool, err := NewPool(ctx, cfg, chain, opts.WSSDial)
		if err != nil {
			logger.WithError(err).Warn("websocket pool unavailable, using HTTP only")
		} else {
			h.slot.swap(pool)
			h.metrics.setPoolSize(pool.Size())
		}

		if cfg.AutoReconnect {
			h.monitor = newHealthMonitor(chain, cfg, opts.WSSDial, h.slot, h.metrics)
			// the monitor outlives the request that created the provider
			h.monitor.Start(context.WithoutCancel(ctx))
		}
	}

	return h, nil
}

// Chain returns the chain name this provider serves
func (h *HybridProvider) Chain() string {
	return h.chain
}

// GetBalance returns the native balance of address at the latest block
func (h *HybridProvider) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return query(ctx, h, "get_balance", func(ctx context.Context, c Client) (*big.Int, error) {
		return c.BalanceAt(ctx, address, nil)
	})
}

// CallContract executes a read-only call at the latest block
func (h *HybridProvider) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return query(ctx, h, "call_contract", func(ctx context.Context, c Client) ([]byte, error) {
		return c.CallContract(ctx, msg, nil)
	})
}

func query[T any](ctx context.Context, h *HybridProvider, op string, fn func(context.Context, Client) (T, error)) (T, error) {
	var wssErr error

	if pool := h.slot.get(); pool != nil {
		client, err := pool.Acquire()
		if err != nil {
			h.metrics.Record(PathWSS, 0, false)
			wssErr = err
		} else {
			callCtx, cancel := h.callContext(ctx)
			start := time.Now()
			v, callErr := fn(callCtx, client)
			cancel()
			h.metrics.Record(PathWSS, time.Since(start), callErr == nil)
			if callErr == nil {
				return v, nil
			}
			wssErr = callErr
			h.logger.WithField("op", op).WithError(callErr).Warn("websocket query failed, falling back to HTTP")
		}
	}

	start := time.Now()
	v, err := fn(ctx, h.http)
	h.metrics.Record(PathHTTP, time.Since(start), err == nil)
	if err == nil {
		return v, nil
	}

	var cause error
	if wssErr != nil {
		cause = fmt.Errorf("%w: wss: %v; http: %w", ErrAllProvidersFailed, wssErr, err)
	} else {
		cause = fmt.Errorf("%w: http: %w", ErrAllProvidersFailed, err)
	}
	var zero T
	return zero, &Error{Chain: h.chain, Op: op, Err: apperrors.NewConnectivityError(h.chain, cause)}
}

func (h *HybridProvider) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.cfg.CallTimeout)
}

// Metrics returns a snapshot of per-path counters
func (h *HybridProvider) Metrics() MetricsSnapshot {
	s := h.metrics.Snapshot()
	s.PoolSize = h.slot.get().Size()
	return s
}

// Close stops the health monitor and releases every connection
func (h *HybridProvider) Close() {
	if h.monitor != nil {
		h.monitor.Stop()
	}
	if old := h.slot.swap(nil); old != nil {
		old.Close()
	}
	h.http.Close()
}
