// Package price keeps an in-memory map of USD prices and 24h changes that is
// refreshed in the background from a remote source and read without I/O by
// the aggregator.
package price

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
)

// DefaultSymbols are tracked when no symbol list is configured
var DefaultSymbols = []string{"BTC", "ETH", "USDT", "USDC", "DAI", "MATIC", "BNB"}

var stablecoins = map[string]struct{}{
	"USDT": {},
	"USDC": {},
	"DAI":  {},
}

// IsStablecoin reports whether symbol is pegged to 1 USD
func IsStablecoin(symbol string) bool {
	_, ok := stablecoins[strings.ToUpper(symbol)]
	return ok
}

// Quote is one symbol's price as returned by a Source
type Quote struct {
	Price     float64
	Change24h float64
	HasChange bool
}

// Source fetches quotes for several symbols in one request
type Source interface {
	Name() string
	FetchPrices(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// Entry is a cached quote
type Entry struct {
	Price     float64   `json:"price"`
	Change24h float64   `json:"change_24h"`
	HasChange bool      `json:"has_change"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store mirrors the cache outside the process so a restarted instance starts
// warm.
type Store interface {
	Save(ctx context.Context, entries map[string]Entry) error
	Load(ctx context.Context) (map[string]Entry, error)
}

// Options configures a Manager
type Options struct {
	Symbols         []string
	RefreshInterval time.Duration
	TTL             time.Duration
	Store           Store
	Now             func() time.Time
}

// Manager owns the price cache
type Manager struct {
	source   Source
	symbols  []string
	interval time.Duration
	ttl      time.Duration
	store    Store
	now      func() time.Time
	logger   *logging.Logger

	mu          sync.RWMutex
	entries     map[string]Entry
	lastRefresh time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates a manager; nothing is fetched until Start or Refresh.
func NewManager(source Source, opts Options) *Manager {
	symbols := opts.Symbols
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	seen := make(map[string]struct{}, len(symbols))
	tracked := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || IsStablecoin(s) {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		tracked = append(tracked, s)
	}
	sort.Strings(tracked)

	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 60 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		source:   source,
		symbols:  tracked,
		interval: opts.RefreshInterval,
		ttl:      opts.TTL,
		store:    opts.Store,
		now:      opts.Now,
		logger:   logging.Component("price"),
		entries:  make(map[string]Entry),
	}
}

// Symbols returns the symbols fetched from the source
func (m *Manager) Symbols() []string {
	out := make([]string, len(m.symbols))
	copy(out, m.symbols)
	return out
}

// Start warms the cache from the store when empty, performs one refresh and
// then refreshes every interval until ctx is done or Stop is called. A
// failed initial refresh is logged; the loop keeps trying.
func (m *Manager) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.cancel != nil {
		return
	}

	m.warm(ctx)
	if err := m.Refresh(ctx); err != nil {
		m.logger.WithError(err).Warn("initial price refresh failed")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx, m.done)

	m.logger.WithFields(map[string]interface{}{
		"interval": m.interval.String(),
		"symbols":  strings.Join(m.symbols, ","),
	}).Info("price manager started")
}

// Stop ends the refresh loop and waits for it to exit
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifecycle.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("price manager stopped")
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.WithError(err).Warn("price refresh failed, keeping cached prices")
			}
		}
	}
}

func (m *Manager) warm(ctx context.Context) {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	empty := len(m.entries) == 0
	m.mu.RUnlock()
	if !empty {
		return
	}

	entries, err := m.store.Load(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("could not load mirrored prices")
		return
	}
	if len(entries) == 0 {
		return
	}

	m.mu.Lock()
	if len(m.entries) == 0 {
		m.entries = entries
	}
	m.mu.Unlock()
	m.logger.WithField("symbols", len(entries)).Info("price cache warmed from store")
}

// Refresh fetches every tracked symbol in one request. On success the cache
// is replaced wholesale; on failure, or when the source returns nothing, the
// cache is left as it was.
func (m *Manager) Refresh(ctx context.Context) error {
	if len(m.symbols) == 0 {
		return nil
	}

	quotes, err := m.source.FetchPrices(ctx, m.symbols)
	if err != nil {
		return fmt.Errorf("fetch prices from %s: %w", m.source.Name(), err)
	}
	if len(quotes) == 0 {
		return fmt.Errorf("fetch prices from %s: empty result", m.source.Name())
	}

	now := m.now()
	next := make(map[string]Entry, len(quotes))
	for symbol, q := range quotes {
		next[strings.ToUpper(symbol)] = Entry{
			Price:     q.Price,
			Change24h: q.Change24h,
			HasChange: q.HasChange,
			UpdatedAt: now,
		}
	}

	m.mu.Lock()
	m.entries = next
	m.lastRefresh = now
	m.mu.Unlock()

	m.logger.WithField("symbols", len(next)).Debug("prices refreshed")

	if m.store != nil {
		if err := m.store.Save(ctx, next); err != nil {
			m.logger.WithError(err).Warn("could not mirror prices")
		}
	}
	return nil
}

// CachedPrice returns the cached USD price. Stablecoins are always 1.0.
func (m *Manager) CachedPrice(symbol string) (float64, bool) {
	symbol = strings.ToUpper(symbol)
	if IsStablecoin(symbol) {
		return 1.0, true
	}
	m.mu.RLock()
	e, ok := m.entries[symbol]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return e.Price, true
}

// Cached24hChange returns the cached 24h percent change. Stablecoins are
// always 0.
func (m *Manager) Cached24hChange(symbol string) (float64, bool) {
	symbol = strings.ToUpper(symbol)
	if IsStablecoin(symbol) {
		return 0, true
	}
	m.mu.RLock()
	e, ok := m.entries[symbol]
	m.mu.RUnlock()
	if !ok || !e.HasChange {
		return 0, false
	}
	return e.Change24h, true
}

// IsStale reports whether the symbol's entry is missing or older than the TTL
func (m *Manager) IsStale(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	if IsStablecoin(symbol) {
		return false
	}
	m.mu.RLock()
	e, ok := m.entries[symbol]
	m.mu.RUnlock()
	return !ok || m.now().Sub(e.UpdatedAt) > m.ttl
}

// LastRefresh is the time of the last successful refresh
func (m *Manager) LastRefresh() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRefresh
}

// Entries returns a copy of the cache
func (m *Manager) Entries() map[string]Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Snapshot returns a consistent copy for one aggregation
func (m *Manager) Snapshot() Prices {
	return Prices{entries: m.Entries()}
}

// Prices is an immutable view of the cache at one instant
type Prices struct {
	entries map[string]Entry
}

// NewPrices builds a view from explicit entries
func NewPrices(entries map[string]Entry) Prices {
	out := make(map[string]Entry, len(entries))
	for k, v := range entries {
		out[strings.ToUpper(k)] = v
	}
	return Prices{entries: out}
}

// Price has the same semantics as Manager.CachedPrice
func (p Prices) Price(symbol string) (float64, bool) {
	symbol = strings.ToUpper(symbol)
	if IsStablecoin(symbol) {
		return 1.0, true
	}
	e, ok := p.entries[symbol]
	if !ok {
		return 0, false
	}
	return e.Price, true
}

// Change has the same semantics as Manager.Cached24hChange
func (p Prices) Change(symbol string) (float64, bool) {
	symbol = strings.ToUpper(symbol)
	if IsStablecoin(symbol) {
		return 0, true
	}
	e, ok := p.entries[symbol]
	if !ok || !e.HasChange {
		return 0, false
	}
	return e.Change24h, true
}

// Len is the number of fetched symbols in the view
func (p Prices) Len() int {
	return len(p.entries)
}
