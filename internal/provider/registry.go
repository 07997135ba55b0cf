package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/portfolio-aggregator/internal/chain"
	"github.com/portfolio-aggregator/internal/logging"
)

// Registry holds at most one HybridProvider per chain id, created on first use
type Registry struct {
	base Config
	opts Options

	mu        sync.RWMutex
	providers map[uint64]*HybridProvider
}

// NewRegistry creates a registry. base carries the pool and health settings;
// endpoints come from each chain descriptor.
func NewRegistry(base Config, opts Options) *Registry {
	return &Registry{
		base:      base,
		opts:      opts,
		providers: make(map[uint64]*HybridProvider),
	}
}

// ConfigFor merges the shared settings with a chain's endpoints
func (r *Registry) ConfigFor(desc chain.Descriptor) Config {
	cfg := r.base
	cfg.HTTPURL = desc.HTTPURL
	cfg.WSSURL = desc.WSSURL
	return cfg
}

// GetOrInit returns the chain's provider, building it if needed.
// Construction happens outside the lock; when two callers race, the first
// insert wins and the other handle is closed.
func (r *Registry) GetOrInit(ctx context.Context, desc chain.Descriptor) (*HybridProvider, error) {
	r.mu.RLock()
	p, ok := r.providers[desc.ID]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	built, err := NewHybridProvider(ctx, r.ConfigFor(desc), desc.Name, r.opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.providers[desc.ID]; ok {
		r.mu.Unlock()
		built.Close()
		return existing, nil
	}
	r.providers[desc.ID] = built
	r.mu.Unlock()

	logging.Component("provider").WithFields(map[string]interface{}{
		"chain":   desc.Name,
		"chainId": desc.ID,
		"wss":     built.Metrics().PoolSize > 0,
	}).Info("provider initialized")

	return built, nil
}

// Len returns the number of initialized providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Metrics returns every provider's counters, ordered by chain name
func (r *Registry) Metrics() []MetricsSnapshot {
	r.mu.RLock()
	list := make([]*HybridProvider, 0, len(r.providers))
	for _, p := range r.providers {
		list = append(list, p)
	}
	r.mu.RUnlock()

	out := make([]MetricsSnapshot, 0, len(list))
	for _, p := range list {
		out = append(out, p.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

// Close shuts down every provider and empties the registry
func (r *Registry) Close() {
	r.mu.Lock()
	providers := r.providers
	r.providers = make(map[uint64]*HybridProvider)
	r.mu.Unlock()

	for _, p := range providers {
		p.Close()
	}
}
