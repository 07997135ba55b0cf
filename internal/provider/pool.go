package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/portfolio-aggregator/internal/logging"
)

// Pool is a fixed set of persistent websocket connections handed out round
// robin. Acquire never blocks.
type Pool struct {
	chain   string
	clients []Client
	cursor  atomic.Uint64

	closeOnce sync.Once
}

// NewPool opens cfg.PoolSize connections to cfg.WSSURL one after another,
// each bounded by the connect timeout. A partial pool is kept when at least
// one connection opened; zero connections is an error.
func NewPool(ctx context.Context, cfg Config, chain string, dial Dialer) (*Pool, error) {
	if cfg.WSSURL == "" {
		return nil, &Error{Chain: chain, Op: "pool", Err: fmt.Errorf("%w: no websocket endpoint configured", ErrWSSConnectionFailed)}
	}
	if dial == nil {
		dial = DialEthClient
	}

	logger := logging.Component("provider").WithField("chain", chain)
	want := cfg.poolSize()
	clients := make([]Client, 0, want)

	var lastErr error
	for i := 0; i < want; i++ {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
		c, err := dial(dialCtx, cfg.WSSURL)
		cancel()
		if err != nil {
			lastErr = err
			logger.WithFields(map[string]interface{}{
				"connection": i + 1,
				"poolSize":   want,
			}).WithError(err).Warn("websocket connection failed")
			break
		}
		clients = append(clients, c)
	}

	if len(clients) == 0 {
		return nil, &Error{Chain: chain, Op: "pool", Err: fmt.Errorf("%w: %v", ErrWSSConnectionFailed, lastErr)}
	}
	if len(clients) < want {
		logger.Warnf("websocket pool running with %d of %d connections", len(clients), want)
	} else {
		logger.WithField("poolSize", want).Debug("websocket pool ready")
	}

	return &Pool{chain: chain, clients: clients}, nil
}

// Acquire returns the next connection in round-robin order
func (p *Pool) Acquire() (Client, error) {
	if p == nil || len(p.clients) == 0 {
		return nil, ErrPoolEmpty
	}
	n := p.cursor.Add(1) - 1
	return p.clients[n%uint64(len(p.clients))], nil
}

// Size returns the number of live connections
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.clients)
}

// Close closes every connection. Safe to call more than once.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		for _, c := range p.clients {
			c.Close()
		}
	})
}

// poolSlot is the swappable pool reference shared by a HybridProvider and its
// HealthMonitor. The lock is held only for the pointer read or swap.
type poolSlot struct {
	mu   sync.RWMutex
	pool *Pool
}

func (s *poolSlot) get() *Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// swap installs p and returns the previous pool
func (s *poolSlot) swap(p *Pool) *Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.pool
	s.pool = p
	return old
}
