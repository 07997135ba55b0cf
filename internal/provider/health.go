package provider

import (
	"context"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/retry"
)

// HealthMonitor checks a chain's websocket pool on an interval and rebuilds
// it when the check fails. It runs until Stop or its context ends.
type HealthMonitor struct {
	chain   string
	cfg     Config
	dial    Dialer
	slot    *poolSlot
	metrics *Metrics
	policy  retry.Policy
	logger  *logging.Logger

	interval     time.Duration
	checkTimeout time.Duration
	sleep        func(ctx context.Context, d time.Duration) error

	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

func newHealthMonitor(chain string, cfg Config, dial Dialer, slot *poolSlot, metrics *Metrics) *HealthMonitor {
	return &HealthMonitor{
		chain:        chain,
		cfg:          cfg,
		dial:         dial,
		slot:         slot,
		metrics:      metrics,
		policy:       retry.ReconnectPolicy(cfg.reconnectAttempts(), cfg.ReconnectBaseDelay),
		logger:       logging.Component("health").WithField("chain", chain),
		interval:     cfg.healthInterval(),
		checkTimeout: cfg.connectTimeout(),
		sleep:        sleepCtx,
		stopCh:       make(chan struct{}),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the monitor loop
func (m *HealthMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop ends the monitor loop and waits for it. Idempotent.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *HealthMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.WithField("interval", m.interval.String()).Debug("health monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("health monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs one health check and, if it fails, one reconnect sequence
func (m *HealthMonitor) tick(ctx context.Context) {
	err := m.check(ctx)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	m.logger.WithError(err).Warn("health check failed")
	if err := m.reconnect(ctx); err != nil && ctx.Err() == nil {
		m.logger.WithError(err).Error("reconnect attempts exhausted, retrying next tick")
	}
}

func (m *HealthMonitor) check(ctx context.Context) error {
	pool := m.slot.get()
	client, err := pool.Acquire()
	if err != nil {
		return err
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()
	_, err = client.BlockNumber(checkCtx)
	return err
}

func (m *HealthMonitor) reconnect(ctx context.Context) error {
	if !m.cfg.AutoReconnect || !m.cfg.WSSEnabled() {
		return &Error{Chain: m.chain, Op: "reconnect", Err: ErrWSSConnectionFailed}
	}

	attempts := m.policy.MaxAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		delay := m.policy.Delay(attempt)
		m.logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": attempts,
			"delay":       delay.String(),
		}).Info("reconnecting websocket pool")

		if err := m.sleep(ctx, delay); err != nil {
			return err
		}

		// no lock is held while dialing
		pool, err := NewPool(ctx, m.cfg, m.chain, m.dial)
		if err != nil {
			lastErr = err
			m.metrics.recordReconnect(false)
			continue
		}

		old := m.slot.swap(pool)
		if old != nil {
			old.Close()
		}
		m.metrics.recordReconnect(true)
		m.metrics.setPoolSize(pool.Size())
		m.logger.WithField("attempt", attempt).Info("websocket pool reconnected")
		return nil
	}

	return &Error{Chain: m.chain, Op: "reconnect", Err: lastErr}
}
