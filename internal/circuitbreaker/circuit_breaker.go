// Package circuitbreaker stops hammering an upstream HTTP API that keeps
// failing. It guards the price source and the bitcoin explorers.
package circuitbreaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name string
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures int
	// Cooldown is how long the breaker stays open before letting a trial through
	Cooldown time.Duration
	// TrialSuccesses needed in half-open to close again
	TrialSuccesses int
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		ConsecutiveFailures: 5,
		Cooldown:            30 * time.Second,
		TrialSuccesses:      1,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg    Config
	now    func() time.Time
	logger *logging.Logger

	mu               sync.Mutex
	state            State
	consecutiveFails int
	trialSuccesses   int
	trialInFlight    bool
	openedAt         time.Time
	totalCalls       int64
	totalFailures    int64
	rejected         int64
}

// New creates a new circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.ConsecutiveFailures < 1 {
		cfg.ConsecutiveFailures = 1
	}
	if cfg.TrialSuccesses < 1 {
		cfg.TrialSuccesses = 1
	}
	return &CircuitBreaker{
		cfg:    cfg,
		now:    time.Now,
		logger: logging.Component("circuitbreaker").WithField("breaker", cfg.Name),
		state:  StateClosed,
	}
}

// Execute runs fn unless the breaker is open. Context cancellation by the
// caller is not counted as an upstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := cb.allow()
	if err != nil {
		return err
	}

	err = fn(ctx)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release(trial)
		return err
	}
	cb.record(trial, err)
	return err
}

func (cb *CircuitBreaker) allow() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			cb.rejected++
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trialSuccesses = 0
		cb.logger.Info("circuit half-open, probing upstream")
		fallthrough
	case StateHalfOpen:
		// one trial at a time
		if cb.trialInFlight {
			cb.rejected++
			return false, ErrCircuitOpen
		}
		cb.trialInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) release(trial bool) {
	if !trial {
		return
	}
	cb.mu.Lock()
	cb.trialInFlight = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	if trial {
		cb.trialInFlight = false
	}

	if err == nil {
		cb.consecutiveFails = 0
		if cb.state == StateHalfOpen {
			cb.trialSuccesses++
			if cb.trialSuccesses >= cb.cfg.TrialSuccesses {
				cb.state = StateClosed
				cb.logger.Info("circuit closed after successful trial")
			}
		}
		return
	}

	cb.totalFailures++
	cb.consecutiveFails++

	switch cb.state {
	case StateHalfOpen:
		cb.trip()
	case StateClosed:
		if cb.consecutiveFails >= cb.cfg.ConsecutiveFailures {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.logger.WithFields(map[string]interface{}{
		"consecutiveFails": cb.consecutiveFails,
		"cooldown":         cb.cfg.Cooldown.String(),
	}).Warn("circuit opened")
}

// State returns the current state, moving open to half-open once the
// cooldown has passed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name             string `json:"name"`
	State            State  `json:"state"`
	ConsecutiveFails int    `json:"consecutiveFails"`
	TotalCalls       int64  `json:"totalCalls"`
	TotalFailures    int64  `json:"totalFailures"`
	Rejected         int64  `json:"rejected"`
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	state := cb.State()
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:             cb.cfg.Name,
		State:            state,
		ConsecutiveFails: cb.consecutiveFails,
		TotalCalls:       cb.totalCalls,
		TotalFailures:    cb.totalFailures,
		Rejected:         cb.rejected,
	}
}

// Reset manually closes the breaker
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.trialInFlight = false
}

// Manager hands out one breaker per upstream name
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewManager creates a new circuit breaker manager
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*CircuitBreaker)}
}

// GetOrCreate returns the breaker for name, creating it with cfg on first use
func (m *Manager) GetOrCreate(name string, cfg *Config) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	c := DefaultConfig(name)
	if cfg != nil {
		c = *cfg
		c.Name = name
	}
	cb := New(c)
	m.breakers[name] = cb
	return cb
}

// AllStats returns statistics for every breaker, sorted by name
func (m *Manager) AllStats() []Stats {
	m.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		list = append(list, cb)
	}
	m.mu.Unlock()

	out := make([]Stats, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.GetStats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
