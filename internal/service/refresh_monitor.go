package service

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// slowRefresh is the duration above which a refresh counts as slow
const slowRefresh = 30 * time.Second

// RefreshMonitor tracks refresh durations, outcomes and allocation cache
// effectiveness. Counters are mirrored to Prometheus when a registerer is
// given.
type RefreshMonitor struct {
	mu            sync.RWMutex
	durations     []time.Duration
	maxSamples    int
	refreshes     int64
	failures      int64
	slow          int64
	chainFailures map[string]int64
	allocHits     int64
	allocMisses   int64
	lastRefreshAt time.Time
	lastTotalUSD  float64

	durationHist prometheus.Histogram
	refreshTotal *prometheus.CounterVec
	chainFailTot *prometheus.CounterVec
	allocTotal   *prometheus.CounterVec
	portfolioUSD prometheus.Gauge
}

// NewRefreshMonitor creates a monitor. reg may be nil.
func NewRefreshMonitor(reg prometheus.Registerer) *RefreshMonitor {
	m := &RefreshMonitor{
		durations:     make([]time.Duration, 0, 256),
		maxSamples:    256,
		chainFailures: make(map[string]int64),
	}
	if reg == nil {
		return m
	}

	m.durationHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "portfolio",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of wallet refreshes.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})
	m.refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio",
		Name:      "refresh_total",
		Help:      "Wallet refreshes by outcome.",
	}, []string{"outcome"})
	m.chainFailTot = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio",
		Name:      "chain_fetch_failures_total",
		Help:      "Chains whose balances could not be read during a refresh.",
	}, []string{"chain"})
	m.allocTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portfolio",
		Name:      "allocation_cache_total",
		Help:      "Allocation lookups by cache result.",
	}, []string{"result"})
	m.portfolioUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "portfolio",
		Name:      "total_usd",
		Help:      "Total USD value of the last refreshed wallet.",
	})
	reg.MustRegister(m.durationHist, m.refreshTotal, m.chainFailTot, m.allocTotal, m.portfolioUSD)
	return m
}

// RecordRefresh records one refresh. failedChains lists chains that could
// not be read; err is the refresh's returned error.
func (m *RefreshMonitor) RecordRefresh(duration time.Duration, totalUSD float64, failedChains []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshes++
	m.durations = append(m.durations, duration)
	if len(m.durations) > m.maxSamples {
		m.durations = m.durations[len(m.durations)-m.maxSamples:]
	}
	if duration > slowRefresh {
		m.slow++
	}
	for _, c := range failedChains {
		m.chainFailures[c]++
		if m.chainFailTot != nil {
			m.chainFailTot.WithLabelValues(c).Inc()
		}
	}

	outcome := "success"
	if err != nil {
		m.failures++
		outcome = "failure"
	} else {
		m.lastRefreshAt = time.Now().UTC()
		m.lastTotalUSD = totalUSD
		if m.portfolioUSD != nil {
			m.portfolioUSD.Set(totalUSD)
		}
	}
	if m.refreshTotal != nil {
		m.refreshTotal.WithLabelValues(outcome).Inc()
		m.durationHist.Observe(duration.Seconds())
	}
}

// RecordAllocationLookup records an allocation cache hit or miss
func (m *RefreshMonitor) RecordAllocationLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := "miss"
	if hit {
		m.allocHits++
		result = "hit"
	} else {
		m.allocMisses++
	}
	if m.allocTotal != nil {
		m.allocTotal.WithLabelValues(result).Inc()
	}
}

// RefreshStats is a point-in-time view of the monitor
type RefreshStats struct {
	Refreshes        int64            `json:"refreshes"`
	Failures         int64            `json:"failures"`
	SlowRefreshes    int64            `json:"slowRefreshes"`
	AvgRefreshMs     float64          `json:"avgRefreshMs"`
	P95RefreshMs     float64          `json:"p95RefreshMs"`
	ChainFailures    map[string]int64 `json:"chainFailures"`
	AllocationHits   int64            `json:"allocationCacheHits"`
	AllocationMisses int64            `json:"allocationCacheMisses"`
	AllocationHitPct float64          `json:"allocationCacheHitRate"`
	LastRefreshAt    *time.Time       `json:"lastRefreshAt,omitempty"`
	LastTotalUSD     float64          `json:"lastTotalUsd"`
}

// Stats returns the current statistics
func (m *RefreshMonitor) Stats() *RefreshStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &RefreshStats{
		Refreshes:        m.refreshes,
		Failures:         m.failures,
		SlowRefreshes:    m.slow,
		ChainFailures:    make(map[string]int64, len(m.chainFailures)),
		AllocationHits:   m.allocHits,
		AllocationMisses: m.allocMisses,
		LastTotalUSD:     m.lastTotalUSD,
	}
	for k, v := range m.chainFailures {
		stats.ChainFailures[k] = v
	}
	if !m.lastRefreshAt.IsZero() {
		t := m.lastRefreshAt
		stats.LastRefreshAt = &t
	}
	if lookups := m.allocHits + m.allocMisses; lookups > 0 {
		stats.AllocationHitPct = float64(m.allocHits) / float64(lookups) * 100
	}

	if len(m.durations) > 0 {
		sorted := make([]time.Duration, len(m.durations))
		copy(sorted, m.durations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		stats.AvgRefreshMs = float64(total.Milliseconds()) / float64(len(sorted))

		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		stats.P95RefreshMs = float64(sorted[idx].Milliseconds())
	}
	return stats
}

// Reset clears every in-memory statistic. Prometheus series are untouched.
func (m *RefreshMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations = make([]time.Duration, 0, m.maxSamples)
	m.refreshes, m.failures, m.slow = 0, 0, 0
	m.chainFailures = make(map[string]int64)
	m.allocHits, m.allocMisses = 0, 0
	m.lastRefreshAt = time.Time{}
	m.lastTotalUSD = 0
}
