package provider

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Path identifies which transport served a query
type Path string

const (
	PathWSS  Path = "wss"
	PathHTTP Path = "http"
)

type pathCounters struct {
	queries   atomic.Uint64
	failures  atomic.Uint64
	latencyMs atomic.Uint64
}

func (c *pathCounters) record(elapsed time.Duration, ok bool) {
	c.queries.Add(1)
	if !ok {
		c.failures.Add(1)
	}
	c.latencyMs.Add(uint64(elapsed.Milliseconds()))
}

// PathSnapshot is a point-in-time view of one path's counters
type PathSnapshot struct {
	Queries      uint64  `json:"queries"`
	Failures     uint64  `json:"failures"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	SuccessRate  float64 `json:"successRate"`
}

func (c *pathCounters) snapshot() PathSnapshot {
	q := c.queries.Load()
	f := c.failures.Load()
	lat := c.latencyMs.Load()

	s := PathSnapshot{Queries: q, Failures: f}
	if q > 0 {
		s.AvgLatencyMs = float64(lat) / float64(q)
		s.SuccessRate = float64(q-f) / float64(q) * 100
	}
	return s
}

// MetricsSnapshot reports both paths for one chain
type MetricsSnapshot struct {
	Chain      string       `json:"chain"`
	WSS        PathSnapshot `json:"wss"`
	HTTP       PathSnapshot `json:"http"`
	PoolSize   int          `json:"poolSize"`
	Reconnects uint64       `json:"reconnects"`
}

// Collectors are the Prometheus series shared by every chain's provider
type Collectors struct {
	queries    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	reconnects *prometheus.CounterVec
	poolSize   *prometheus.GaugeVec
}

// NewCollectors registers the provider series on reg
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: "provider",
			Name:      "queries_total",
			Help:      "RPC queries by chain, transport path and outcome.",
		}, []string{"chain", "path", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portfolio",
			Subsystem: "provider",
			Name:      "query_duration_seconds",
			Help:      "RPC query latency by chain and transport path.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"chain", "path"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: "provider",
			Name:      "reconnects_total",
			Help:      "Websocket pool rebuild attempts by outcome.",
		}, []string{"chain", "outcome"}),
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "portfolio",
			Subsystem: "provider",
			Name:      "pool_connections",
			Help:      "Live websocket connections per chain.",
		}, []string{"chain"}),
	}
	if reg != nil {
		reg.MustRegister(c.queries, c.latency, c.reconnects, c.poolSize)
	}
	return c
}

// Metrics tracks per-path query counts and latency for one chain
type Metrics struct {
	chain      string
	wss        pathCounters
	http       pathCounters
	reconnects atomic.Uint64
	prom       *Collectors
}

// NewMetrics creates the counters for chain. prom may be nil.
func NewMetrics(chain string, prom *Collectors) *Metrics {
	return &Metrics{chain: chain, prom: prom}
}

// Record counts one query on path
func (m *Metrics) Record(path Path, elapsed time.Duration, ok bool) {
	switch path {
	case PathWSS:
		m.wss.record(elapsed, ok)
	default:
		m.http.record(elapsed, ok)
	}

	if m.prom != nil {
		outcome := "success"
		if !ok {
			outcome = "failure"
		}
		m.prom.queries.WithLabelValues(m.chain, string(path), outcome).Inc()
		m.prom.latency.WithLabelValues(m.chain, string(path)).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) recordReconnect(ok bool) {
	if ok {
		m.reconnects.Add(1)
	}
	if m.prom != nil {
		outcome := "success"
		if !ok {
			outcome = "failure"
		}
		m.prom.reconnects.WithLabelValues(m.chain, outcome).Inc()
	}
}

func (m *Metrics) setPoolSize(n int) {
	if m.prom != nil {
		m.prom.poolSize.WithLabelValues(m.chain).Set(float64(n))
	}
}

// Snapshot returns the current counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Chain:      m.chain,
		WSS:        m.wss.snapshot(),
		HTTP:       m.http.snapshot(),
		Reconnects: m.reconnects.Load(),
	}
}
