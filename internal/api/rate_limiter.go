package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/portfolio-aggregator/internal/errors"
)

const (
	// limiters idle this long are dropped on the next sweep
	limiterIdleTTL = 10 * time.Minute
	// a sweep runs once the table grows past this many clients
	limiterSweepSize = 4096
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-client token buckets for API requests
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex

	limit     rate.Limit
	burstSize int
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter. A non-positive rps disables
// limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters:  make(map[string]*clientLimiter),
		limit:     limit,
		burstSize: burst,
		now:       time.Now,
	}
}

// getLimiter returns the bucket for a client, creating it on first use
func (rl *RateLimiter) getLimiter(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if cl, exists := rl.limiters[clientID]; exists {
		cl.lastSeen = now
		return cl.limiter
	}

	if len(rl.limiters) >= limiterSweepSize {
		rl.sweepLocked(now)
	}

	cl := &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burstSize), lastSeen: now}
	rl.limiters[clientID] = cl
	return cl.limiter
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for id, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, id)
		}
	}
}

// Len reports how many clients are tracked
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// clientID identifies the caller by the first X-Forwarded-For hop or the
// remote IP without its port.
func clientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware creates a middleware that enforces rate limiting.
// Health checks are never limited.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			limiter := rl.getLimiter(clientID(r))
			if !limiter.Allow() {
				retryAfter := 1
				if l := float64(limiter.Limit()); l > 0 && l < 1 {
					retryAfter = int(math.Ceil(1 / l))
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				respondServiceError(w, r, apperrors.NewRateLimitError(retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
