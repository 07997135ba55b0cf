package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
)

// Policy configures retry behavior
type Policy struct {
	MaxAttempts  int           // Total attempts including the first
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound for any single delay, zero means none
	Multiplier   float64       // Growth factor between delays
}

// BalancePolicy is used for per-asset balance reads and explorer lookups.
// Pattern: 500ms, 1s
func BalancePolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2}
}

// PricePolicy is used for the batched price request
func PricePolicy() Policy {
	return Policy{MaxAttempts: 2, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
}

// ReconnectPolicy is used by the health monitor. The exponent stops growing
// after ten doublings.
func ReconnectPolicy(attempts int, base time.Duration) Policy {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Second
	}
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: base,
		MaxDelay:     base << 10,
		Multiplier:   2,
	}
}

// Delay returns the wait before the given attempt (1-based counting of
// retries): InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}

	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
}

// Err returns nil on success, otherwise the last error annotated with the
// attempt count.
func (r *Result) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", r.Attempts, r.LastError)
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Do stops immediately instead of retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, the attempts run out, fn returns a Permanent
// error or ctx is done. Sleeps happen between attempts, never after the last.
func Do(ctx context.Context, p Policy, fn Func) *Result {
	logger := logging.FromContext(ctx)
	start := time.Now()
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := &Result{}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration.String(),
				}).Debug("operation succeeded after retry")
			}
			return result
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			result.LastError = perm.err
			break
		}
		result.LastError = err

		if attempt == maxAttempts {
			break
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := p.Delay(attempt)
		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": maxAttempts,
			"delay":       delay.String(),
			"error":       err.Error(),
		}).Debug("operation failed, backing off")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// Value runs fn under p and returns its value on success
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var out T
	res := Do(ctx, p, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err := res.Err(); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
