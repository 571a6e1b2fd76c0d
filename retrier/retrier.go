// Package retrier runs operations with bounded, cancellable retries.
//
// Unlike an opt-in "temporary error" model, retries here are the default:
// every failure is retried unless the NoRetry predicate marks it fatal.
// Cache backends mostly fail transiently, and the fatal set (context
// cancellation, unsupported operations) is small and known.
package retrier

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Strategy selects how the delay between attempts grows.
type Strategy int

const (
	// Fixed waits the same base delay between every attempt.
	Fixed Strategy = iota
	// Exponential multiplies the base delay by factor after each attempt.
	Exponential
	// Linear grows the delay by one base-delay step per attempt.
	Linear
)

var (
	ErrInvalidAttempts = errors.New("retrier: max attempts must be at least 1")
	ErrInvalidDelay    = errors.New("retrier: base delay must be positive")
)

// Retrier executes functions with retry and backoff. Safe for concurrent
// use; all fields are fixed after construction.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	factor      float64
	jitter      float64
	strategy    Strategy

	// NoRetry marks errors that must propagate immediately. Context
	// cancellation is always fatal regardless of this predicate.
	NoRetry func(error) bool
}

// New builds a Retrier. maxAttempts counts every attempt including the
// first. factor below 1 defaults to 2; jitter is clamped to [0, 1].
func New(maxAttempts int, baseDelay, maxDelay time.Duration, strategy Strategy) (*Retrier, error) {
	if maxAttempts < 1 {
		return nil, ErrInvalidAttempts
	}
	if baseDelay <= 0 {
		return nil, ErrInvalidDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		factor:      2,
		jitter:      0.1,
		strategy:    strategy,
	}, nil
}

// WithJitter returns a copy with the jitter fraction set (0 disables it).
func (r *Retrier) WithJitter(j float64) *Retrier {
	cp := *r
	cp.jitter = math.Min(math.Max(j, 0), 1)
	return &cp
}

// MaxAttempts reports the configured attempt budget.
func (r *Retrier) MaxAttempts() int { return r.maxAttempts }

// Run executes fn until it succeeds, a fatal error occurs, the context is
// done, or the attempt budget is spent. On exhaustion the last error is
// returned unchanged so callers can wrap it with their own context.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if r.fatal(err) {
			return err
		}
		if attempt == r.maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}
	return err
}

func (r *Retrier) fatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return r.NoRetry != nil && r.NoRetry(err)
}

func (r *Retrier) delay(attempt int) time.Duration {
	var d float64
	switch r.strategy {
	case Exponential:
		d = float64(r.baseDelay) * math.Pow(r.factor, float64(attempt))
	case Linear:
		d = float64(r.baseDelay) * float64(attempt+1)
	default:
		d = float64(r.baseDelay)
	}
	if d > float64(r.maxDelay) {
		d = float64(r.maxDelay)
	}
	if r.jitter > 0 {
		d += rand.Float64() * r.jitter * d
	}
	return time.Duration(d)
}
