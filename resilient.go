package tiercache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/tiercache/retrier"
)

// Operation kinds the resilient layer maintains breakers for.
const (
	opGet         = "get"
	opSet         = "set"
	opRemove      = "remove"
	opExists      = "exists"
	opClear       = "clear"
	opKeysByTag   = "keysByTag"
	opRemoveByTag = "removeByTag"
)

// ResilienceConfig tunes the circuit breakers and retry loop.
type ResilienceConfig struct {
	// FailureThreshold opens a breaker after this many consecutive
	// failures with no intervening success. Defaults to 5.
	FailureThreshold uint32
	// RecoveryTimeout is how long an open breaker waits before letting a
	// single probe call through. Defaults to 30s.
	RecoveryTimeout time.Duration
	// MaxRetryAttempts is the number of additional attempts after the
	// first failure. Defaults to 2.
	MaxRetryAttempts int
	// RetryDelay is the fixed wait between attempts. Defaults to 100ms.
	RetryDelay time.Duration

	Logger  Logger
	Metrics *Recorder
	// Label overrides the metrics label; defaults to CacheTypeResilient.
	Label string
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// ResilientService guards an inner service with one circuit breaker per
// operation kind and a bounded fixed-delay retry loop. An open breaker
// short-circuits calls to safe defaults (miss, false, empty) without
// touching the inner service; after the recovery timeout a single probe
// is let through and its outcome closes or reopens the breaker.
//
// This is the only layer that re-raises: when an allowed call exhausts
// its retry budget the caller gets an *OperationError wrapping the last
// cause. Context cancellation is never retried and propagates unchanged.
type ResilientService[V any] struct {
	inner   Service[V]
	retr    *retrier.Retrier
	log     Logger
	metrics *Recorder
	label   string
	tracer  trace.Tracer

	threshold uint32
	timeout   time.Duration

	mu       sync.RWMutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
}

var _ Service[int] = (*ResilientService[int])(nil)

func NewResilient[V any](inner Service[V], cfg ResilienceConfig) (*ResilientService[V], error) {
	if inner == nil {
		return nil, errConfig("resilient: inner service is required")
	}

	attempts := 1 + coalesce(cfg.MaxRetryAttempts, 2)
	delay := coalesce(cfg.RetryDelay, 100*time.Millisecond)

	r, err := retrier.New(attempts, delay, delay, retrier.Fixed)
	if err != nil {
		return nil, err
	}
	r = r.WithJitter(0)
	r.NoRetry = func(err error) bool {
		return errors.Is(err, ErrUnsupported) || errors.Is(err, ErrClosed)
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("tiercache")
	}

	return &ResilientService[V]{
		inner:     inner,
		retr:      r,
		log:       coalesce[Logger](cfg.Logger, NopLogger{}),
		metrics:   cfg.Metrics,
		label:     coalesce(cfg.Label, CacheTypeResilient),
		tracer:    tracer,
		threshold: coalesce(cfg.FailureThreshold, 5),
		timeout:   coalesce(cfg.RecoveryTimeout, 30*time.Second),
		breakers:  make(map[string]*gobreaker.TwoStepCircuitBreaker),
	}, nil
}

// breakerFor lazily creates the breaker for one operation kind. Each
// breaker guards its own state; there is no lock shared across kinds
// beyond the map itself. The two-step form is used so that outcomes
// which say nothing about dependency health can be left uncounted.
func (s *ResilientService[V]) breakerFor(op string) *gobreaker.TwoStepCircuitBreaker {
	s.mu.RLock()
	cb, ok := s.breakers[op]
	s.mu.RUnlock()
	if ok {
		return cb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok = s.breakers[op]; ok {
		return cb
	}

	threshold := s.threshold
	cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        op,
		MaxRequests: 1, // exactly one half-open probe
		Timeout:     s.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn("circuit breaker state change", Fields{
				"op": name, "from": from.String(), "to": to.String(),
			})
		},
	})
	s.breakers[op] = cb
	return cb
}

// execute runs fn behind the operation's breaker and the retry loop.
// short reports that the breaker rejected the call outright; the caller
// must substitute a safe default. Cancellation and unsupported-operation
// signals pass through as neither success nor failure: neither says
// anything about the health of the dependency, so they must not trip the
// breaker and must not reset a failure streak either.
func (s *ResilientService[V]) execute(ctx context.Context, op string, fn func() error) (short bool, err error) {
	cb := s.breakerFor(op)

	done, allowErr := cb.Allow()
	if allowErr != nil {
		s.log.Debug("circuit open, short-circuiting", Fields{"op": op})
		return true, nil
	}

	runErr := s.retr.Run(ctx, fn)
	if runErr == nil {
		done(true)
		return false, nil
	}

	if s.notAFailure(runErr) {
		// leave the outcome uncounted, except that a half-open probe slot
		// must be released or the breaker would jam; reopening is the
		// conservative release
		if cb.State() == gobreaker.StateHalfOpen {
			done(false)
		}
		return false, runErr
	}

	done(false)
	if s.metrics != nil {
		s.metrics.Error(s.label)
	}
	return false, &OperationError{Op: op, Attempts: s.retr.MaxAttempts(), Err: runErr}
}

func (s *ResilientService[V]) notAFailure(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrUnsupported)
}

func (s *ResilientService[V]) Get(ctx context.Context, key string) (V, bool, error) {
	ctx, span := s.tracer.Start(ctx, "cache.Get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	var (
		v  V
		ok bool
	)
	short, err := s.execute(ctx, opGet, func() error {
		var e error
		v, ok, e = s.inner.Get(ctx, key)
		return e
	})
	if short || err != nil {
		var zero V
		return zero, false, err
	}
	return v, ok, nil
}

func (s *ResilientService[V]) Set(ctx context.Context, key string, value V, policy Policy) error {
	ctx, span := s.tracer.Start(ctx, "cache.Set", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	_, err := s.execute(ctx, opSet, func() error {
		return s.inner.Set(ctx, key, value, policy)
	})
	return err
}

func (s *ResilientService[V]) Remove(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "cache.Remove", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	_, err := s.execute(ctx, opRemove, func() error {
		return s.inner.Remove(ctx, key)
	})
	return err
}

func (s *ResilientService[V]) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "cache.Exists", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	var ok bool
	short, err := s.execute(ctx, opExists, func() error {
		var e error
		ok, e = s.inner.Exists(ctx, key)
		return e
	})
	if short || err != nil {
		return false, err
	}
	return ok, nil
}

func (s *ResilientService[V]) Clear(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "cache.Clear")
	defer span.End()

	_, err := s.execute(ctx, opClear, func() error {
		return s.inner.Clear(ctx)
	})
	return err
}

func (s *ResilientService[V]) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "cache.KeysByTag", trace.WithAttributes(attribute.String("cache.tag", tag)))
	defer span.End()

	var keys []string
	short, err := s.execute(ctx, opKeysByTag, func() error {
		var e error
		keys, e = s.inner.KeysByTag(ctx, tag)
		return e
	})
	if short || err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *ResilientService[V]) RemoveByTag(ctx context.Context, tag string) error {
	ctx, span := s.tracer.Start(ctx, "cache.RemoveByTag", trace.WithAttributes(attribute.String("cache.tag", tag)))
	defer span.End()

	_, err := s.execute(ctx, opRemoveByTag, func() error {
		return s.inner.RemoveByTag(ctx, tag)
	})
	return err
}

// BreakerStates reports each operation breaker's current state, for
// health surfaces and tests. Operations never called are absent.
func (s *ResilientService[V]) BreakerStates() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.breakers))
	for op, cb := range s.breakers {
		out[op] = cb.State().String()
	}
	return out
}
