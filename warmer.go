package tiercache

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/tiercache/retrier"
)

// TagWarm marks entries written by the warmer.
const TagWarm = "warm"

// Loader produces the authoritative data a warm pass writes through the
// pipeline, keyed by cache key. It may be slow; each pass runs it under
// the configured timeout.
type Loader[V any] func(ctx context.Context) (map[string]V, error)

// WarmerConfig tunes the background warming schedule.
type WarmerConfig struct {
	// Interval between warm passes. Defaults to 5m.
	Interval time.Duration
	// InitialDelay before the first repeat; the very first pass runs
	// immediately on Start. Defaults to Interval.
	InitialDelay time.Duration
	// PassTimeout bounds one warm pass. Defaults to 30s.
	PassTimeout time.Duration

	// Policy is the write template. Nil gets warm defaults: absolute TTL
	// of twice the interval, Critical priority, TagWarm.
	Policy *Policy

	// RetryAttempts bounds WarmWithRetry, first attempt included.
	// Defaults to 3.
	RetryAttempts int
	// RetryBaseDelay seeds the exponential backoff. Defaults to 200ms.
	RetryBaseDelay time.Duration

	Logger Logger
}

// Warmer proactively populates well-known keys through the assembled
// pipeline on a fixed schedule. Start it once at process startup and Stop
// it at shutdown; it does not rely on finalizers.
type Warmer[V any] struct {
	cache  Service[V]
	load   Loader[V]
	policy Policy
	log    Logger

	interval     time.Duration
	initialDelay time.Duration
	passTimeout  time.Duration
	retr         *retrier.Retrier

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewWarmer[V any](cache Service[V], load Loader[V], cfg WarmerConfig) (*Warmer[V], error) {
	if cache == nil {
		return nil, errConfig("warmer: cache is required")
	}
	if load == nil {
		return nil, errConfig("warmer: loader is required")
	}

	interval := coalesce(cfg.Interval, 5*time.Minute)

	var policy Policy
	if cfg.Policy != nil {
		policy = *cfg.Policy
	} else {
		policy = Policy{
			AbsoluteTTL: 2 * interval,
			Priority:    PriorityCritical,
			Format:      FormatJSON,
		}
	}
	policy = policy.WithTags(TagWarm)

	r, err := retrier.New(
		coalesce(cfg.RetryAttempts, 3),
		coalesce(cfg.RetryBaseDelay, 200*time.Millisecond),
		30*time.Second,
		retrier.Exponential,
	)
	if err != nil {
		return nil, err
	}

	return &Warmer[V]{
		cache:        cache,
		load:         load,
		policy:       policy,
		log:          coalesce[Logger](cfg.Logger, NopLogger{}),
		interval:     interval,
		initialDelay: coalesce(cfg.InitialDelay, interval),
		passTimeout:  coalesce(cfg.PassTimeout, 30*time.Second),
		retr:         r,
		stopCh:       make(chan struct{}),
	}, nil
}

// Start runs one immediate warm pass, then repeats after InitialDelay and
// every Interval thereafter until Stop is called or ctx is cancelled.
// Subsequent Start calls are no-ops.
func (w *Warmer[V]) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		if err := w.Warm(ctx); err != nil {
			w.log.Warn("initial warm pass failed", Fields{"err": err})
		}

		w.wg.Add(1)
		go w.run(ctx)
	})
}

func (w *Warmer[V]) run(ctx context.Context) {
	defer w.wg.Done()

	delay := time.NewTimer(w.initialDelay)
	defer delay.Stop()

	select {
	case <-delay.C:
	case <-w.stopCh:
		return
	case <-ctx.Done():
		return
	}

	w.pass(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.pass(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Warmer[V]) pass(ctx context.Context) {
	if err := w.Warm(ctx); err != nil {
		w.log.Warn("warm pass failed", Fields{"err": err})
	}
}

// Stop halts the schedule and waits for an in-flight pass to finish.
func (w *Warmer[V]) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
	})
}

// Warm executes a single pass: load authoritative data and write every
// entry through the pipeline. Per-key write failures are logged; the last
// one is returned so schedulers and retriers can see the pass failed.
func (w *Warmer[V]) Warm(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.passTimeout)
	defer cancel()

	data, err := w.load(ctx)
	if err != nil {
		return err
	}

	var lastErr error
	for key, value := range data {
		if err := w.cache.Set(ctx, key, value, w.policy); err != nil {
			w.log.Warn("warm write failed", Fields{"key": key, "err": err})
			lastErr = err
		}
	}

	w.log.Debug("warm pass complete", Fields{"entries": len(data)})
	return lastErr
}

// WarmWithRetry runs Warm with exponential backoff and re-raises the last
// error once attempts are exhausted.
func (w *Warmer[V]) WarmWithRetry(ctx context.Context) error {
	return w.retr.Run(ctx, func() error {
		return w.Warm(ctx)
	})
}

// WarmCategory warms the subset of loader output accepted by keep,
// writing each entry under a category-scoped key.
func (w *Warmer[V]) WarmCategory(ctx context.Context, category string, keep func(key string, value V) bool) error {
	ctx, cancel := context.WithTimeout(ctx, w.passTimeout)
	defer cancel()

	data, err := w.load(ctx)
	if err != nil {
		return err
	}

	policy := w.policy.WithTags("category:" + category)

	var lastErr error
	warmed := 0
	for key, value := range data {
		if keep != nil && !keep(key, value) {
			continue
		}
		if err := w.cache.Set(ctx, category+":"+key, value, policy); err != nil {
			w.log.Warn("category warm write failed", Fields{"category": category, "key": key, "err": err})
			lastErr = err
			continue
		}
		warmed++
	}

	w.log.Debug("category warm complete", Fields{"category": category, "entries": warmed})
	return lastErr
}
