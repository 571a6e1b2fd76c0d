package tiercache

import (
	"context"

	"go.uber.org/atomic"

	"github.com/unkn0wn-root/tiercache/store"
	rst "github.com/unkn0wn-root/tiercache/store/ristretto"
)

// Service is the uniform cache contract every tier and decorator in this
// package implements. Decorators hold the next inner Service and compose
// by construction, so stacks can be reordered and extended freely.
//
// A miss is (zero, false, nil), never an error. Operations a tier cannot
// perform return an error wrapping ErrUnsupported.
type Service[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, policy Policy) error
	Remove(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	KeysByTag(ctx context.Context, tag string) ([]string, error)
	RemoveByTag(ctx context.Context, tag string) error
}

// Config assembles the full pipeline:
//
//	local+remote -> composite -> partitioned -> [secure] -> versioned -> resilient
//
// Callers interact only with the outermost service. Only RemoteStore or
// the local tier must be present; everything else has defaults.
type Config struct {
	// Partitions shards the key space. Defaults to 1. Changing it remaps
	// every key; there is no migration path.
	Partitions int

	// RemoteStore backs the shared tier. Nil disables the remote tier.
	// The pipeline takes ownership and closes it on Close.
	RemoteStore store.Store

	// DisableLocal turns off the in-process tier.
	DisableLocal bool
	// LocalMaxCost bounds each partition's local store, in cost units.
	LocalMaxCost int64

	// BloomExpectedItems > 0 enables the remote tier's negative-lookup
	// filter. See RemoteConfig.
	BloomExpectedItems     uint
	BloomFalsePositiveRate float64

	// Secret enables the encrypting layer when non-empty.
	Secret string

	// SchemaVersion stamps written entries. Defaults to "1.0".
	SchemaVersion string

	// Resilience tunes the outermost breakers and retries. Logger and
	// Metrics inside it are ignored; the pipeline's own are used.
	Resilience ResilienceConfig

	Logger  Logger
	Metrics *Recorder
}

// Pipeline is the assembled cache stack. It embeds the outermost
// Service and adds the operational surface: metrics snapshots, breaker
// states, a synthetic health probe, and shutdown.
type Pipeline[V any] struct {
	Service[V]

	metrics   *Recorder
	resilient *ResilientService[V]
	closers   []func(context.Context) error
}

// New assembles a Pipeline per cfg. The decorator chain changes payload
// type as it descends: the tiers store Entry envelopes (or their
// encrypted string form when a Secret is set), while the caller-facing
// surface stays typed to V.
func New[V any](cfg Config) (*Pipeline[V], error) {
	if cfg.DisableLocal && cfg.RemoteStore == nil {
		return nil, errConfig("pipeline: no tiers configured")
	}

	log := coalesce[Logger](cfg.Logger, NopLogger{})
	rec := cfg.Metrics
	if rec == nil {
		rec = NewRecorder()
	}

	res := cfg.Resilience
	res.Logger = log
	res.Metrics = rec

	p := &Pipeline[V]{metrics: rec}

	var (
		versioned *VersionedService[V]
		err       error
	)
	if cfg.Secret != "" {
		inner, closers, serr := newShardedTiers[string](cfg, log, rec)
		if serr != nil {
			return nil, serr
		}
		p.closers = closers

		sec, serr := NewSecure[Entry[V]](inner, SecureConfig{
			Secret:  cfg.Secret,
			Logger:  log,
			Metrics: rec,
		})
		if serr != nil {
			return nil, serr
		}
		versioned, err = NewVersioned[V](sec, VersionedConfig{
			SchemaVersion: cfg.SchemaVersion,
			Logger:        log,
			Metrics:       rec,
		})
	} else {
		inner, closers, serr := newShardedTiers[Entry[V]](cfg, log, rec)
		if serr != nil {
			return nil, serr
		}
		p.closers = closers

		versioned, err = NewVersioned[V](inner, VersionedConfig{
			SchemaVersion: cfg.SchemaVersion,
			Logger:        log,
			Metrics:       rec,
		})
	}
	if err != nil {
		return nil, err
	}

	p.resilient, err = NewResilient[V](versioned, res)
	if err != nil {
		return nil, err
	}
	p.Service = p.resilient
	return p, nil
}

// Metrics returns snapshots for every cache-type label.
func (p *Pipeline[V]) Metrics() map[string]Metrics {
	return p.metrics.SnapshotAll()
}

// MetricsFor returns one label's snapshot.
func (p *Pipeline[V]) MetricsFor(cacheType string) Metrics {
	return p.metrics.Snapshot(cacheType)
}

// BreakerStates reports the resilient layer's per-operation breakers.
func (p *Pipeline[V]) BreakerStates() map[string]string {
	return p.resilient.BreakerStates()
}

// Health runs the synthetic set/get/remove probe through the full stack.
func (p *Pipeline[V]) Health(ctx context.Context, probe V) HealthReport {
	return CheckHealth[V](ctx, p, probe)
}

// Close releases every store the pipeline owns.
func (p *Pipeline[V]) Close(ctx context.Context) error {
	var firstErr error
	for _, c := range p.closers {
		if err := c(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// evictBinding lets a store's eviction callback reach the local service
// that is constructed after the store. Evictions run on the store's own
// goroutine, hence the atomic pointer.
type evictBinding[T any] struct {
	svc atomic.Pointer[LocalService[T]]
}

func (b *evictBinding[T]) fire(key string, value any) {
	if svc := b.svc.Load(); svc != nil {
		svc.HandleEviction(key, value)
	}
}

// newShardedTiers builds the tier stack below the crypto/version layers:
// one composite of (local, remote) per partition behind a partitioned
// router. Partitions get private local stores; the remote tier is shared
// since the backing store is one address space anyway.
func newShardedTiers[T any](cfg Config, log Logger, rec *Recorder) (Service[T], []func(context.Context) error, error) {
	n := cfg.Partitions
	if n < 1 {
		n = 1
	}

	var closers []func(context.Context) error

	var remote *RemoteService[T]
	if cfg.RemoteStore != nil {
		r, err := NewRemote[T](RemoteConfig{
			Store:                  cfg.RemoteStore,
			Logger:                 log,
			Metrics:                rec,
			BloomExpectedItems:     cfg.BloomExpectedItems,
			BloomFalsePositiveRate: cfg.BloomFalsePositiveRate,
		})
		if err != nil {
			return nil, nil, err
		}
		remote = r
		closers = append(closers, r.Close)
	}

	parts := make([]Service[T], n)
	for i := 0; i < n; i++ {
		var layers []Service[T]

		if !cfg.DisableLocal {
			binding := &evictBinding[T]{}
			lst, err := rst.New(rst.Config{
				MaxCost: cfg.LocalMaxCost,
				OnEvict: binding.fire,
			})
			if err != nil {
				return nil, nil, err
			}
			closers = append(closers, func(context.Context) error {
				lst.Close()
				return nil
			})

			lsvc, err := NewLocal[T](LocalConfig{
				Store:   lst,
				Logger:  log,
				Metrics: rec,
			})
			if err != nil {
				return nil, nil, err
			}
			binding.svc.Store(lsvc)
			layers = append(layers, lsvc)
		}

		if remote != nil {
			layers = append(layers, remote)
		}

		comp, err := NewComposite[T](layers, CompositeConfig{
			Logger:  log,
			Metrics: rec,
		})
		if err != nil {
			return nil, nil, err
		}
		parts[i] = comp
	}

	part, err := NewPartitioned[T](parts, PartitionedConfig{
		Logger:  log,
		Metrics: rec,
	})
	if err != nil {
		return nil, nil, err
	}
	return part, closers, nil
}
