package tiercache

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/tiercache/internal/util"
)

// PartitionedConfig configures a partitioned cache service.
type PartitionedConfig struct {
	Logger  Logger
	Metrics *Recorder
	// Label overrides the metrics label; defaults to CacheTypePartitioned.
	Label string
}

// PartitionedService shards the key space across a fixed set of inner
// services (typically one Composite per partition). A key maps to exactly
// one partition via a SHA-256-based index, deterministic for a fixed
// partition count. Changing the count remaps keys; there is no migration.
//
// Whole-cache operations fan out to every partition concurrently; a
// failing partition degrades the result instead of failing the call.
type PartitionedService[V any] struct {
	parts   []Service[V]
	log     Logger
	metrics *Recorder
	label   string
}

var _ Service[string] = (*PartitionedService[string])(nil)

func NewPartitioned[V any](partitions []Service[V], cfg PartitionedConfig) (*PartitionedService[V], error) {
	if len(partitions) == 0 {
		return nil, errConfig("partitioned: at least one partition is required")
	}
	return &PartitionedService[V]{
		parts:   partitions,
		log:     coalesce[Logger](cfg.Logger, NopLogger{}),
		metrics: cfg.Metrics,
		label:   coalesce(cfg.Label, CacheTypePartitioned),
	}, nil
}

// PartitionFor exposes the routing decision for a key, mostly for
// diagnostics and tests.
func (s *PartitionedService[V]) PartitionFor(key string) int {
	return util.PartitionIndex(key, len(s.parts))
}

func (s *PartitionedService[V]) route(key string) Service[V] {
	return s.parts[s.PartitionFor(key)]
}

func (s *PartitionedService[V]) Get(ctx context.Context, key string) (V, bool, error) {
	return s.route(key).Get(ctx, key)
}

func (s *PartitionedService[V]) Set(ctx context.Context, key string, value V, policy Policy) error {
	return s.route(key).Set(ctx, key, value, policy)
}

func (s *PartitionedService[V]) Remove(ctx context.Context, key string) error {
	return s.route(key).Remove(ctx, key)
}

func (s *PartitionedService[V]) Exists(ctx context.Context, key string) (bool, error) {
	return s.route(key).Exists(ctx, key)
}

// Clear fans out to all partitions. Partition failures are logged and the
// operation degrades; siblings are never cancelled.
func (s *PartitionedService[V]) Clear(ctx context.Context) error {
	s.fanOut(ctx, "clear", func(ctx context.Context, p Service[V]) error {
		return p.Clear(ctx)
	})
	return nil
}

func (s *PartitionedService[V]) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var out []string

	s.fanOut(ctx, "keysByTag", func(ctx context.Context, p Service[V]) error {
		keys, err := p.KeysByTag(ctx, tag)
		if err != nil {
			return err
		}
		mu.Lock()
		for _, k := range keys {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
		mu.Unlock()
		return nil
	})
	return out, nil
}

func (s *PartitionedService[V]) RemoveByTag(ctx context.Context, tag string) error {
	s.fanOut(ctx, "removeByTag", func(ctx context.Context, p Service[V]) error {
		return p.RemoveByTag(ctx, tag)
	})
	return nil
}

// fanOut runs fn against every partition concurrently and joins on all of
// them. Errors are contained per partition; one partition's failure never
// cancels its siblings, so fn errors are consumed here, not returned.
func (s *PartitionedService[V]) fanOut(ctx context.Context, op string, fn func(context.Context, Service[V]) error) {
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range s.parts {
		i, p := i, p
		g.Go(func() error {
			if err := fn(ctx, p); err != nil {
				if errors.Is(err, ErrUnsupported) {
					s.log.Debug("partition does not support operation", Fields{"partition": i, "op": op})
				} else {
					s.log.Warn("partition operation failed", Fields{"partition": i, "op": op, "err": err})
					if s.metrics != nil {
						s.metrics.Error(s.label)
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
