package tiercache

import (
	"context"
	"errors"
)

// CompositeConfig configures a composite (layered) cache service.
type CompositeConfig struct {
	Logger  Logger
	Metrics *Recorder
	// Label overrides the metrics label; defaults to CacheTypeComposite.
	Label string
}

// CompositeService orders cache layers fastest-first. Reads return the
// first hit; writes and removals fan out to every layer. A failing layer
// is logged and skipped, never fatal: partial success is the designed
// behavior, and callers must treat the stack as eventually consistent.
//
// There is no backfill of earlier layers after a deeper hit; promotion is
// a separate concern this decorator does not take on.
type CompositeService[V any] struct {
	layers  []Service[V]
	log     Logger
	metrics *Recorder
	label   string
}

var _ Service[string] = (*CompositeService[string])(nil)

func NewComposite[V any](layers []Service[V], cfg CompositeConfig) (*CompositeService[V], error) {
	if len(layers) == 0 {
		return nil, errConfig("composite: at least one layer is required")
	}
	return &CompositeService[V]{
		layers:  layers,
		log:     coalesce[Logger](cfg.Logger, NopLogger{}),
		metrics: cfg.Metrics,
		label:   coalesce(cfg.Label, CacheTypeComposite),
	}, nil
}

func (s *CompositeService[V]) Get(ctx context.Context, key string) (V, bool, error) {
	for i, layer := range s.layers {
		v, ok, err := layer.Get(ctx, key)
		if err != nil {
			s.log.Warn("cache layer read failed, trying next", Fields{"layer": i, "key": key, "err": err})
			if s.metrics != nil {
				s.metrics.Error(s.label)
			}
			continue
		}
		if ok {
			if s.metrics != nil {
				s.metrics.Hit(s.label)
			}
			return v, true, nil
		}
	}

	if s.metrics != nil {
		s.metrics.Miss(s.label)
	}
	var zero V
	return zero, false, nil
}

func (s *CompositeService[V]) Set(ctx context.Context, key string, value V, policy Policy) error {
	for i, layer := range s.layers {
		if err := layer.Set(ctx, key, value, policy); err != nil {
			s.log.Warn("cache layer write failed", Fields{"layer": i, "key": key, "err": err})
			if s.metrics != nil {
				s.metrics.Error(s.label)
			}
		}
	}
	if s.metrics != nil {
		s.metrics.Set(s.label)
	}
	return nil
}

func (s *CompositeService[V]) Remove(ctx context.Context, key string) error {
	for i, layer := range s.layers {
		if err := layer.Remove(ctx, key); err != nil {
			s.log.Warn("cache layer remove failed", Fields{"layer": i, "key": key, "err": err})
		}
	}
	if s.metrics != nil {
		s.metrics.Remove(s.label)
	}
	return nil
}

func (s *CompositeService[V]) Exists(ctx context.Context, key string) (bool, error) {
	for i, layer := range s.layers {
		ok, err := layer.Exists(ctx, key)
		if err != nil {
			s.log.Warn("cache layer exists failed", Fields{"layer": i, "key": key, "err": err})
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Clear broadcasts to all layers. Layers without a bulk-clear primitive
// are skipped; if no layer supports it at all, that is reported rather
// than masked as success.
func (s *CompositeService[V]) Clear(ctx context.Context) error {
	cleared := false
	sawUnsupported := false
	for i, layer := range s.layers {
		err := layer.Clear(ctx)
		switch {
		case err == nil:
			cleared = true
		case errors.Is(err, ErrUnsupported):
			sawUnsupported = true
			s.log.Debug("cache layer does not support clear", Fields{"layer": i})
		default:
			s.log.Warn("cache layer clear failed", Fields{"layer": i, "err": err})
		}
	}
	if !cleared && sawUnsupported {
		return unsupported(s.label, "clear")
	}
	return nil
}

// KeysByTag unions tag lookups across layers, deduplicating by key.
func (s *CompositeService[V]) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for i, layer := range s.layers {
		keys, err := layer.KeysByTag(ctx, tag)
		if err != nil {
			if errors.Is(err, ErrUnsupported) {
				s.log.Debug("cache layer does not support tag lookup", Fields{"layer": i})
			} else {
				s.log.Warn("cache layer tag lookup failed", Fields{"layer": i, "tag": tag, "err": err})
			}
			continue
		}
		for _, k := range keys {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	return out, nil
}

func (s *CompositeService[V]) RemoveByTag(ctx context.Context, tag string) error {
	for i, layer := range s.layers {
		if err := layer.RemoveByTag(ctx, tag); err != nil {
			if errors.Is(err, ErrUnsupported) {
				s.log.Debug("cache layer does not support tag removal", Fields{"layer": i})
			} else {
				s.log.Warn("cache layer tag removal failed", Fields{"layer": i, "tag": tag, "err": err})
			}
		}
	}
	return nil
}
