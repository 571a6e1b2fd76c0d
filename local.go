package tiercache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/tiercache/store"
)

// LocalConfig configures a local (in-process) cache tier.
type LocalConfig struct {
	// Store is the bounded in-process store backing the tier. Required.
	// Wire the store's eviction callback to (*LocalService).HandleEviction
	// to get eviction logging and index cleanup.
	Store store.Local

	Logger  Logger
	Metrics *Recorder
	// Label overrides the metrics label; defaults to CacheTypeLocal.
	Label string
}

// LocalService is the fast tier. It stores typed envelopes directly (no
// serialization) and keeps a tag index for bulk invalidation. Failures of
// the underlying store degrade to misses; this tier never propagates
// store trouble to callers.
type LocalService[V any] struct {
	st      store.Local
	idx     *tagIndex
	log     Logger
	metrics *Recorder
	label   string
}

var _ Service[string] = (*LocalService[string])(nil)

func NewLocal[V any](cfg LocalConfig) (*LocalService[V], error) {
	if cfg.Store == nil {
		return nil, errConfig("local: store is required")
	}
	return &LocalService[V]{
		st:      cfg.Store,
		idx:     newTagIndex(),
		log:     coalesce[Logger](cfg.Logger, NopLogger{}),
		metrics: cfg.Metrics,
		label:   coalesce(cfg.Label, CacheTypeLocal),
	}, nil
}

// HandleEviction is the store eviction callback. It runs on the store's
// eviction goroutine, asynchronously to the call that triggered it.
func (s *LocalService[V]) HandleEviction(key string, _ any) {
	s.idx.forget(key)
	s.log.Debug("local entry evicted", Fields{"key": key})
}

func (s *LocalService[V]) Get(_ context.Context, key string) (V, bool, error) {
	var zero V

	v, ok := s.st.Get(key)
	if !ok {
		s.miss()
		return zero, false, nil
	}

	entry, ok := v.(Entry[V])
	if !ok {
		// unexpected shape; count as an error but present a miss
		s.errored()
		s.st.Del(key)
		s.log.Warn("local entry has unexpected shape", Fields{"key": key})
		return zero, false, nil
	}

	if entry.Expired() {
		s.st.Del(key)
		s.idx.forget(key)
		s.miss()
		return zero, false, nil
	}

	if sliding := entry.slidingTTL(); sliding > 0 {
		// refresh the window on access; the re-stamped copy replaces the
		// stored one. The absolute bound, when the write set one, stays a
		// hard cap on the renewal.
		refreshed := entry
		expAt := time.Now().Add(sliding)
		if deadline := entry.hardDeadline(); !deadline.IsZero() && expAt.After(deadline) {
			expAt = deadline
		}
		refreshed.ExpiresAt = &expAt

		pri := store.PriorityNormal
		if p, ok := entry.priority(); ok {
			pri = p.store()
		}
		s.st.Set(key, refreshed, sliding, pri)
	}

	s.hit()
	return entry.Data, true, nil
}

func (s *LocalService[V]) Set(_ context.Context, key string, value V, policy Policy) error {
	entry := newEntry(value, policy)

	ttl := policy.TTL()
	if policy.SlidingTTL > 0 {
		ttl = policy.SlidingTTL
	}

	// index first: a concurrent RemoveByTag must be able to see this key
	// once the store write lands
	s.idx.add(key, policy.Tags)

	if !s.st.Set(key, entry, ttl, policy.Priority.store()) {
		s.errored()
		s.log.Warn("local store rejected write", Fields{"key": key})
		return nil
	}

	if s.metrics != nil {
		s.metrics.Set(s.label)
	}
	return nil
}

func (s *LocalService[V]) Remove(_ context.Context, key string) error {
	s.st.Del(key)
	s.idx.forget(key)
	if s.metrics != nil {
		s.metrics.Remove(s.label)
	}
	return nil
}

func (s *LocalService[V]) Exists(_ context.Context, key string) (bool, error) {
	v, ok := s.st.Get(key)
	if !ok {
		return false, nil
	}
	if entry, isEntry := v.(Entry[V]); isEntry && entry.Expired() {
		return false, nil
	}
	return true, nil
}

// Clear drops everything, or reports ErrUnsupported when the store has no
// bulk-clear primitive. Silent partial success is not an option here.
func (s *LocalService[V]) Clear(_ context.Context) error {
	if err := s.st.Clear(); err != nil {
		if err == store.ErrNoBulkClear {
			return unsupported(s.label, "clear")
		}
		s.errored()
		return err
	}
	s.idx.clear()
	return nil
}

func (s *LocalService[V]) KeysByTag(_ context.Context, tag string) ([]string, error) {
	return s.idx.keys(tag), nil
}

// RemoveByTag deletes every key currently indexed for the tag and drops
// the tag. Writes racing this call may re-introduce the tag afterwards.
func (s *LocalService[V]) RemoveByTag(_ context.Context, tag string) error {
	keys := s.idx.drop(tag)
	for _, k := range keys {
		s.st.Del(k)
		s.idx.forget(k)
		if s.metrics != nil {
			s.metrics.Remove(s.label)
		}
	}
	if len(keys) > 0 {
		s.log.Debug("removed entries by tag", Fields{"tag": tag, "count": len(keys)})
	}
	return nil
}

func (s *LocalService[V]) hit() {
	if s.metrics != nil {
		s.metrics.Hit(s.label)
	}
}

func (s *LocalService[V]) miss() {
	if s.metrics != nil {
		s.metrics.Miss(s.label)
	}
}

func (s *LocalService[V]) errored() {
	if s.metrics != nil {
		s.metrics.Error(s.label)
	}
}
