// Package ristretto adapts dgraph-io/ristretto to the store.Local
// contract used by the local cache tier.
package ristretto

import (
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiercache/store"
)

// item wraps stored values so the eviction callback can recover the
// original string key; ristretto itself only keeps the key hash.
type item struct {
	key   string
	value any
}

type Ristretto struct {
	c *rc.Cache
}

var _ store.Local = (*Ristretto)(nil)

type Config struct {
	// MaxCost bounds the cache in cost units; entries weigh 1..8 units
	// depending on priority. 0 picks a default of 1<<20.
	MaxCost int64
	// NumCounters sizes the admission sketch. 0 picks 10x MaxCost.
	NumCounters int64
	// OnEvict observes evictions. Runs on ristretto's internal goroutine;
	// must not block.
	OnEvict store.EvictFunc
}

// Priority is approximated through eviction cost: a Critical entry weighs
// the least, so under pressure ristretto sheds Low entries roughly eight
// times sooner. Ristretto cannot pin entries outright.
func costOf(pri store.Priority) int64 {
	switch pri {
	case store.PriorityCritical:
		return 1
	case store.PriorityHigh:
		return 2
	case store.PriorityNormal:
		return 4
	default:
		return 8
	}
}

func New(cfg Config) (*Ristretto, error) {
	maxCost := cfg.MaxCost
	if maxCost <= 0 {
		maxCost = 1 << 20
	}
	numCounters := cfg.NumCounters
	if numCounters <= 0 {
		numCounters = maxCost * 10
	}

	rcfg := &rc.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	}
	if cfg.OnEvict != nil {
		onEvict := cfg.OnEvict
		rcfg.OnEvict = func(it *rc.Item) {
			if wrapped, ok := it.Value.(*item); ok {
				onEvict(wrapped.key, wrapped.value)
			}
		}
	}

	c, err := rc.NewCache(rcfg)
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c}, nil
}

func (s *Ristretto) Get(key string) (any, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false
	}
	wrapped, ok := v.(*item)
	if !ok {
		// unexpected shape; drop it
		s.c.Del(key)
		return nil, false
	}
	return wrapped.value, true
}

func (s *Ristretto) Set(key string, value any, ttl time.Duration, pri store.Priority) bool {
	it := &item{key: key, value: value}
	if ttl > 0 {
		return s.c.SetWithTTL(key, it, costOf(pri), ttl)
	}
	return s.c.Set(key, it, costOf(pri))
}

func (s *Ristretto) Del(key string) {
	s.c.Del(key)
}

func (s *Ristretto) Clear() error {
	s.c.Clear()
	return nil
}

func (s *Ristretto) Close() {
	s.c.Wait()
	s.c.Close()
}

// Wait blocks until pending writes are visible. Ristretto applies Sets
// asynchronously; callers that need read-your-write (tests, warmup) call
// this after Set.
func (s *Ristretto) Wait() {
	s.c.Wait()
}
