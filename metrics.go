package tiercache

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Cache-type labels the built-in tiers report under.
const (
	CacheTypeLocal       = "local"
	CacheTypeRemote      = "remote"
	CacheTypeComposite   = "composite"
	CacheTypePartitioned = "partitioned"
	CacheTypeSecure      = "secure"
	CacheTypeVersioned   = "versioned"
	CacheTypeResilient   = "resilient"
)

// Metrics is a point-in-time snapshot of one cache type's counters.
// HitRate is hits/(hits+misses), 0 when nothing has been read yet.
type Metrics struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Removes int64
	Errors  int64

	HitRate float64

	LastHit    time.Time
	LastMiss   time.Time
	LastSet    time.Time
	LastRemove time.Time
	LastError  time.Time
}

type counters struct {
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	removes atomic.Int64
	errs    atomic.Int64

	lastHit    atomic.Time
	lastMiss   atomic.Time
	lastSet    atomic.Time
	lastRemove atomic.Time
	lastErr    atomic.Time
}

func (c *counters) snapshot() Metrics {
	m := Metrics{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Sets:       c.sets.Load(),
		Removes:    c.removes.Load(),
		Errors:     c.errs.Load(),
		LastHit:    c.lastHit.Load(),
		LastMiss:   c.lastMiss.Load(),
		LastSet:    c.lastSet.Load(),
		LastRemove: c.lastRemove.Load(),
		LastError:  c.lastErr.Load(),
	}
	if reads := m.Hits + m.Misses; reads > 0 {
		m.HitRate = float64(m.Hits) / float64(reads)
	}
	return m
}

// Recorder tracks hit/miss/set/remove/error counts per cache-type label.
// All methods are safe for concurrent use; counters live for the process
// lifetime and only Reset clears them.
type Recorder struct {
	mu     sync.RWMutex
	byType map[string]*counters
}

func NewRecorder() *Recorder {
	return &Recorder{byType: make(map[string]*counters)}
}

func (r *Recorder) of(cacheType string) *counters {
	r.mu.RLock()
	c, ok := r.byType[cacheType]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.byType[cacheType]; ok {
		return c
	}
	c = &counters{}
	r.byType[cacheType] = c
	return c
}

func (r *Recorder) Hit(cacheType string) {
	c := r.of(cacheType)
	c.hits.Inc()
	c.lastHit.Store(time.Now())
}

func (r *Recorder) Miss(cacheType string) {
	c := r.of(cacheType)
	c.misses.Inc()
	c.lastMiss.Store(time.Now())
}

func (r *Recorder) Set(cacheType string) {
	c := r.of(cacheType)
	c.sets.Inc()
	c.lastSet.Store(time.Now())
}

func (r *Recorder) Remove(cacheType string) {
	c := r.of(cacheType)
	c.removes.Inc()
	c.lastRemove.Store(time.Now())
}

func (r *Recorder) Error(cacheType string) {
	c := r.of(cacheType)
	c.errs.Inc()
	c.lastErr.Store(time.Now())
}

// Snapshot returns the counters for one cache type. Unknown labels return
// a zero snapshot.
func (r *Recorder) Snapshot(cacheType string) Metrics {
	r.mu.RLock()
	c, ok := r.byType[cacheType]
	r.mu.RUnlock()
	if !ok {
		return Metrics{}
	}
	return c.snapshot()
}

// SnapshotAll returns snapshots for every label seen so far.
func (r *Recorder) SnapshotAll() map[string]Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Metrics, len(r.byType))
	for label, c := range r.byType {
		out[label] = c.snapshot()
	}
	return out
}

// Reset clears one label's counters. The label survives with zero counts.
func (r *Recorder) Reset(cacheType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byType[cacheType]; ok {
		r.byType[cacheType] = &counters{}
	}
}
