package tiercache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/store"
)

// ==============================
// Test fakes
// ==============================

type memVal struct {
	b   []byte
	exp time.Time // zero => no TTL
}

// memStore is a deterministic in-memory store.Store.
type memStore struct {
	mu       sync.Mutex
	m        map[string]memVal
	getCalls int
	failGet  error
	failSet  error
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore { return &memStore{m: make(map[string]memVal)} }

func (p *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	if p.failGet != nil {
		return nil, false, p.failGet
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.b, true, nil
}

func (p *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSet != nil {
		return p.failSet
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memVal{b: value, exp: exp}
	return nil
}

func (p *memStore) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func (p *memStore) Close(context.Context) error { return nil }

func (p *memStore) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.m))
	for k := range p.m {
		out = append(out, k)
	}
	return out
}

func (p *memStore) raw(key string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	return e.b, ok
}

func (p *memStore) put(key string, b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = memVal{b: b}
}

type localVal struct {
	v   any
	exp time.Time
}

// memLocal is a deterministic in-memory store.Local. Unlike ristretto it
// applies writes synchronously, which keeps tier tests exact.
type memLocal struct {
	mu        sync.Mutex
	m         map[string]localVal
	pris      map[string]store.Priority
	noClear   bool
	rejectSet bool
}

var _ store.Local = (*memLocal)(nil)

func newMemLocal() *memLocal {
	return &memLocal{
		m:    make(map[string]localVal),
		pris: make(map[string]store.Priority),
	}
}

func (p *memLocal) Get(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false
	}
	return e.v, true
}

func (p *memLocal) Set(key string, value any, ttl time.Duration, pri store.Priority) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejectSet {
		return false
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = localVal{v: value, exp: exp}
	p.pris[key] = pri
	return true
}

func (p *memLocal) Del(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
}

func (p *memLocal) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.noClear {
		return store.ErrNoBulkClear
	}
	p.m = make(map[string]localVal)
	return nil
}

func (p *memLocal) Close() {}

func (p *memLocal) lastPri(key string) store.Priority {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pris[key]
}

func (p *memLocal) stored(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	return e.v, ok
}

func (p *memLocal) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// stubCache is a map-backed Service fake that records the policy of each
// write and can be forced to fail every operation.
type stubCache[V any] struct {
	mu       sync.Mutex
	data     map[string]V
	policies map[string]Policy
	gets     int
	sets     int
	failWith error
}

var _ Service[string] = (*stubCache[string])(nil)

func newStubCache[V any]() *stubCache[V] {
	return &stubCache[V]{
		data:     make(map[string]V),
		policies: make(map[string]Policy),
	}
}

func (c *stubCache[V]) Get(_ context.Context, key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	var zero V
	if c.failWith != nil {
		return zero, false, c.failWith
	}
	v, ok := c.data[key]
	if !ok {
		return zero, false, nil
	}
	return v, true, nil
}

func (c *stubCache[V]) Set(_ context.Context, key string, value V, policy Policy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.failWith != nil {
		return c.failWith
	}
	c.data[key] = value
	c.policies[key] = policy
	return nil
}

func (c *stubCache[V]) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	delete(c.data, key)
	delete(c.policies, key)
	return nil
}

func (c *stubCache[V]) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return false, c.failWith
	}
	_, ok := c.data[key]
	return ok, nil
}

func (c *stubCache[V]) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.data = make(map[string]V)
	c.policies = make(map[string]Policy)
	return nil
}

func (c *stubCache[V]) KeysByTag(_ context.Context, tag string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return nil, c.failWith
	}
	var out []string
	for k, p := range c.policies {
		for _, t := range p.Tags {
			if t == tag {
				out = append(out, k)
				break
			}
		}
	}
	return out, nil
}

func (c *stubCache[V]) RemoveByTag(ctx context.Context, tag string) error {
	keys, err := c.KeysByTag(ctx, tag)
	if err != nil {
		return err
	}
	for _, k := range keys {
		_ = c.Remove(ctx, k)
	}
	return nil
}

func (c *stubCache[V]) getCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

func (c *stubCache[V]) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func (c *stubCache[V]) setFail(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

func (c *stubCache[V]) put(key string, v V) {
	c.mu.Lock()
	c.data[key] = v
	c.mu.Unlock()
}

func (c *stubCache[V]) policyOf(key string) (Policy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.policies[key]
	return p, ok
}

type user struct {
	ID   string `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

// ==============================
// Pipeline tests
// ==============================

func newTestPipeline(t *testing.T, mutate func(*Config)) (*Pipeline[user], *memStore) {
	t.Helper()
	ms := newMemStore()
	cfg := Config{
		RemoteStore:  ms,
		DisableLocal: true,
		Resilience: ResilienceConfig{
			RetryDelay: time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New[user](cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, ms
}

func TestPipelineRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, func(c *Config) { c.Partitions = 4 })
	defer p.Close(ctx)

	k := "user:1"
	v := user{ID: "1", Name: "Ada"}

	if got, ok, err := p.Get(ctx, k); err != nil || ok {
		t.Fatalf("Get miss expected, got ok=%v err=%v val=%v", ok, err, got)
	}

	if err := p.Set(ctx, k, v, DefaultPolicy()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := p.Get(ctx, k)
	if err != nil || !ok || got != v {
		t.Fatalf("Get after set: ok=%v err=%v got=%v", ok, err, got)
	}

	exists, err := p.Exists(ctx, k)
	if err != nil || !exists {
		t.Fatalf("Exists: ok=%v err=%v", exists, err)
	}

	if err := p.Remove(ctx, k); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, err := p.Get(ctx, k); err != nil || ok {
		t.Fatalf("Get after remove: ok=%v err=%v", ok, err)
	}
}

func TestPipelineEncryptedHidesPlaintext(t *testing.T) {
	ctx := context.Background()
	p, ms := newTestPipeline(t, func(c *Config) { c.Secret = "sesame" })
	defer p.Close(ctx)

	k := "user:secret"
	v := user{ID: "7", Name: "Grace"}

	if err := p.Set(ctx, k, v, DefaultPolicy()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := p.Get(ctx, k)
	if err != nil || !ok || got != v {
		t.Fatalf("Get: ok=%v err=%v got=%v", ok, err, got)
	}

	for _, sk := range ms.keys() {
		if sk == k {
			t.Fatalf("plaintext key %q leaked to remote store", k)
		}
	}
}

func TestPipelineNoTiersRejected(t *testing.T) {
	_, err := New[user](Config{DisableLocal: true})
	if err == nil {
		t.Fatal("expected configuration error when no tiers are enabled")
	}
}

func TestPipelineMetrics(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, nil)
	defer p.Close(ctx)

	if _, ok, err := p.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if err := p.Set(ctx, "k", user{ID: "1"}, DefaultPolicy()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, err := p.Get(ctx, "k"); err != nil || !ok {
		t.Fatalf("Get after set: ok=%v err=%v", ok, err)
	}

	m := p.MetricsFor(CacheTypeRemote)
	if m.Hits != 1 || m.Misses != 1 || m.Sets != 1 {
		t.Fatalf("remote metrics: %+v", m)
	}
	if m.HitRate != 0.5 {
		t.Fatalf("hit rate: got %v, want 0.5", m.HitRate)
	}

	all := p.Metrics()
	if _, ok := all[CacheTypeComposite]; !ok {
		t.Fatalf("expected composite label in %v", all)
	}
}

func TestPipelineHealth(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, nil)
	defer p.Close(ctx)

	report := p.Health(ctx, user{ID: "probe"})
	if !report.Healthy {
		t.Fatalf("unhealthy report: %+v", report)
	}
	if len(report.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(report.Steps))
	}
	for _, s := range report.Steps {
		if !s.OK {
			t.Fatalf("step %s failed: %s", s.Name, s.Err)
		}
	}
}

func TestPipelineWithLocalTier(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, func(c *Config) {
		c.DisableLocal = false
		c.LocalMaxCost = 1 << 12
		c.Partitions = 2
	})
	defer p.Close(ctx)

	v := user{ID: "2", Name: "Linus"}
	if err := p.Set(ctx, "user:2", v, DefaultPolicy()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// the local store applies writes asynchronously; the remote tier
	// answers either way
	got, ok, err := p.Get(ctx, "user:2")
	if err != nil || !ok || got != v {
		t.Fatalf("Get: ok=%v err=%v got=%v", ok, err, got)
	}
}

func TestPipelineBreakerStates(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPipeline(t, nil)
	defer p.Close(ctx)

	if _, _, err := p.Get(ctx, "k"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	states := p.BreakerStates()
	if got := states["get"]; got != "closed" {
		t.Fatalf("get breaker: got %q, want closed", got)
	}
}

func TestOperationErrorUnwrap(t *testing.T) {
	cause := errors.New("backend down")
	err := &OperationError{Op: "get", Attempts: 3, Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("OperationError must unwrap to its cause")
	}
	if err.Error() == "" {
		t.Fatal("empty error string")
	}
}
