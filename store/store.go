// Package store defines the storage abstractions behind the cache tiers.
//
// Two contracts exist. Store is a byte-oriented key/value store with TTLs,
// the shape of a shared backend such as Redis (BigCache satisfies it for
// embedded deployments). Local is a typed in-process store that holds Go
// values directly, supports an eviction priority hint and an eviction
// callback, and offers no key enumeration.
//
// Store implementations must be byte-for-byte transparent: Get returns
// exactly the []byte previously passed to Set for the same key, with no
// added metadata and no re-encoding. The tier above owns the value layout.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNoBulkClear is returned by Clear when the underlying store has no
// bulk-clear primitive. Callers must surface it, not treat it as success.
var ErrNoBulkClear = errors.New("store: bulk clear not supported")

// Store is a minimal byte store with per-entry TTLs. Implementations must
// be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	// IO and transport failures return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes key, best-effort.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Priority orders entries by how reluctantly the local store should evict
// them. It is advisory: a store may approximate it (e.g. by cost weight)
// when it cannot pin entries outright.
type Priority int8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	// PriorityCritical marks entries the store should evict last, ideally
	// never under normal pressure.
	PriorityCritical
)

// EvictFunc observes evictions of Local entries. It runs asynchronously
// relative to the mutating call and must not block.
type EvictFunc func(key string, value any)

// Local is a bounded in-process store holding typed values. It has no
// enumeration; tiers that need key tracking keep their own index.
type Local interface {
	// Get returns the stored value, or (nil, false) when absent.
	Get(key string) (any, bool)

	// Set stores value with the given TTL and eviction priority. ttl <= 0
	// means no expiry. Returns false when the store rejected the write.
	Set(key string, value any, ttl time.Duration, pri Priority) bool

	// Del removes key.
	Del(key string)

	// Clear drops all entries, or returns ErrNoBulkClear.
	Clear() error

	// Close releases resources.
	Close()
}
