// Package tiercache implements a composable, multi-tier cache pipeline.
// Every tier and decorator satisfies the same Service contract, so stacks
// are assembled by construction:
//
//	local + remote -> composite -> partitioned -> [secure] -> versioned -> resilient
//
// Components:
//   - Local: in-process tier over a store.Local (Ristretto), with a tag
//     index and sliding-TTL renewal on read.
//   - Remote: shared tier over a store.Store (Redis, BigCache), framing
//     values in a self-describing envelope (format byte + optional gzip)
//     and deleting corrupt entries on read.
//   - Composite: first-hit-wins reads across tiers, fan-out writes.
//   - Partitioned: shards keys across composites by hashed key.
//   - Secure: AES-CTR encryption of keys and values.
//   - Versioned: schema stamping, compatibility checks, read-time migration.
//   - Resilient: per-operation circuit breakers and retries; degrades to
//     safe defaults when a breaker is open.
//
// Misses are always (zero, false, nil). Operations a tier cannot perform
// return an error wrapping ErrUnsupported.
//
// Typical use:
//
//	p, err := tiercache.New[User](tiercache.Config{
//		Partitions:  4,
//		RemoteStore: redisStore,
//		Secret:      secret,
//	})
//	...
//	err = p.Set(ctx, "user:42", u, tiercache.DefaultPolicy())
//	u, ok, err := p.Get(ctx, "user:42")
package tiercache
