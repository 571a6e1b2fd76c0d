package tiercache

import (
	"time"

	"github.com/unkn0wn-root/tiercache/store"
)

// Format identifies the serialization of a stored envelope. The numeric
// values are part of the stored-data contract (they appear in the wire
// header) and must not be reordered.
type Format byte

const (
	FormatJSON        Format = 0
	FormatMessagePack Format = 1
	FormatCBOR        Format = 2
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMessagePack:
		return "msgpack"
	case FormatCBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// Priority orders entries by how reluctantly a tier should evict them.
type Priority int8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) store() store.Priority {
	switch p {
	case PriorityCritical:
		return store.PriorityCritical
	case PriorityHigh:
		return store.PriorityHigh
	case PriorityLow:
		return store.PriorityLow
	default:
		return store.PriorityNormal
	}
}

// Policy describes how a single Set call should be stored. Callers build
// one per write; services treat it as read-only and use WithTags when they
// need to append markers, so a caller's Policy value is never mutated.
type Policy struct {
	// AbsoluteTTL expires the entry a fixed duration after the write.
	AbsoluteTTL time.Duration
	// SlidingTTL expires the entry after a period of no access. Tiers that
	// cannot track access approximate it as an absolute TTL.
	SlidingTTL time.Duration

	Priority Priority

	// Compress gzips the serialized envelope on byte-oriented tiers.
	Compress bool

	// EntryVersion is an opaque caller tag carried on the envelope.
	EntryVersion string

	// Tags label the entry for bulk invalidation. Order is preserved,
	// duplicates are ignored.
	Tags []string

	Format Format
}

// DefaultPolicy is a plain JSON write with normal priority and a 10 minute
// absolute TTL.
func DefaultPolicy() Policy {
	return Policy{
		AbsoluteTTL: 10 * time.Minute,
		Priority:    PriorityNormal,
		Format:      FormatJSON,
	}
}

// TTL resolves the effective store TTL: absolute wins, then sliding,
// then 0 (no expiry).
func (p Policy) TTL() time.Duration {
	if p.AbsoluteTTL > 0 {
		return p.AbsoluteTTL
	}
	if p.SlidingTTL > 0 {
		return p.SlidingTTL
	}
	return 0
}

// WithTags returns a copy of the policy with tags appended. The receiver's
// tag slice is never written to, so policies shared between call sites stay
// intact.
func (p Policy) WithTags(tags ...string) Policy {
	if len(tags) == 0 {
		return p
	}
	seen := make(map[string]struct{}, len(p.Tags)+len(tags))
	merged := make([]string, 0, len(p.Tags)+len(tags))
	for _, t := range p.Tags {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			merged = append(merged, t)
		}
	}
	for _, t := range tags {
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			merged = append(merged, t)
		}
	}
	p.Tags = merged
	return p
}
