package tiercache

import "time"

// Compatibility controls how strictly a reader checks an envelope's
// schema version against its own.
type Compatibility int8

const (
	// CompatibilityStrict requires exact schema-version equality.
	CompatibilityStrict Compatibility = iota
	// CompatibilityCompatible requires an equal major version; versions
	// without a major component fall back to exact equality.
	CompatibilityCompatible
	// CompatibilityLenient accepts any schema version.
	CompatibilityLenient
)

func (c Compatibility) String() string {
	switch c {
	case CompatibilityStrict:
		return "strict"
	case CompatibilityCompatible:
		return "compatible"
	case CompatibilityLenient:
		return "lenient"
	default:
		return "unknown"
	}
}

// metadata keys carried on the envelope so the local tier can re-stamp a
// sliding entry on access without losing the write's intent: the window
// itself, the write priority, and the absolute bound when one was set.
const (
	mdSlidingTTL = "sliding_ttl"
	mdPriority   = "priority"
	mdDeadline   = "deadline"
)

// Entry is the envelope a tier wraps around a stored value. It is created
// at write time, immutable once stored, and never shared across tiers by
// reference; every tier that needs it builds (or re-serializes) its own.
type Entry[V any] struct {
	Data          V              `json:"data" msgpack:"data"`
	CreatedAt     time.Time      `json:"created_at" msgpack:"created_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty" msgpack:"expires_at,omitempty"`
	EntryVersion  string         `json:"entry_version,omitempty" msgpack:"entry_version,omitempty"`
	SchemaVersion string         `json:"schema_version,omitempty" msgpack:"schema_version,omitempty"`
	Compatibility Compatibility  `json:"compatibility" msgpack:"compatibility"`
	Metadata      map[string]any `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// newEntry builds the envelope for one write according to policy.
func newEntry[V any](value V, p Policy) Entry[V] {
	now := time.Now()
	e := Entry[V]{
		Data:          value,
		CreatedAt:     now,
		EntryVersion:  p.EntryVersion,
		Compatibility: CompatibilityCompatible,
	}
	if ttl := p.TTL(); ttl > 0 {
		exp := now.Add(ttl)
		e.ExpiresAt = &exp
	}
	if p.SlidingTTL > 0 {
		e.Metadata = map[string]any{
			mdSlidingTTL: p.SlidingTTL.Nanoseconds(),
			mdPriority:   int64(p.Priority),
		}
		if p.AbsoluteTTL > 0 {
			e.Metadata[mdDeadline] = now.Add(p.AbsoluteTTL).UnixNano()
		}
	}
	return e
}

// Expired reports whether the envelope's absolute expiry has passed.
// Entries without an expiry never expire here; the store's own TTL still
// applies.
func (e *Entry[V]) Expired() bool {
	return e.ExpiresAt != nil && time.Now().After(*e.ExpiresAt)
}

// slidingTTL recovers the sliding window from metadata, if any.
func (e *Entry[V]) slidingTTL() time.Duration {
	n, _ := metaInt(e.Metadata, mdSlidingTTL)
	return time.Duration(n)
}

// priority recovers the write priority carried on a sliding entry.
func (e *Entry[V]) priority() (Priority, bool) {
	n, ok := metaInt(e.Metadata, mdPriority)
	if !ok {
		return 0, false
	}
	return Priority(n), true
}

// hardDeadline recovers the absolute expiry bound set alongside a sliding
// window. Zero when the write had no absolute TTL.
func (e *Entry[V]) hardDeadline() time.Time {
	n, ok := metaInt(e.Metadata, mdDeadline)
	if !ok {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// metaInt reads a numeric metadata value. Envelopes that crossed a
// serialization boundary carry numbers as whatever type the codec chose.
func metaInt(md map[string]any, key string) (int64, bool) {
	raw, ok := md[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
