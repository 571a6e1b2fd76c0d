// Package codec provides pluggable value serialization for cache tiers
// that persist bytes. A Codec must round-trip: Decode(Encode(v)) yields a
// value equal to v for any v the caller stores.
package codec

// Codec converts values of type V to and from their stored byte form.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
