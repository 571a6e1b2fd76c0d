package util

import (
	"crypto/sha256"
	"encoding/binary"
)

// PartitionIndex maps key onto [0, n) by hashing it with SHA-256 and
// truncating the digest to an unsigned 32-bit value before the modulo.
// The mapping is stable for a fixed n; changing n remaps existing keys.
func PartitionIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	sum := sha256.Sum256([]byte(key))
	return int(binary.BigEndian.Uint32(sum[:4]) % uint32(n))
}
