// Package crypt implements the symmetric cipher used by the secure cache
// layer. Key material is derived from a configured secret with SHA-256;
// the CTR initialization vector is derived from the same secret rather
// than randomized per write, which keeps ciphertexts deterministic so
// encrypted cache keys stay stable across lookups. That determinism is a
// known weakening versus a per-write nonce; see the package consumer for
// the trade-off.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
)

var ErrEmptySecret = errors.New("crypt: empty secret")

// Cipher encrypts and decrypts byte slices with AES-256-CTR.
type Cipher struct {
	block cipher.Block
	iv    [aes.BlockSize]byte
}

// New derives key and IV from secret and returns a ready Cipher.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	ivSum := sha256.Sum256([]byte(secret + "/iv"))
	c := &Cipher{block: block}
	copy(c.iv[:], ivSum[:aes.BlockSize])
	return c, nil
}

// Encrypt returns the CTR keystream XOR of src. Deterministic for a given
// secret and input.
func (c *Cipher) Encrypt(src []byte) []byte {
	dst := make([]byte, len(src))
	iv := c.iv // copy; NewCTR mutates its counter
	cipher.NewCTR(c.block, iv[:]).XORKeyStream(dst, src)
	return dst
}

// Decrypt reverses Encrypt. CTR is symmetric, so the implementations match.
func (c *Cipher) Decrypt(src []byte) []byte {
	return c.Encrypt(src)
}
