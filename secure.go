package tiercache

import (
	"context"
	"encoding/base64"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/internal/crypt"
)

// Tags the secure layer appends to every write it handles.
const (
	TagSecure    = "secure"
	TagEncrypted = "encrypted"
)

// SecureConfig configures the encrypting cache decorator.
type SecureConfig struct {
	// Secret is the key material; the cipher key and IV are both derived
	// from it. Required.
	Secret string

	Logger  Logger
	Metrics *Recorder
	// Label overrides the metrics label; defaults to CacheTypeSecure.
	Label string
}

// SecureService encrypts cache keys and values before they reach the
// inner service. Keys must stay stable across lookups, so encryption is
// deterministic: same secret, same plaintext, same ciphertext. That rules
// out a per-write random nonce, a deliberate and documented weakening.
//
// Decryption failure is fail-open: the layer falls back to interpreting
// the stored value as plaintext instead of failing the read, and logs a
// security event. Operators watching logs see tampering; callers see a
// working cache.
type SecureService[V any] struct {
	inner   Service[string]
	cipher  *crypt.Cipher
	vc      codec.JSON[V]
	log     Logger
	metrics *Recorder
	label   string
}

var _ Service[int] = (*SecureService[int])(nil)

func NewSecure[V any](inner Service[string], cfg SecureConfig) (*SecureService[V], error) {
	if inner == nil {
		return nil, errConfig("secure: inner service is required")
	}
	cipher, err := crypt.New(cfg.Secret)
	if err != nil {
		return nil, err
	}
	return &SecureService[V]{
		inner:   inner,
		cipher:  cipher,
		log:     coalesce[Logger](cfg.Logger, NopLogger{}),
		metrics: cfg.Metrics,
		label:   coalesce(cfg.Label, CacheTypeSecure),
	}, nil
}

// encryptKey derives the stored key. base64url keeps it printable and
// safe for any key/value backend.
func (s *SecureService[V]) encryptKey(key string) string {
	return base64.RawURLEncoding.EncodeToString(s.cipher.Encrypt([]byte(key)))
}

func (s *SecureService[V]) Set(ctx context.Context, key string, value V, policy Policy) error {
	payload, err := s.vc.Encode(value)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Error(s.label)
		}
		return err
	}

	encVal := base64.StdEncoding.EncodeToString(s.cipher.Encrypt(payload))

	// copy-on-append: the caller's policy value stays untouched
	policy = policy.WithTags(TagSecure, TagEncrypted)

	return s.inner.Set(ctx, s.encryptKey(key), encVal, policy)
}

func (s *SecureService[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	stored, ok, err := s.inner.Get(ctx, s.encryptKey(key))
	if err != nil || !ok {
		return zero, ok, err
	}

	raw, decodeErr := base64.StdEncoding.DecodeString(stored)
	if decodeErr == nil {
		if v, err := s.vc.Decode(s.cipher.Decrypt(raw)); err == nil {
			return v, true, nil
		}
	}

	// fail-open: value was not (or no longer is) valid ciphertext; try it
	// as plaintext before giving up
	s.securityEvent(key)
	if v, err := s.vc.Decode([]byte(stored)); err == nil {
		return v, true, nil
	}
	return zero, false, nil
}

func (s *SecureService[V]) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, s.encryptKey(key))
}

func (s *SecureService[V]) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, s.encryptKey(key))
}

func (s *SecureService[V]) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}

// KeysByTag returns encrypted key forms; tags themselves are not
// encrypted by this layer.
func (s *SecureService[V]) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	return s.inner.KeysByTag(ctx, tag)
}

func (s *SecureService[V]) RemoveByTag(ctx context.Context, tag string) error {
	return s.inner.RemoveByTag(ctx, tag)
}

func (s *SecureService[V]) securityEvent(key string) {
	if s.metrics != nil {
		s.metrics.Error(s.label)
	}
	s.log.Error("decrypt failed, falling back to plaintext read", Fields{"key": key, "event": "security"})
}
