package tiercache

import (
	"context"
	"errors"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	"github.com/unkn0wn-root/tiercache/store"
)

// RemoteConfig configures a remote (shared, byte-oriented) cache tier.
type RemoteConfig struct {
	// Store is the shared byte store behind the tier. Required.
	Store store.Store

	Logger  Logger
	Metrics *Recorder
	// Label overrides the metrics label; defaults to CacheTypeRemote.
	Label string

	// BloomExpectedItems > 0 enables a negative-lookup filter sized for
	// that many keys: reads of keys this process never wrote skip the
	// network round trip entirely.
	BloomExpectedItems uint
	// BloomFalsePositiveRate defaults to 0.01.
	BloomFalsePositiveRate float64
}

// RemoteService is the slow, shared tier. Values are stored as a
// self-describing frame: one header byte carrying the serialization
// format and a compression flag, then the (optionally gzipped) encoded
// envelope. Any process that can read the header byte can decode the
// entry without out-of-band configuration.
//
// The remote store offers no key enumeration, so Clear, KeysByTag and
// RemoveByTag report ErrUnsupported instead of pretending to succeed.
type RemoteService[V any] struct {
	st      store.Store
	log     Logger
	metrics *Recorder
	label   string

	json codec.JSON[Entry[V]]
	mp   codec.Msgpack[Entry[V]]
	cb   codec.CBOR[Entry[V]]

	sf singleflight.Group

	filterMu sync.RWMutex
	filter   *bloom.BloomFilter
}

var _ Service[string] = (*RemoteService[string])(nil)

func NewRemote[V any](cfg RemoteConfig) (*RemoteService[V], error) {
	if cfg.Store == nil {
		return nil, errConfig("remote: store is required")
	}

	cb, err := codec.NewCBOR[Entry[V]]()
	if err != nil {
		return nil, err
	}

	s := &RemoteService[V]{
		st:      cfg.Store,
		log:     coalesce[Logger](cfg.Logger, NopLogger{}),
		metrics: cfg.Metrics,
		label:   coalesce(cfg.Label, CacheTypeRemote),
		cb:      cb,
	}

	if cfg.BloomExpectedItems > 0 {
		fp := cfg.BloomFalsePositiveRate
		if fp <= 0 || fp >= 1 {
			fp = 0.01
		}
		s.filter = bloom.NewWithEstimates(cfg.BloomExpectedItems, fp)
	}
	return s, nil
}

type remoteRead struct {
	raw []byte
	ok  bool
}

func (s *RemoteService[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	if s.definitelyAbsent(key) {
		s.miss()
		return zero, false, nil
	}

	// collapse concurrent reads of the same key into one store round trip
	v, err, _ := s.sf.Do(key, func() (any, error) {
		raw, ok, err := s.st.Get(ctx, key)
		return remoteRead{raw: raw, ok: ok}, err
	})
	if err != nil {
		s.errored()
		return zero, false, err
	}

	read := v.(remoteRead)
	if !read.ok || len(read.raw) == 0 {
		s.miss()
		return zero, false, nil
	}

	format, payload, err := wire.Decode(read.raw)
	if err != nil {
		// malformed frame reads as a miss; drop the value so the next
		// write starts clean
		_ = s.st.Del(ctx, key)
		s.miss()
		s.log.Warn("remote entry corrupt, dropped", Fields{"key": key, "err": err})
		return zero, false, nil
	}

	entry, err := s.decode(Format(format), payload)
	if err != nil {
		_ = s.st.Del(ctx, key)
		s.miss()
		s.log.Warn("remote entry undecodable, dropped", Fields{"key": key, "format": Format(format).String(), "err": err})
		return zero, false, nil
	}

	if entry.Expired() {
		_ = s.st.Del(ctx, key)
		s.miss()
		return zero, false, nil
	}

	s.hit()
	return entry.Data, true, nil
}

func (s *RemoteService[V]) Set(ctx context.Context, key string, value V, policy Policy) error {
	entry := newEntry(value, policy)

	// unknown formats encode as JSON; the frame must carry the code
	// actually used or every read of the entry would fail
	format := policy.Format
	if format > FormatCBOR {
		format = FormatJSON
	}

	payload, err := s.encode(format, entry)
	if err != nil {
		s.errored()
		return err
	}

	framed, err := wire.Encode(byte(format), policy.Compress, payload)
	if err != nil {
		s.errored()
		return err
	}

	if err := s.st.Set(ctx, key, framed, policy.TTL()); err != nil {
		s.errored()
		s.log.Warn("remote write failed", Fields{"key": key, "err": err})
		return err
	}

	s.observeKey(key)
	if s.metrics != nil {
		s.metrics.Set(s.label)
	}
	return nil
}

func (s *RemoteService[V]) Remove(ctx context.Context, key string) error {
	if err := s.st.Del(ctx, key); err != nil {
		s.errored()
		return err
	}
	// the bloom filter cannot unlearn the key; it only ever skips reads
	// of keys never written, which stays true
	if s.metrics != nil {
		s.metrics.Remove(s.label)
	}
	return nil
}

func (s *RemoteService[V]) Exists(ctx context.Context, key string) (bool, error) {
	if s.definitelyAbsent(key) {
		return false, nil
	}
	raw, ok, err := s.st.Get(ctx, key)
	if err != nil {
		s.errored()
		return false, err
	}
	return ok && len(raw) > 0, nil
}

func (s *RemoteService[V]) Clear(context.Context) error {
	return unsupported(s.label, "clear")
}

func (s *RemoteService[V]) KeysByTag(context.Context, string) ([]string, error) {
	return nil, unsupported(s.label, "keysByTag")
}

func (s *RemoteService[V]) RemoveByTag(context.Context, string) error {
	return unsupported(s.label, "removeByTag")
}

// Close releases the underlying store.
func (s *RemoteService[V]) Close(ctx context.Context) error {
	return s.st.Close(ctx)
}

func (s *RemoteService[V]) encode(f Format, e Entry[V]) ([]byte, error) {
	switch f {
	case FormatMessagePack:
		return s.mp.Encode(e)
	case FormatCBOR:
		return s.cb.Encode(e)
	default:
		return s.json.Encode(e)
	}
}

func (s *RemoteService[V]) decode(f Format, b []byte) (Entry[V], error) {
	switch f {
	case FormatJSON:
		return s.json.Decode(b)
	case FormatMessagePack:
		return s.mp.Decode(b)
	case FormatCBOR:
		return s.cb.Decode(b)
	default:
		var zero Entry[V]
		return zero, errors.New("tiercache: unknown wire format")
	}
}

func (s *RemoteService[V]) definitelyAbsent(key string) bool {
	if s.filter == nil {
		return false
	}
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	return !s.filter.TestString(key)
}

func (s *RemoteService[V]) observeKey(key string) {
	if s.filter == nil {
		return
	}
	s.filterMu.Lock()
	s.filter.AddString(key)
	s.filterMu.Unlock()
}

func (s *RemoteService[V]) hit() {
	if s.metrics != nil {
		s.metrics.Hit(s.label)
	}
}

func (s *RemoteService[V]) miss() {
	if s.metrics != nil {
		s.metrics.Miss(s.label)
	}
}

func (s *RemoteService[V]) errored() {
	if s.metrics != nil {
		s.metrics.Error(s.label)
	}
}
