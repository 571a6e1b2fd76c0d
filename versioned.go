package tiercache

import (
	"context"
	"strconv"
	"strings"
)

// VersionedConfig configures the schema-versioning cache decorator.
type VersionedConfig struct {
	// SchemaVersion is the version stamped on writes and checked on
	// reads, e.g. "1.0". Defaults to "1.0".
	SchemaVersion string

	Logger  Logger
	Metrics *Recorder
	// Label overrides the metrics label; defaults to CacheTypeVersioned.
	Label string
}

// VersionedService stamps every written envelope with the current schema
// version and validates it on read. Incompatible entries go through a
// migration check: an entry written by an older major version is accepted
// (restamped in memory, not written back, so each read re-migrates), an
// entry from a newer or unparsable major version reads as a miss.
type VersionedService[V any] struct {
	inner   Service[Entry[V]]
	version string
	log     Logger
	metrics *Recorder
	label   string
}

var _ Service[int] = (*VersionedService[int])(nil)

func NewVersioned[V any](inner Service[Entry[V]], cfg VersionedConfig) (*VersionedService[V], error) {
	if inner == nil {
		return nil, errConfig("versioned: inner service is required")
	}
	return &VersionedService[V]{
		inner:   inner,
		version: coalesce(cfg.SchemaVersion, "1.0"),
		log:     coalesce[Logger](cfg.Logger, NopLogger{}),
		metrics: cfg.Metrics,
		label:   coalesce(cfg.Label, CacheTypeVersioned),
	}, nil
}

// SchemaVersion reports the version this service writes.
func (s *VersionedService[V]) SchemaVersion() string { return s.version }

func (s *VersionedService[V]) Set(ctx context.Context, key string, value V, policy Policy) error {
	entry := newEntry(value, policy)
	entry.SchemaVersion = s.version
	entry.Compatibility = CompatibilityCompatible
	return s.inner.Set(ctx, key, entry, policy)
}

func (s *VersionedService[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	entry, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}

	if compatible(entry.SchemaVersion, entry.Compatibility, s.version) {
		return entry.Data, true, nil
	}

	if !canMigrate(entry.SchemaVersion, s.version) {
		if s.metrics != nil {
			s.metrics.Error(s.label)
		}
		s.log.Warn("incompatible schema version, treating as miss", Fields{
			"key": key, "entry": entry.SchemaVersion, "current": s.version,
		})
		return zero, false, nil
	}

	// migrated view is not persisted; the stored entry keeps its old
	// stamp and the next read migrates again
	s.log.Debug("migrated entry schema on read", Fields{
		"key": key, "from": entry.SchemaVersion, "to": s.version,
	})
	return entry.Data, true, nil
}

func (s *VersionedService[V]) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *VersionedService[V]) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, key)
}

func (s *VersionedService[V]) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}

func (s *VersionedService[V]) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	return s.inner.KeysByTag(ctx, tag)
}

func (s *VersionedService[V]) RemoveByTag(ctx context.Context, tag string) error {
	return s.inner.RemoveByTag(ctx, tag)
}

// compatible decides whether an entry written under entryVersion may be
// returned by a reader at currentVersion.
func compatible(entryVersion string, mode Compatibility, currentVersion string) bool {
	switch mode {
	case CompatibilityLenient:
		return true
	case CompatibilityStrict:
		return entryVersion == currentVersion
	default:
		em, eok := majorOf(entryVersion)
		cm, cok := majorOf(currentVersion)
		if !eok || !cok {
			// no major component on either side; only exact equality is safe
			return entryVersion == currentVersion
		}
		return em == cm
	}
}

// canMigrate permits migration when majors match, or when the entry's
// numeric major is older than the current one. Newer-than-current and
// non-numeric majors are refused.
func canMigrate(entryVersion, currentVersion string) bool {
	em, eok := majorOf(entryVersion)
	cm, cok := majorOf(currentVersion)
	if !eok || !cok {
		return entryVersion == currentVersion
	}
	if em == cm {
		return true
	}
	en, err1 := strconv.Atoi(em)
	cn, err2 := strconv.Atoi(cm)
	if err1 != nil || err2 != nil {
		return false
	}
	return en < cn
}

// majorOf returns the substring before the first '.', reporting false
// when the version has no '.' separator at all.
func majorOf(version string) (string, bool) {
	i := strings.IndexByte(version, '.')
	if i < 0 {
		return version, false
	}
	return version[:i], true
}
