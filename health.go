package tiercache

import (
	"context"
	"fmt"
	"time"
)

// HealthStep is the outcome of one stage of the synthetic probe.
type HealthStep struct {
	Name    string
	Latency time.Duration
	OK      bool
	Err     string
}

// HealthReport aggregates a synthetic set/get/remove cycle against the
// pipeline. Healthy is true only when every step passed.
type HealthReport struct {
	Healthy   bool
	CheckedAt time.Time
	Steps     []HealthStep
}

// CheckHealth writes a probe value under a unique key, reads it back and
// removes it, timing each step. A read that comes back as a miss fails
// the get step: the probe was just written and must be visible.
func CheckHealth[V any](ctx context.Context, cache Service[V], probe V) HealthReport {
	report := HealthReport{CheckedAt: time.Now(), Healthy: true}
	key := fmt.Sprintf("health:probe:%d", time.Now().UnixNano())

	policy := Policy{
		AbsoluteTTL: time.Minute,
		Priority:    PriorityLow,
		Format:      FormatJSON,
	}

	step := func(name string, fn func() error) bool {
		start := time.Now()
		err := fn()
		hs := HealthStep{Name: name, Latency: time.Since(start), OK: err == nil}
		if err != nil {
			hs.Err = err.Error()
			report.Healthy = false
		}
		report.Steps = append(report.Steps, hs)
		return err == nil
	}

	if !step("set", func() error {
		return cache.Set(ctx, key, probe, policy)
	}) {
		return report
	}

	step("get", func() error {
		_, ok, err := cache.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("probe %q not readable after write", key)
		}
		return nil
	})

	step("remove", func() error {
		return cache.Remove(ctx, key)
	})

	return report
}
