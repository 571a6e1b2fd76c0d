package retrier

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSucceedsAfterTransientFailures(t *testing.T) {
	r, err := New(3, time.Millisecond, time.Millisecond, Fixed)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	calls := 0
	err = r.Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls: got %d, want 3", calls)
	}
}

func TestExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	r, _ := New(2, time.Millisecond, time.Millisecond, Fixed)

	last := errors.New("still down")
	calls := 0
	err := r.Run(context.Background(), func() error {
		calls++
		return last
	})
	if err != last {
		t.Fatalf("Run: got %v, want the last error unchanged", err)
	}
	if calls != 2 {
		t.Fatalf("calls: got %d, want 2", calls)
	}
}

func TestNoRetryShortCircuits(t *testing.T) {
	r, _ := New(5, time.Millisecond, time.Millisecond, Fixed)
	fatal := errors.New("no point retrying")
	r.NoRetry = func(err error) bool { return errors.Is(err, fatal) }

	calls := 0
	err := r.Run(context.Background(), func() error {
		calls++
		return fatal
	})
	if err != fatal {
		t.Fatalf("Run: got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}
}

func TestContextCancellationIsFatal(t *testing.T) {
	r, _ := New(5, time.Millisecond, time.Millisecond, Fixed)

	calls := 0
	err := r.Run(context.Background(), func() error {
		calls++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}
}

func TestCancelDuringBackoff(t *testing.T) {
	r, _ := New(3, time.Hour, time.Hour, Fixed)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Run(ctx, func() error { return errors.New("transient") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
}

func TestInvalidConfiguration(t *testing.T) {
	if _, err := New(0, time.Millisecond, time.Millisecond, Fixed); !errors.Is(err, ErrInvalidAttempts) {
		t.Fatalf("attempts: got %v", err)
	}
	if _, err := New(1, 0, time.Millisecond, Fixed); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("delay: got %v", err)
	}
}

func TestDelayStrategies(t *testing.T) {
	base := 10 * time.Millisecond

	fixed, _ := New(5, base, time.Second, Fixed)
	fixed = fixed.WithJitter(0)
	if d := fixed.delay(3); d != base {
		t.Fatalf("fixed delay: got %v, want %v", d, base)
	}

	exp, _ := New(5, base, time.Second, Exponential)
	exp = exp.WithJitter(0)
	if d := exp.delay(2); d != 4*base {
		t.Fatalf("exponential delay: got %v, want %v", d, 4*base)
	}

	lin, _ := New(5, base, time.Second, Linear)
	lin = lin.WithJitter(0)
	if d := lin.delay(2); d != 3*base {
		t.Fatalf("linear delay: got %v, want %v", d, 3*base)
	}

	// capped at maxDelay
	capped, _ := New(10, base, 20*time.Millisecond, Exponential)
	capped = capped.WithJitter(0)
	if d := capped.delay(9); d != 20*time.Millisecond {
		t.Fatalf("capped delay: got %v", d)
	}
}

func TestJitterBounds(t *testing.T) {
	r, _ := New(3, 10*time.Millisecond, time.Second, Fixed)
	r = r.WithJitter(0.5)

	for i := 0; i < 50; i++ {
		d := r.delay(0)
		if d < 10*time.Millisecond || d > 15*time.Millisecond {
			t.Fatalf("jittered delay %v outside [10ms, 15ms]", d)
		}
	}
}
