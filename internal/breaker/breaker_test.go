package breaker

import (
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests control the breaker's notion of time.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return New("test-provider", Config{
		FailureThreshold: 5,
		Cooldown:         5 * time.Minute,
		Now:              clock.Now,
	})
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	// 5 consecutive failures open the breaker.
	for i := 0; i < 5; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("attempt %d should be allowed: %v", i, err)
		}
		b.RecordFailure()
	}

	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	// 6th attempt fails immediately with ErrOpen.
	err := b.Allow()
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		b.Allow()
		b.RecordFailure()
	}
	b.Allow()
	b.RecordSuccess()

	// Counter reset: 4 more failures should not open it.
	for i := 0; i < 4; i++ {
		b.Allow()
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed after counter reset", b.State())
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.Allow()
		b.RecordFailure()
	}

	// Before cooldown: still rejected.
	clock.Advance(4 * time.Minute)
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen before cooldown, got %v", err)
	}

	// After cooldown: exactly one probe is allowed.
	clock.Advance(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("second concurrent probe must be rejected, got %v", err)
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.Allow()
		b.RecordFailure()
	}
	clock.Advance(6 * time.Minute)

	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed after probe success", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker should allow: %v", err)
	}
}

func TestBreaker_ProbeFailureReopensWithFreshCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		b.Allow()
		b.RecordFailure()
	}
	clock.Advance(6 * time.Minute)

	b.Allow()
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open after probe failure", b.State())
	}

	// Cooldown timer was reset: one minute later still rejected.
	clock.Advance(time.Minute)
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen during fresh cooldown, got %v", err)
	}

	// Full cooldown later a new probe is allowed.
	clock.Advance(5 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("new probe should be allowed: %v", err)
	}
}

func TestBreaker_DoWrapsOutcome(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := newTestBreaker(clock)

	wantErr := errors.New("dispatch failed")
	for i := 0; i < 5; i++ {
		if err := b.Do(func() error { return wantErr }); !errors.Is(err, wantErr) {
			t.Fatalf("expected dispatch error, got %v", err)
		}
	}

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("open breaker must not invoke the underlying call")
	}
}

func TestRegistry_SharedPerDependency(t *testing.T) {
	reg := NewRegistry(Config{})

	a := reg.Get("workflow-engine")
	b := reg.Get("workflow-engine")
	c := reg.Get("voice-provider")

	if a != b {
		t.Error("same dependency must share one breaker")
	}
	if a == c {
		t.Error("different dependencies must have separate breakers")
	}

	states := reg.States()
	if len(states) != 2 {
		t.Errorf("States() = %v, want 2 entries", states)
	}
}
