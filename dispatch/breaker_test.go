package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errDown = errors.New("orchestrator down")

func TestBreaker_OpensFailsFastAndAdmitsOneProbe(t *testing.T) {
	clock := newTestClock()
	var transitions []BreakerState
	breaker := NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		CoolDown:         10 * time.Second,
		MaxCoolDown:      time.Minute,
		Now:              clock.Now,
		OnStateChange:    func(_, to BreakerState) { transitions = append(transitions, to) },
	})

	calls := 0
	failing := func() error { calls++; return errDown }
	for i := range 3 {
		if err := breaker.Do(failing); !errors.Is(err, errDown) {
			t.Fatalf("call %d: expected downstream error, got %v", i, err)
		}
	}
	if breaker.State() != BreakerOpen {
		t.Fatalf("expected open after threshold, got %s", breaker.State())
	}

	if err := breaker.Do(failing); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail fast, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected no call while open, got %d calls", calls)
	}
	if !breaker.ReopensAt().Equal(clock.Now().Add(10 * time.Second)) {
		t.Fatalf("unexpected reopening time %s", breaker.ReopensAt())
	}

	clock.Advance(10 * time.Second)
	var probes atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = breaker.Do(func() error {
			probes.Add(1)
			close(started)
			<-release
			return errDown
		})
	}()
	<-started

	rejected := 0
	for range 8 {
		if err := breaker.Do(func() error { probes.Add(1); return nil }); errors.Is(err, ErrCircuitOpen) {
			rejected++
		}
	}
	close(release)
	wg.Wait()
	if probes.Load() != 1 || rejected != 8 {
		t.Fatalf("expected exactly one probe, got %d probes and %d rejections", probes.Load(), rejected)
	}
	if breaker.State() != BreakerOpen || breaker.CoolDown() != 20*time.Second {
		t.Fatalf("expected failed probe to reopen with doubled cool-down, got %s %s", breaker.State(), breaker.CoolDown())
	}

	clock.Advance(20 * time.Second)
	if err := breaker.Do(func() error { return nil }); err != nil {
		t.Fatalf("expected successful probe, got %v", err)
	}
	if breaker.State() != BreakerClosed || breaker.CoolDown() != 10*time.Second {
		t.Fatalf("expected closed with base cool-down, got %s %s", breaker.State(), breaker.CoolDown())
	}
	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(transitions) != len(want) {
		t.Fatalf("unexpected transitions %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("unexpected transitions %v", transitions)
		}
	}
}

func TestBreaker_CoolDownIsCapped(t *testing.T) {
	clock := newTestClock()
	breaker := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		CoolDown:         time.Second,
		MaxCoolDown:      3 * time.Second,
		Now:              clock.Now,
	})
	_ = breaker.Do(func() error { return errDown })
	for range 4 {
		clock.Advance(breaker.CoolDown())
		_ = breaker.Do(func() error { return errDown })
	}
	if breaker.CoolDown() != 3*time.Second {
		t.Fatalf("expected cool-down capped at 3s, got %s", breaker.CoolDown())
	}
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 2})
	_ = breaker.Do(func() error { return errDown })
	_ = breaker.Do(func() error { return nil })
	_ = breaker.Do(func() error { return errDown })
	if breaker.State() != BreakerClosed {
		t.Fatalf("expected failures to be consecutive, got %s", breaker.State())
	}
}

func TestBreaker_IgnoresErrorsNotCountedAsFailures(t *testing.T) {
	permanent := errors.New("bad request")
	breaker := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return errors.Is(err, errDown) },
	})
	if err := breaker.Do(func() error { return permanent }); !errors.Is(err, permanent) {
		t.Fatalf("expected error to pass through, got %v", err)
	}
	if breaker.State() != BreakerClosed {
		t.Fatalf("expected closed breaker, got %s", breaker.State())
	}
}

func TestBreaker_PanickingHalfOpenCallReopens(t *testing.T) {
	clock := newTestClock()
	breaker := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		CoolDown:         time.Second,
		MaxCoolDown:      time.Minute,
		Now:              clock.Now,
	})
	_ = breaker.Do(func() error { return errDown })
	clock.Advance(time.Second)

	func() {
		defer func() {
			if recovered := recover(); recovered == nil {
				t.Fatalf("expected the panic to propagate")
			}
		}()
		_ = breaker.Do(func() error { panic("nil map write") })
	}()

	if breaker.State() != BreakerOpen || breaker.CoolDown() != 2*time.Second {
		t.Fatalf("expected a panicking probe to count as a failure, got %s %s", breaker.State(), breaker.CoolDown())
	}
	clock.Advance(2 * time.Second)
	if err := breaker.Do(func() error { return nil }); err != nil {
		t.Fatalf("expected the next probe to be admitted, got %v", err)
	}
	if breaker.State() != BreakerClosed {
		t.Fatalf("expected closed breaker, got %s", breaker.State())
	}
}
