package dispatch

import (
	"errors"
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned without calling the guarded function while the
// breaker rejects calls.
var ErrCircuitOpen = errors.New("dispatch: circuit open")

type BreakerConfig struct {
	FailureThreshold int
	CoolDown         time.Duration
	MaxCoolDown      time.Duration
	// IsFailure decides which errors count against the threshold. Defaults
	// to every non-nil error.
	IsFailure     func(error) bool
	OnStateChange func(from, to BreakerState)
	Now           func() time.Time
}

// Breaker guards one downstream endpoint. All state changes happen under mu,
// so at most one half-open probe is ever in flight.
type Breaker struct {
	threshold    int
	baseCoolDown time.Duration
	maxCoolDown  time.Duration
	isFailure    func(error) bool
	onChange     func(from, to BreakerState)
	now          func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	coolDown  time.Duration
	openUntil time.Time
	probing   bool
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.MaxCoolDown < cfg.CoolDown {
		cfg.MaxCoolDown = cfg.CoolDown
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Breaker{
		threshold:    cfg.FailureThreshold,
		baseCoolDown: cfg.CoolDown,
		maxCoolDown:  cfg.MaxCoolDown,
		isFailure:    cfg.IsFailure,
		onChange:     cfg.OnStateChange,
		now:          cfg.Now,
		state:        BreakerClosed,
		coolDown:     cfg.CoolDown,
	}
}

// Do runs fn when the breaker admits the call and records its outcome. A
// panicking fn counts as a failure and the panic is re-raised.
func (b *Breaker) Do(fn func() error) (callErr error) {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	completed := false
	defer func() {
		b.report(probe, !completed || b.isFailure(callErr))
	}()
	callErr = fn()
	completed = true
	return callErr
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ReopensAt is when an open breaker admits its next probe. It is the zero
// time while the breaker is closed.
func (b *Breaker) ReopensAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerClosed {
		return time.Time{}
	}
	return b.openUntil
}

func (b *Breaker) CoolDown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coolDown
}

func (b *Breaker) acquire() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if b.now().Before(b.openUntil) {
			return false, ErrCircuitOpen
		}
		b.transition(BreakerHalfOpen)
		b.probing = true
		return true, nil
	case BreakerHalfOpen:
		return false, ErrCircuitOpen
	}
	return false, nil
}

func (b *Breaker) report(probe bool, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
		if failed {
			b.coolDown = min(b.coolDown*2, b.maxCoolDown)
			b.open()
			return
		}
		b.coolDown = b.baseCoolDown
		b.failures = 0
		b.transition(BreakerClosed)
		return
	}
	if b.state != BreakerClosed {
		// a call admitted before the breaker opened
		return
	}
	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.openUntil = b.now().Add(b.coolDown)
	b.failures = 0
	b.transition(BreakerOpen)
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
