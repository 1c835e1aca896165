// Package guard centralizes the consistency protections that were
// previously scattered across call sites: a circuit breaker applied at the
// boundary between the engine and its backing store, and a bounded
// auto-repair retry for a small set of known-transient faults.
package guard

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("guard: circuit open")

// BreakerState is the breaker's position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes a Breaker. Zero values take defaults.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening (default 5)
	SuccessThreshold int           // half-open successes before closing (default 2)
	Cooldown         time.Duration // open duration before a trial call (default 30s)
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	state     BreakerState
	failures  int
	successes int
	reopenAt  time.Time
	now       func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// SetNow overrides the breaker clock for tests.
func (b *Breaker) SetNow(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// State reports the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn under the breaker. While open and inside the cooldown window
// it fails fast with ErrOpen; the first call after the cooldown is the
// half-open trial.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if b.now().Before(b.reopenAt) {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.successes = 0
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.successes = 0
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.reopenAt = b.now().Add(b.cfg.Cooldown)
		}
		return err
	}

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.successes = 0
		}
	}
	return nil
}
