package provider

import (
	"sync"
	"time"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/observability"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "open"
	}
}

type BreakerConfig struct {
	// Consecutive failures that open the breaker.
	FailureThreshold int
	// How long the breaker stays open before probing.
	Cooldown time.Duration
	// Consecutive half-open successes required to close.
	CloseThreshold int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		CloseThreshold:   2,
	}
}

// Breaker is a circuit breaker for one external dependency. Each
// dependency (provider API, directory service, volume service) gets
// its own instance so one failing collaborator does not blind the
// gateway to the others.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. While open it fails fast
// with an upstream-unavailable error; after the cooldown it shifts to
// half-open and lets probes through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return core.NewAppError(core.ErrUpstreamUnavailable,
				b.name+" unavailable: circuit open")
		}
		b.setState(BreakerHalfOpen)
		b.successes = 0
	}
	return nil
}

// Record feeds a call outcome into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.setState(BreakerOpen)
			b.openedAt = b.now()
			observability.BreakerOpenTotal.WithLabelValues(b.name).Inc()
		}
	case BreakerHalfOpen:
		if !success {
			b.setState(BreakerOpen)
			b.openedAt = b.now()
			b.failures = b.cfg.FailureThreshold
			observability.BreakerOpenTotal.WithLabelValues(b.name).Inc()
			return
		}
		b.successes++
		if b.successes >= b.cfg.CloseThreshold {
			b.setState(BreakerClosed)
			b.failures = 0
		}
	case BreakerOpen:
		// A straggler finishing after the breaker opened. Ignore.
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) setState(s BreakerState) {
	b.state = s
	observability.BreakerState.WithLabelValues(b.name).Set(float64(s))
}
