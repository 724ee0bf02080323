package gateway

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without contacting the gateway while the breaker is open
	ErrCircuitOpen = errors.New("gateway circuit breaker is open")
	// ErrProbeInFlight is returned while the half-open probe budget is spent
	ErrProbeInFlight = errors.New("gateway circuit breaker probe in flight")
)

// BreakerConfig configures a CircuitBreaker
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures uint32
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration
	// MaxProbes is the number of calls admitted while half-open
	MaxProbes uint32
	// OnStateChange is called with the breaker lock held; it must not call back into the breaker
	OnStateChange func(from, to BreakerState)
}

// DefaultBreakerConfig opens after 5 failures and probes after 30 seconds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
		MaxProbes:   1,
	}
}

// CircuitBreaker stops calling a gateway that keeps failing. Only errors
// the caller classifies as infrastructure failures count against it; a
// declined card is a successful round trip.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	now      func() time.Time
	state    BreakerState
	failures uint32
	probes   uint32
	changed  time.Time
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return newCircuitBreaker(cfg, time.Now)
}

func newCircuitBreaker(cfg BreakerConfig, now func() time.Time) *CircuitBreaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 1
	}
	if cfg.MaxProbes == 0 {
		cfg.MaxProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, now: now, state: BreakerClosed, changed: now()}
}

// Execute runs fn if the breaker admits it. tripped decides whether the
// returned error counts as a failure.
func (cb *CircuitBreaker) Execute(fn func() error, tripped func(error) bool) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err != nil && tripped(err))
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.changed) < cb.cfg.Cooldown {
			return ErrCircuitOpen
		}
		cb.transition(BreakerHalfOpen)
		cb.probes++
		return nil
	case BreakerHalfOpen:
		if cb.probes >= cb.cfg.MaxProbes {
			return ErrProbeInFlight
		}
		cb.probes++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !failed {
		if cb.state == BreakerHalfOpen {
			cb.transition(BreakerClosed)
		}
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.state == BreakerHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		cb.transition(BreakerOpen)
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.changed = cb.now()
	cb.probes = 0
	if to != BreakerOpen {
		cb.failures = 0
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
