package circuitbreaker

import (
	"errors"
	"spotify-util-go/logcolors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateOpen                  // Circuit tripped, requests blocked
	StateHalfOpen              // One trial request in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Config holds circuit breaker configuration
type Config struct {
	Name            string        // Name for logging
	Threshold       int           // Number of consecutive failures before opening
	Cooldown        time.Duration // How long to stay open before probing
	HalfOpenTimeout time.Duration // Max time a trial request may take before reopening

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker stops calls to an upstream that keeps failing.
type CircuitBreaker struct {
	name            string
	threshold       int
	cooldown        time.Duration
	halfOpenTimeout time.Duration
	onStateChange   func(name string, from, to State)
	now             func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	halfOpenStart time.Time
}

// New creates a new circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &CircuitBreaker{
		name:            cfg.Name,
		threshold:       cfg.Threshold,
		cooldown:        cfg.Cooldown,
		halfOpenTimeout: cfg.HalfOpenTimeout,
		onStateChange:   cfg.OnStateChange,
		now:             time.Now,
		state:           StateClosed,
	}
}

// Name returns the breaker name used in logs.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	allowed, from, to := cb.allowLocked()
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

func (cb *CircuitBreaker) allowLocked() (bool, State, State) {
	now := cb.now()
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) < cb.cooldown {
			return false, cb.state, cb.state
		}
		cb.halfOpenStart = now
		return true, cb.transitionLocked(StateHalfOpen), StateHalfOpen

	case StateHalfOpen:
		// the trial request never reported back
		if now.Sub(cb.halfOpenStart) >= cb.halfOpenTimeout {
			cb.openedAt = now
			return false, cb.transitionLocked(StateOpen), StateOpen
		}
		return false, cb.state, cb.state

	default:
		return true, cb.state, cb.state
	}
}

// RecordSuccess records a request that reached the upstream and got a usable answer.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.transitionLocked(StateClosed)
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// RecordFailure records an upstream failure (5xx or transport error).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failures++

	switch cb.state {
	case StateHalfOpen:
		cb.openedAt = cb.now()
		cb.transitionLocked(StateOpen)
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.openedAt = cb.now()
			cb.transitionLocked(StateOpen)
		}
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from != to && to == StateOpen {
		log.Warnf("%s %d consecutive failures, circuit OPEN for %v",
			logcolors.CircuitBreakerPrefix(cb.name), failures, cb.cooldown)
	}
	cb.notify(from, to)
}

// transitionLocked moves to the given state and returns the previous one.
func (cb *CircuitBreaker) transitionLocked(to State) State {
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
		cb.openedAt = time.Time{}
		cb.halfOpenStart = time.Time{}
	}
	return from
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to {
		return
	}
	log.Infof("%s %s -> %s", logcolors.CircuitBreakerPrefix(cb.name), from, to)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Threshold returns the configured failure threshold
func (cb *CircuitBreaker) Threshold() int {
	return cb.threshold
}

// Reset manually closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.transitionLocked(StateClosed)
	cb.mu.Unlock()

	log.Infof("%s Manually reset", logcolors.CircuitBreakerPrefix(cb.name))
	cb.notify(from, StateClosed)
}

// TimeUntilRetry returns how long until the circuit will let a trial request through.
// Returns 0 if the circuit is closed or a trial request is already allowed.
func (cb *CircuitBreaker) TimeUntilRetry() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateOpen:
		if remaining := cb.cooldown - now.Sub(cb.openedAt); remaining > 0 {
			return remaining
		}
	case StateHalfOpen:
		if remaining := cb.halfOpenTimeout - now.Sub(cb.halfOpenStart); remaining > 0 {
			return remaining
		}
	}
	return 0
}

// Status is a JSON-friendly snapshot of the breaker.
type Status struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Failures       int    `json:"failures"`
	Threshold      int    `json:"threshold"`
	RetryInSeconds int    `json:"retry_in_seconds"`
}

// Snapshot returns the breaker status for health and admin endpoints.
func (cb *CircuitBreaker) Snapshot() Status {
	retry := cb.TimeUntilRetry()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Status{
		Name:           cb.name,
		State:          cb.state.String(),
		Failures:       cb.failures,
		Threshold:      cb.threshold,
		RetryInSeconds: int(retry.Round(time.Second) / time.Second),
	}
}
