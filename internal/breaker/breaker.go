// Package breaker implements a per-upstream-key three-state circuit
// breaker, grounded on the generic call-wrapping breaker used elsewhere in
// this codebase's corpus but reshaped into an explicit Allow/Report API:
// the rotation engine needs to ask "is this key eligible right now" before
// it ever issues the upstream call, not after.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker's current position in the closed/open/half-open
// state machine.
type State int

const (
	// StateClosed allows calls and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls until RecoveryTimeout elapses.
	StateOpen
	// StateHalfOpen allows a bounded number of trial calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a breaker instance.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker from closed to open.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before allowing
	// a half-open trial.
	RecoveryTimeout time.Duration
	// MaxHalfOpenCalls bounds concurrent trial calls while half-open.
	MaxHalfOpenCalls int
}

// DefaultConfig returns the conventional breaker tuning.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		MaxHalfOpenCalls: 3,
	}
}

// Breaker is a single key's circuit breaker.
type Breaker struct {
	config Config
	logger *zap.Logger

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// New creates a breaker in the closed state.
func New(config Config, logger *zap.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.MaxHalfOpenCalls <= 0 {
		config.MaxHalfOpenCalls = 3
	}
	return &Breaker{config: config, logger: logger, state: StateClosed}
}

// CanExecute reports whether a call may proceed right now, transitioning
// open -> half_open as a side effect once RecoveryTimeout has elapsed.
// It does not reserve a half-open trial slot — callers that intend to
// actually issue a call against the candidate this returned true for must
// call Reserve on the one candidate they pick.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.lastFailureTime) > b.config.RecoveryTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenCallCount = 0
		} else {
			return false
		}
		fallthrough

	case StateHalfOpen:
		return b.halfOpenCallCount < b.config.MaxHalfOpenCalls
	}

	return false
}

// Reserve marks one half-open trial slot as in-flight for the candidate
// that was actually selected. A no-op (returns true) outside half-open.
func (b *Breaker) Reserve() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return true
	}
	if b.halfOpenCallCount >= b.config.MaxHalfOpenCalls {
		return false
	}
	b.halfOpenCallCount++
	return true
}

// ReportSuccess records a successful call outcome.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.setState(StateClosed)
		b.failureCount = 0
		b.halfOpenCallCount = 0
	}
}

// ReportFailure records a failed call outcome, tripping the breaker open
// once FailureThreshold consecutive failures accrue.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.halfOpenCallCount = 0
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failureCount = 0
	b.halfOpenCallCount = 0
}

func (b *Breaker) setState(next State) {
	if b.logger != nil && next != b.state {
		b.logger.Info("breaker state transition",
			zap.String("from", b.state.String()),
			zap.String("to", next.String()),
		)
	}
	b.state = next
}
