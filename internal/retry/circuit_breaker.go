package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ncerr "gocat/internal/errors"
)

// ── Circuit breaker state ────────────────────────────────────────────

// State is the position of a [CircuitBreaker].
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets one probe at a time test the target.
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ── Configuration ────────────────────────────────────────────────────

// CircuitBreakerConfig configures a [CircuitBreaker].  Zero fields take
// the defaults noted on each.
type CircuitBreakerConfig struct {
	// MaxFailures consecutive failures open the circuit (5).
	MaxFailures int
	// ResetTimeout is how long the circuit stays open (30s).
	ResetTimeout time.Duration
	// HalfOpenMax successful probes close the circuit again (1).
	HalfOpenMax int
	// OnStateChange observes transitions.  It runs under the breaker's
	// lock and must not call back into it.
	OnStateChange func(from, to State)
	// IsFailure decides which errors count against the target.  When
	// nil every error except context cancellation counts.
	IsFailure func(error) bool
}

// ── CircuitBreaker ───────────────────────────────────────────────────

// CircuitBreaker stops calling a target that keeps failing.  The proxy
// forwarder wraps its remote dials in one, so a dead upstream costs
// each new client an immediate close instead of a full retry cycle.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	probeOK  int
	probing  bool
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker.  cfg may be nil.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	var c CircuitBreakerConfig
	if cfg != nil {
		c = *cfg
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 1
	}
	return &CircuitBreaker{cfg: c, now: time.Now}
}

// Execute runs fn unless the circuit is open.  While half-open, calls
// that arrive during a probe are rejected as if the circuit were open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err)
	return err
}

// ExecuteContext is Execute for operations bound to ctx.  A failure
// that coincides with ctx ending is not held against the target.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	if err != nil && ctx.Err() != nil {
		cb.release(probe)
		return err
	}
	cb.record(probe, err)
	return err
}

// CurrentState returns the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit and forgets past failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.probeOK, cb.probing = 0, 0, false
	cb.setState(StateClosed)
}

// ── internal ─────────────────────────────────────────────────────────

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return false, fmt.Errorf("%w: %d consecutive failures, retry in %v",
				ncerr.ErrCircuitOpen, cb.failures, wait.Round(time.Second))
		}
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probing {
			return false, fmt.Errorf("%w: probe in progress", ncerr.ErrCircuitOpen)
		}
		cb.probing = true
		return true, nil
	}
	return false, nil
}

// release ends a probe without judging the target.
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.probing = false
	}

	if err != nil {
		if !cb.isFailure(err) {
			return
		}
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.openedAt = cb.now()
			cb.probeOK = 0
			cb.setState(StateOpen)
		}
		return
	}

	if cb.state == StateHalfOpen {
		if cb.probeOK++; cb.probeOK < cb.cfg.HalfOpenMax {
			return
		}
		cb.setState(StateClosed)
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if cb.cfg.IsFailure != nil {
		return cb.cfg.IsFailure(err)
	}
	return !errors.Is(err, context.Canceled)
}

func (cb *CircuitBreaker) setState(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
