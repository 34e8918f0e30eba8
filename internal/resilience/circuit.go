// Package resilience provides the retry combinator, circuit breaker and
// failure classification shared by every platform API call.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the breaker position.
type CircuitState int

const (
	// CircuitClosed passes every call through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cool-down elapses.
	CircuitOpen
	// CircuitHalfOpen lets one probe through.
	CircuitHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen matches every rejection by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// OpenError is returned for a rejected call. It matches ErrCircuitOpen.
type OpenError struct {
	Failures int
	Until    time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open after %d failures (until %s)",
		e.Failures, e.Until.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrCircuitOpen) hold.
func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// CircuitBreakerConfig controls the breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive platform failures that
	// opens the breaker. Default: 5.
	FailureThreshold int

	// ResetTimeout is the cool-down before a probe is allowed. Default: 30s.
	ResetTimeout time.Duration

	// OnStateChange is called on every transition, under the breaker lock.
	OnStateChange func(from, to CircuitState)
}

// StateLogger returns an OnStateChange callback that logs transitions for
// the named service.
func StateLogger(service string) func(from, to CircuitState) {
	return func(from, to CircuitState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("service", service),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
}

// CircuitBreaker stops hammering the platform while it is failing. Only
// transient failures count: a permanent error (expired session, block page)
// or a GraphQL error in an otherwise healthy response says nothing about
// platform health.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// ExecuteVal runs fn unless the breaker is open. While half-open only one
// probe runs at a time; concurrent callers are rejected until it settles.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	probe, err := cb.admit()
	if err != nil {
		return zero, err
	}

	val, err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		cb.abandon(probe)
		return val, err
	}
	cb.settle(probe, err)
	return val, err
}

// State returns the current position. An open breaker whose cool-down has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooled() {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooled() bool {
	return cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) rejection() error {
	return &OpenError{Failures: cb.failures, Until: cb.openedAt.Add(cb.cfg.ResetTimeout)}
}

// admit reports whether the call is the half-open probe.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if !cb.cooled() {
			return false, cb.rejection()
		}
		cb.moveTo(CircuitHalfOpen)
	}
	if cb.state == CircuitHalfOpen {
		if cb.probing {
			return false, cb.rejection()
		}
		cb.probing = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}

	if !trips(err) {
		cb.failures = 0
		if probe {
			cb.moveTo(CircuitClosed)
		}
		return
	}

	cb.failures++
	if probe || cb.failures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.now()
		if cb.state != CircuitOpen {
			cb.moveTo(CircuitOpen)
		}
	}
}

// abandon frees the half-open slot of a call whose caller gave up. The
// outcome says nothing about platform health, so the streak is untouched.
func (cb *CircuitBreaker) abandon(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func trips(err error) bool {
	return err != nil && !IsPermanent(err) && IsTransient(err)
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
