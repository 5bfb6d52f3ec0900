package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
)

// CircuitState is one of CLOSED, OPEN or HALF_OPEN. The numeric values are
// exported on the circuit_breaker_state gauge.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON payloads
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	DefaultFailureThreshold    = 5
	DefaultResetTimeout        = 30 * time.Second
	DefaultHalfOpenMaxAttempts = 3
)

const (
	reasonOpen         = "circuit is open"
	reasonHalfOpenBusy = "too many half-open attempts"
)

// CircuitBreakerConfig configures one breaker; zero values take the defaults
type CircuitBreakerConfig struct {
	// Name labels logs, metrics and rejections
	Name string
	// FailureThreshold is the number of consecutive failures in the closed
	// state that opens the circuit
	FailureThreshold int
	// ResetTimeout is measured from the last failure; once it elapses the
	// next call moves the circuit to half-open
	ResetTimeout time.Duration
	// HalfOpenMaxAttempts caps the probe calls admitted while half-open and is
	// also the number of consecutive successes needed to close again
	HalfOpenMaxAttempts int
	// OnStateChange runs after the breaker lock is released, once per transition
	OnStateChange func(name string, from CircuitState, to CircuitState)
	// OnFailure is called for every failed operation
	OnFailure func(name string, err error)
	// Clock overrides time.Now, mostly for tests
	Clock func() time.Time
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenMaxAttempts <= 0 {
		c.HalfOpenMaxAttempts = DefaultHalfOpenMaxAttempts
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Metrics holds cumulative call counters for a breaker
type Metrics struct {
	Total           uint64    `json:"total"`
	Succeeded       uint64    `json:"succeeded"`
	Failed          uint64    `json:"failed"`
	Rejected        uint64    `json:"rejected"`
	LastStateChange time.Time `json:"last_state_change"`
}

// BreakerStatus is a point-in-time snapshot of a breaker
type BreakerStatus struct {
	Name                 string        `json:"name"`
	State                CircuitState  `json:"state"`
	FailureCount         int           `json:"failure_count"`
	SuccessCount         int           `json:"success_count"`
	LastFailure          time.Time     `json:"last_failure"`
	FailureThreshold     int           `json:"failure_threshold"`
	ResetTimeout         time.Duration `json:"reset_timeout"`
	HalfOpenMaxAttempts  int           `json:"half_open_max_attempts"`
	HalfOpenAttemptsUsed int           `json:"half_open_attempts_used"`
	Metrics              Metrics       `json:"metrics"`
}

// Operation is the unit of work guarded by a breaker
type Operation func(ctx context.Context) (interface{}, error)

// Fallback produces a substitute result when a call is rejected
type Fallback func(ctx context.Context, err error) (interface{}, error)

type stateChange struct {
	from CircuitState
	to   CircuitState
}

// CircuitBreaker guards calls to one dependency. Results of calls admitted
// before the latest state change are ignored.
type CircuitBreaker struct {
	name                string
	failureThreshold    int
	resetTimeout        time.Duration
	halfOpenMaxAttempts int
	onStateChange       func(name string, from CircuitState, to CircuitState)
	onFailure           func(name string, err error)
	clock               func() time.Time

	mutex                sync.Mutex
	state                CircuitState
	generation           uint64
	failureCount         int
	successCount         int
	halfOpenAttemptsUsed int
	lastFailure          time.Time
	metrics              Metrics
	pending              []stateChange

	logger *logging.Logger
}

// NewCircuitBreaker starts closed
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	config = config.withDefaults()

	cb := &CircuitBreaker{
		name:                config.Name,
		failureThreshold:    config.FailureThreshold,
		resetTimeout:        config.ResetTimeout,
		halfOpenMaxAttempts: config.HalfOpenMaxAttempts,
		onStateChange:       config.OnStateChange,
		onFailure:           config.OnFailure,
		clock:               config.Clock,
		state:               StateClosed,
		logger:              logging.GetLogger(),
	}
	cb.metrics.LastStateChange = cb.clock()

	return cb
}

// Execute is ExecuteWithFallback without a fallback
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	return cb.ExecuteWithFallback(ctx, op, nil)
}

// ExecuteWithFallback runs op if the circuit admits it. A rejected call returns
// the fallback result when fallback is non-nil, otherwise a *CircuitOpenError.
// Failures of op itself are returned unchanged and never routed to the fallback.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, op Operation, fallback Fallback) (interface{}, error) {
	generation, err := cb.beforeRequest()
	if err != nil {
		if fallback != nil {
			return fallback(ctx, err)
		}
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	result, err := op(ctx)
	cb.afterRequest(generation, err)
	return result, err
}

// Call runs fn with a background context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	state := cb.state
	cb.mutex.Unlock()
	return state
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Status returns a snapshot of the breaker
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return BreakerStatus{
		Name:                 cb.name,
		State:                cb.state,
		FailureCount:         cb.failureCount,
		SuccessCount:         cb.successCount,
		LastFailure:          cb.lastFailure,
		FailureThreshold:     cb.failureThreshold,
		ResetTimeout:         cb.resetTimeout,
		HalfOpenMaxAttempts:  cb.halfOpenMaxAttempts,
		HalfOpenAttemptsUsed: cb.halfOpenAttemptsUsed,
		Metrics:              cb.metrics,
	}
}

// ForceOpen opens the circuit for maintenance. The reset timeout restarts now.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mutex.Lock()
	now := cb.clock()
	cb.lastFailure = now
	cb.setState(StateOpen, now)
	changes := cb.takeChanges()
	cb.mutex.Unlock()

	cb.notify(changes)
}

// ForceClose closes the circuit regardless of recent failures
func (cb *CircuitBreaker) ForceClose() {
	cb.mutex.Lock()
	now := cb.clock()
	cb.setState(StateClosed, now)
	cb.failureCount = 0
	cb.successCount = 0
	changes := cb.takeChanges()
	cb.mutex.Unlock()

	cb.notify(changes)
}

// ResetMetrics zeroes the cumulative counters without touching the state
func (cb *CircuitBreaker) ResetMetrics() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.metrics = Metrics{LastStateChange: cb.metrics.LastStateChange}
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mutex.Lock()

	now := cb.clock()
	cb.metrics.Total++
	state := cb.currentState(now)

	var err error
	switch {
	case state == StateOpen:
		err = &CircuitOpenError{Name: cb.name, Reason: reasonOpen}
	case state == StateHalfOpen && cb.halfOpenAttemptsUsed >= cb.halfOpenMaxAttempts:
		err = &CircuitOpenError{Name: cb.name, Reason: reasonHalfOpenBusy}
	case state == StateHalfOpen:
		cb.halfOpenAttemptsUsed++
	}
	if err != nil {
		cb.metrics.Rejected++
	}

	generation := cb.generation
	changes := cb.takeChanges()
	cb.mutex.Unlock()

	cb.notify(changes)
	return generation, err
}

func (cb *CircuitBreaker) afterRequest(before uint64, opErr error) {
	cb.mutex.Lock()

	now := cb.clock()
	if opErr == nil {
		cb.metrics.Succeeded++
	} else {
		cb.metrics.Failed++
	}

	// Outcomes from an earlier generation only count towards the metrics
	if cb.generation == before {
		if opErr == nil {
			cb.onSuccess(now)
		} else {
			cb.onFailureLocked(now)
		}
	}

	changes := cb.takeChanges()
	cb.mutex.Unlock()

	if opErr != nil && cb.onFailure != nil {
		cb.onFailure(cb.name, opErr)
	}
	cb.notify(changes)
}

func (cb *CircuitBreaker) onSuccess(now time.Time) {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxAttempts {
			cb.setState(StateClosed, now)
		}
	}
}

func (cb *CircuitBreaker) onFailureLocked(now time.Time) {
	cb.lastFailure = now
	cb.failureCount++
	cb.successCount = 0

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// currentState applies the OPEN -> HALF_OPEN transition once the reset timeout
// has elapsed since the last failure
func (cb *CircuitBreaker) currentState(now time.Time) CircuitState {
	if cb.state == StateOpen && now.Sub(cb.lastFailure) >= cb.resetTimeout {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.generation++
	cb.metrics.LastStateChange = now

	switch state {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
	case StateHalfOpen:
		cb.failureCount = 0
		cb.successCount = 0
		cb.halfOpenAttemptsUsed = 0
	case StateOpen:
		cb.successCount = 0
		cb.halfOpenAttemptsUsed = 0
	}

	cb.pending = append(cb.pending, stateChange{from: prev, to: state})
}

func (cb *CircuitBreaker) takeChanges() []stateChange {
	changes := cb.pending
	cb.pending = nil
	return changes
}

// notify runs outside the breaker lock so observers may call back into the breaker
func (cb *CircuitBreaker) notify(changes []stateChange) {
	for _, change := range changes {
		cb.logger.Info("Circuit breaker state changed",
			"name", cb.name,
			"from", change.from.String(),
			"to", change.to.String(),
		)

		if cb.onStateChange != nil {
			cb.onStateChange(cb.name, change.from, change.to)
		}
	}
}

// CircuitOpenError is returned when a call is rejected without running
type CircuitOpenError struct {
	Name   string
	Reason string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' rejected call: %s", e.Name, e.Reason)
}

// IsCircuitOpenError checks if an error is a circuit open error
func IsCircuitOpenError(err error) bool {
	var cbErr *CircuitOpenError
	return errors.As(err, &cbErr)
}
