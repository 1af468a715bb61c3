package http

import (
	"errors"
	"sync"
	"time"

	"ytupload/internal/metrics"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state where requests are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen is the state where requests fail fast.
	CircuitOpen
	// CircuitHalfOpen is the testing state where one request is allowed.
	CircuitHalfOpen
)

// String returns the string representation of a circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Circuit breaker defaults.
const (
	DefaultFailureThreshold    = 5
	DefaultRecoveryTimeout     = 30 * time.Second
	DefaultHalfOpenMaxRequests = 1
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures to open the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before transitioning to half-open.
	RecoveryTimeout time.Duration
	// HalfOpenMaxRequests is the number of test requests allowed in half-open state.
	HalfOpenMaxRequests int
	// IsTransientError decides which failures count against the circuit.
	// If nil, all errors count.
	IsTransientError func(error) bool
	// OnStateChange, if set, is called with mu held after each transition.
	OnStateChange func(endpoint string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the default circuit breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    DefaultFailureThreshold,
		RecoveryTimeout:     DefaultRecoveryTimeout,
		HalfOpenMaxRequests: DefaultHalfOpenMaxRequests,
		IsTransientError:    IsTransientHTTPError,
	}
}

type circuitState struct {
	state             CircuitState
	consecutiveErrors int
	lastStateChange   time.Time
	halfOpenRequests  int
}

// CircuitBreaker tracks failures per endpoint and fails fast once an
// endpoint keeps failing. The Data API and upload sessions are tracked
// separately so a flaky upload host does not block metadata calls.
type CircuitBreaker struct {
	circuits map[string]*circuitState
	mu       sync.Mutex
	config   CircuitBreakerConfig
	now      func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}

	return &CircuitBreaker{
		circuits: make(map[string]*circuitState),
		config:   cfg,
		now:      time.Now,
	}
}

// Allow returns nil if a request to endpoint may proceed, or ErrCircuitOpen.
func (cb *CircuitBreaker) Allow(endpoint string) error {
	if cb == nil {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.circuit(endpoint)

	switch circuit.state {
	case CircuitOpen:
		if cb.now().Sub(circuit.lastStateChange) >= cb.config.RecoveryTimeout {
			cb.transition(endpoint, circuit, CircuitHalfOpen)
			circuit.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		if circuit.halfOpenRequests < cb.config.HalfOpenMaxRequests {
			circuit.halfOpenRequests++
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess closes a half-open circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess(endpoint string) {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.circuit(endpoint)
	if circuit.state == CircuitHalfOpen {
		cb.transition(endpoint, circuit, CircuitClosed)
		circuit.halfOpenRequests = 0
	}
	circuit.consecutiveErrors = 0
}

// RecordFailure counts a transient failure and opens the circuit once the
// threshold is reached. Permanent errors are ignored.
func (cb *CircuitBreaker) RecordFailure(endpoint string, err error) {
	if cb == nil {
		return
	}
	if cb.config.IsTransientError != nil && !cb.config.IsTransientError(err) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit := cb.circuit(endpoint)
	circuit.consecutiveErrors++

	switch circuit.state {
	case CircuitClosed:
		if circuit.consecutiveErrors >= cb.config.FailureThreshold {
			cb.transition(endpoint, circuit, CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(endpoint, circuit, CircuitOpen)
	}
}

// State returns the current state of the circuit for endpoint.
func (cb *CircuitBreaker) State(endpoint string) CircuitState {
	if cb == nil {
		return CircuitClosed
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	circuit, ok := cb.circuits[endpoint]
	if !ok {
		return CircuitClosed
	}
	if circuit.state == CircuitOpen && cb.now().Sub(circuit.lastStateChange) >= cb.config.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return circuit.state
}

// Reset closes the circuit for endpoint.
func (cb *CircuitBreaker) Reset(endpoint string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if circuit, ok := cb.circuits[endpoint]; ok && circuit.state != CircuitClosed {
		cb.transition(endpoint, circuit, CircuitClosed)
	}
	delete(cb.circuits, endpoint)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(endpoint string, circuit *circuitState, to CircuitState) {
	from := circuit.state
	circuit.state = to
	circuit.lastStateChange = cb.now()
	metrics.CircuitBreakerState.WithLabelValues(endpoint).Set(float64(to))
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(endpoint, from, to)
	}
}

// circuit must be called with mu held.
func (cb *CircuitBreaker) circuit(endpoint string) *circuitState {
	circuit, ok := cb.circuits[endpoint]
	if !ok {
		circuit = &circuitState{state: CircuitClosed, lastStateChange: cb.now()}
		cb.circuits[endpoint] = circuit
	}
	return circuit
}
