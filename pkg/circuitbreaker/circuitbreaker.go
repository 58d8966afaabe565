package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the state of a circuit breaker
type State int32

const (
	// StateClosed requests pass through normally
	StateClosed State = iota
	// StateOpen requests fail immediately without calling the function
	StateOpen
	// StateHalfOpen a limited number of probe requests are let through
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
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

var (
	// ErrCircuitOpen is returned when the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Config represents the configuration for a circuit breaker
type Config struct {
	// Name is the name of the circuit breaker (for logging/monitoring)
	Name string
	// MaxRequests is the maximum number of requests allowed in half-open state (default: 1)
	MaxRequests int64
	// Timeout is how long the breaker stays open before probing (default: 30s)
	Timeout time.Duration
	// MaxFailures is the number of consecutive failures that opens the circuit (default: 5)
	MaxFailures int64
	// SuccessThreshold is the number of half-open successes that closes the circuit (default: 1)
	SuccessThreshold int64
	// OnStateChange is called when the circuit breaker state changes
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a default configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxRequests:      1,
		Timeout:          30 * time.Second,
		MaxFailures:      5,
		SuccessThreshold: 1,
	}
}

// Counts represents the statistics of the circuit breaker since the last state change
type Counts struct {
	Requests             int64
	TotalSuccesses       int64
	TotalFailures        int64
	ConsecutiveSuccesses int64
	ConsecutiveFailures  int64
}

// CircuitBreaker guards calls to a flaky dependency.
type CircuitBreaker struct {
	config *Config
	now    func() time.Time

	mu         sync.Mutex
	state      State
	counts     Counts
	lastChange time.Time
	generation uint64
}

// New creates a new circuit breaker with the given configuration
func New(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config:     config,
		now:        time.Now,
		state:      StateClosed,
		lastChange: time.Now(),
	}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// State returns the current state, moving OPEN to HALF_OPEN once the timeout elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

// Counts returns the current counts
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Execute runs fn unless the circuit is open or ctx is already done.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.beforeRequest() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	// a caller giving up is not a failure of the dependency
	if err != nil && !errors.Is(err, context.Canceled) {
		cb.onFailure()
		return err
	}
	if err == nil {
		cb.onSuccess()
	}
	return err
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.setStateLocked(StateClosed)
	cb.mu.Unlock()
	cb.notify(change)
}

type stateChange struct {
	from, to State
}

func (cb *CircuitBreaker) notify(c *stateChange) {
	if c != nil && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, c.from, c.to)
	}
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() *stateChange {
	if cb.state == StateOpen && cb.now().Sub(cb.lastChange) >= cb.config.Timeout {
		return cb.setStateLocked(StateHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) beforeRequest() bool {
	cb.mu.Lock()
	change := cb.maybeHalfOpenLocked()
	allowed := true
	switch cb.state {
	case StateOpen:
		allowed = false
	case StateHalfOpen:
		allowed = cb.counts.Requests < cb.config.MaxRequests
	}
	if allowed {
		cb.counts.Requests++
	}
	cb.mu.Unlock()
	cb.notify(change)
	return allowed
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	cb.counts.TotalSuccesses++
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0

	var change *stateChange
	if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
		change = cb.setStateLocked(StateClosed)
	}
	cb.mu.Unlock()
	cb.notify(change)
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	var change *stateChange
	switch cb.state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.MaxFailures {
			change = cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		// any failure while probing reopens the circuit
		change = cb.setStateLocked(StateOpen)
	}
	cb.mu.Unlock()
	cb.notify(change)
}

func (cb *CircuitBreaker) setStateLocked(to State) *stateChange {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.lastChange = cb.now()
	cb.generation++
	cb.counts = Counts{}
	return &stateChange{from: from, to: to}
}

// Stats returns statistics about the circuit breaker
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Generation      uint64    `json:"generation"`
	LastStateChange time.Time `json:"last_state_change"`
	Counts          Counts    `json:"counts"`
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		Generation:      cb.generation,
		LastStateChange: cb.lastChange,
		Counts:          cb.counts,
	}
}
