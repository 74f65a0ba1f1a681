// Package circuitbreaker guards calls to the external analysis engine.
// A run of failures opens the circuit so a dead engine fails scans fast
// instead of burning the retry budget on every stock.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/signal-scanner/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means requests are allowed
	StateClosed State = "closed"
	// StateOpen means requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means a probe request is testing recovery
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker.
type Config struct {
	Name string
	// MaxConsecutiveFails opens the circuit when reached.
	MaxConsecutiveFails int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
}

// DefaultConfig returns the configuration used for the analysis engine.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:                name,
		MaxConsecutiveFails: 5,
		Cooldown:            30 * time.Second,
	}
}

// CircuitBreaker trips after a run of consecutive failures and lets a
// single probe through after the cooldown.
type CircuitBreaker struct {
	name     string
	maxFails int
	cooldown time.Duration

	mu               sync.Mutex
	state            State
	consecutiveFails int
	lastStateChange  time.Time
	probing          bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg *Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:            cfg.Name,
		maxFails:        cfg.MaxConsecutiveFails,
		cooldown:        cfg.Cooldown,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under circuit protection. When the circuit is open,
// fn is not called and ErrCircuitOpen is returned.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastStateChange) > cb.cooldown {
			cb.setState(StateHalfOpen)
			cb.probing = true
			logging.WithField("circuit_breaker", cb.name).Info("circuit breaker probing")
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		// One probe at a time.
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil

	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false

	if err == nil {
		cb.consecutiveFails = 0
		if cb.state != StateClosed {
			cb.setState(StateClosed)
			logging.WithField("circuit_breaker", cb.name).Info("circuit breaker closed after recovery")
		}
		return
	}

	cb.consecutiveFails++
	if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.maxFails {
		if cb.state != StateOpen {
			cb.setState(StateOpen)
			logging.WithFields(map[string]interface{}{
				"circuit_breaker":   cb.name,
				"consecutive_fails": cb.consecutiveFails,
			}).Warn("circuit breaker opened")
		}
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = time.Now()
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
