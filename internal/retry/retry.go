// Package retry implements exponential backoff with jitter plus a simple
// per-identifier circuit breaker, shared by clients that talk to a
// possibly-flaky remote host.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// CircuitState is the state of a circuit breaker for one identifier.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// Manager implements exponential backoff with jitter and a circuit
// breaker keyed by an arbitrary identifier (typically a remote host).
type Manager struct {
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFactor      float64

	mu       sync.Mutex
	failures map[string]int
	state    map[string]CircuitState
}

// NewManager creates a Manager with sane defaults.
func NewManager() *Manager {
	return &Manager{
		MaxRetries:        5,
		BaseBackoff:       100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
		failures:          make(map[string]int),
		state:             make(map[string]CircuitState),
	}
}

// ShouldRetry reports whether another attempt should be made, given the
// circuit state and attempt count for id.
func (m *Manager) ShouldRetry(id string, attempt int) bool {
	if attempt >= m.MaxRetries {
		return false
	}
	return m.GetCircuitState(id) != CircuitOpen
}

// NextBackoff computes the delay before the given attempt number.
func (m *Manager) NextBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := float64(m.BaseBackoff) * math.Pow(m.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(m.MaxBackoff) {
		backoff = float64(m.MaxBackoff)
	}
	jitter := backoff * m.JitterFactor * (rand.Float64()*2 - 1)
	backoff += jitter
	if backoff < float64(m.BaseBackoff) {
		backoff = float64(m.BaseBackoff)
	}
	return time.Duration(backoff)
}

// RecordSuccess resets id's failure count and closes its circuit.
func (m *Manager) RecordSuccess(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, id)
	m.state[id] = CircuitClosed
}

// RecordFailure increments id's failure count, opening the circuit once
// MaxRetries is exceeded.
func (m *Manager) RecordFailure(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id]++
	if m.failures[id] > m.MaxRetries {
		m.state[id] = CircuitOpen
	}
}

// GetCircuitState returns id's current circuit state, defaulting to
// closed for an identifier with no recorded failures.
func (m *Manager) GetCircuitState(id string) CircuitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.state[id]; ok {
		return s
	}
	return CircuitClosed
}
