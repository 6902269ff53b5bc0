package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"FinGate/internal/domain/models"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Gauge maps a state onto the value exported to Prometheus.
func (s State) Gauge() int {
	switch s {
	case StateOpen:
		return 2
	case StateHalfOpen:
		return 1
	}
	return 0
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	}
	return StateClosed
}

type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// StateListener observes transitions. It runs inside the breaker's critical
// section and must not call back into the breaker.
type StateListener func(name string, from, to State)

type Snapshot struct {
	Name            string
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
	LastSuccessTime time.Time
	TransitionTime  time.Time
	NextAttempt     time.Time
}

// CircuitBreaker guards one adapter. The state machine runs on a gobreaker
// two-step breaker: ConsecutiveFailures drives closed->open, MaxRequests is the
// half-open success threshold and any half-open failure reopens.
type CircuitBreaker struct {
	name     string
	cfg      Config
	listener StateListener

	mu          sync.Mutex
	cb          *gobreaker.TwoStepCircuitBreaker
	generation  uint64
	transition  time.Time
	failures    int
	lastFailure time.Time
	lastSuccess time.Time
}

func New(name string, cfg Config, listener StateListener) *CircuitBreaker {
	b := &CircuitBreaker{name: name, cfg: cfg.withDefaults(), listener: listener}
	b.mu.Lock()
	b.rebuildLocked()
	b.mu.Unlock()
	return b
}

func (b *CircuitBreaker) rebuildLocked() {
	b.generation++
	gen := b.generation
	b.transition = time.Now()
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        b.name,
		MaxRequests: uint32(b.cfg.SuccessThreshold),
		Timeout:     b.cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(b.cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.mu.Lock()
			if b.generation == gen {
				b.transition = time.Now()
			}
			b.mu.Unlock()
			if b.listener != nil {
				b.listener(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	})
}

func (b *CircuitBreaker) current() *gobreaker.TwoStepCircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb
}

func (b *CircuitBreaker) Name() string { return b.name }

func (b *CircuitBreaker) Config() Config { return b.cfg }

// State reads the current state. An open breaker whose timeout elapsed
// reports half-open.
func (b *CircuitBreaker) State() State {
	return fromGobreaker(b.current().State())
}

// CanAttempt reports whether a call may go through right now.
func (b *CircuitBreaker) CanAttempt() bool {
	return b.State() != StateOpen
}

// Allow reserves one call. The returned func must be invoked exactly once
// with the outcome. A refused call returns an error wrapping ErrCircuitOpen.
func (b *CircuitBreaker) Allow() (func(success bool), error) {
	done, err := b.current().Allow()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.name, models.ErrCircuitOpen)
	}
	return func(success bool) {
		now := time.Now()
		b.mu.Lock()
		if success {
			b.lastSuccess = now
			b.failures = 0
		} else {
			b.lastFailure = now
			b.failures++
		}
		b.mu.Unlock()
		done(success)
	}, nil
}

func (b *CircuitBreaker) RecordSuccess() { b.record(true) }

func (b *CircuitBreaker) RecordFailure() { b.record(false) }

func (b *CircuitBreaker) record(success bool) {
	done, err := b.Allow()
	if err != nil {
		return
	}
	done(success)
}

// Reset forces the breaker closed with zeroed counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	b.rebuildLocked()
	b.failures = 0
	b.lastFailure = time.Time{}
	b.lastSuccess = time.Time{}
	b.mu.Unlock()
}

func (b *CircuitBreaker) Snapshot() Snapshot {
	cb := b.current()
	state := fromGobreaker(cb.State())
	counts := cb.Counts()

	b.mu.Lock()
	s := Snapshot{
		Name:            b.name,
		State:           state,
		FailureCount:    b.failures,
		LastFailureTime: b.lastFailure,
		LastSuccessTime: b.lastSuccess,
		TransitionTime:  b.transition,
	}
	b.mu.Unlock()

	if state == StateHalfOpen {
		s.SuccessCount = int(counts.ConsecutiveSuccesses)
	}
	if state == StateOpen {
		s.NextAttempt = s.TransitionTime.Add(b.cfg.Timeout)
	}
	return s
}
