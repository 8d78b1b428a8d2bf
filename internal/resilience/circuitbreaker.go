// Package resilience keeps a conversation talking when a speech or language
// backend misbehaves.
//
// Each backend sits behind a [CircuitBreaker]. A [FallbackGroup] orders a
// primary and its backups and routes every call to the first backend whose
// breaker admits it. The typed wrappers ([LLMFallback], [STTFallback],
// [TTSFallback]) implement the provider interfaces so sessions never know a
// failover happened.
//
// Calls that end because the caller cancelled them (a barge-in, a closed
// session) say nothing about provider health and are not counted as failures.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/novo-avatar/novo/internal/clock"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until ResetTimeout has
	// passed since the last failure.
	StateOpen

	// StateHalfOpen admits up to HalfOpenMax probe calls. One failed probe
	// re-opens the breaker; HalfOpenMax successful probes close it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name identifies the backend in logs and state change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget of the half-open state. Default: 3.
	HalfOpenMax int

	// Clock supplies the time used for the reset timeout. Default: the wall
	// clock.
	Clock clock.Clock

	// Logger receives state transitions. Default: slog.Default().
	Logger *slog.Logger

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock. It must not block.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
// It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// transition records a state change to report once the lock is released.
type transition struct {
	from, to State
	changed  bool
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero-value config
// fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn if the breaker admits the call and returns fn's error. A
// rejected call returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, tr, err := cb.admit()
	cb.report(tr)
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	switch {
	case err == nil:
		tr = cb.onSuccess(probe)
	case IsCancellation(err):
		// The outcome is unknown; give the probe slot back.
		if probe {
			cb.probes--
		}
	default:
		tr = cb.onFailure(probe)
	}
	cb.mu.Unlock()
	cb.report(tr)
	return err
}

// IsCancellation reports whether err stems from the caller cancelling the
// call rather than from the provider failing.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, tr transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Clock.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, tr, ErrCircuitOpen
		}
		tr = cb.set(StateHalfOpen)
		cb.probes, cb.probeSuccesses = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, tr, ErrCircuitOpen
		}
		cb.probes++
		return true, tr, nil
	}
	return false, tr, nil
}

// onFailure must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure(probe bool) transition {
	if probe {
		cb.openedAt = cb.cfg.Clock.Now()
		return cb.set(StateOpen)
	}
	if cb.state != StateClosed {
		// A call admitted while closed finished after another call opened
		// the breaker; the open period already started.
		return transition{}
	}
	cb.consecutiveFail++
	if cb.consecutiveFail < cb.cfg.MaxFailures {
		return transition{}
	}
	cb.openedAt = cb.cfg.Clock.Now()
	return cb.set(StateOpen)
}

// onSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess(probe bool) transition {
	if !probe {
		cb.consecutiveFail = 0
		return transition{}
	}
	if cb.state != StateHalfOpen {
		return transition{}
	}
	cb.probeSuccesses++
	if cb.probeSuccesses < cb.cfg.HalfOpenMax {
		return transition{}
	}
	cb.consecutiveFail = 0
	return cb.set(StateClosed)
}

// set must be called with cb.mu held.
func (cb *CircuitBreaker) set(to State) transition {
	tr := transition{from: cb.state, to: to, changed: cb.state != to}
	cb.state = to
	return tr
}

func (cb *CircuitBreaker) report(tr transition) {
	if !tr.changed {
		return
	}
	level := slog.LevelInfo
	if tr.to == StateOpen {
		level = slog.LevelWarn
	}
	cb.cfg.Logger.Log(context.Background(), level, "circuit breaker state changed",
		"name", cb.cfg.Name, "from", tr.from.String(), "to", tr.to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, tr.from, tr.to)
	}
}

// State returns the breaker's state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Clock.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}
