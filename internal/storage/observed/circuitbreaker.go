// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

package observed

import (
	"fmt"
	"sync"
	"time"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
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

// CircuitOpenError is returned by Call while the breaker is open.
type CircuitOpenError struct {
	CircuitName string
	RemainingMs int64
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q is open, retry in %dms", e.CircuitName, e.RemainingMs)
}

// CircuitBreakerConfig tunes trip/reset behavior. Zero values are replaced
// with the storage-suited defaults: 5 consecutive failures in a 60s window opens
// the circuit; after ResetTimeoutMs the next call probes half-open; 2
// consecutive half-open successes close it; any half-open failure reopens
// immediately.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	ResetTimeoutMs   int64
	FailureWindowMs  int64
	IsFailure        func(err error) bool
	OnStateChange    func(from, to State)
	Now              func() time.Time
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeoutMs <= 0 {
		c.ResetTimeoutMs = 30_000
	}
	if c.FailureWindowMs <= 0 {
		c.FailureWindowMs = 60_000
	}
	if c.IsFailure == nil {
		// NotFound is an expected outcome, never a circuit failure.
		c.IsFailure = func(err error) bool { return err != nil && !parqerr.Is(err, parqerr.KindNotFound) }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CircuitBreaker implements the CLOSED/OPEN/HALF_OPEN state machine guarding
// calls to a flaky dependency.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu               sync.Mutex
	state            State
	failureTimes     []time.Time
	consecutiveOK    int
	openedAt         time.Time
	halfOpenInFlight bool
}

// NewCircuitBreaker builds a breaker starting CLOSED.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// State reports the current state without mutating it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed right now, transitioning OPEN to
// HALF_OPEN once ResetTimeoutMs has elapsed. It reserves the single
// HALF_OPEN probe slot: concurrent callers during HALF_OPEN are rejected
// until that probe completes.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Now()
	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := now.Sub(cb.openedAt).Milliseconds()
		if elapsed < cb.cfg.ResetTimeoutMs {
			return &CircuitOpenError{CircuitName: cb.cfg.Name, RemainingMs: cb.cfg.ResetTimeoutMs - elapsed}
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenInFlight = true
		return nil
	case StateHalfOpen:
		if cb.halfOpenInFlight {
			return &CircuitOpenError{CircuitName: cb.cfg.Name, RemainingMs: 0}
		}
		cb.halfOpenInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenInFlight = false
		cb.consecutiveOK++
		if cb.consecutiveOK >= cb.cfg.SuccessThreshold {
			cb.failureTimes = nil
			cb.consecutiveOK = 0
			cb.transition(StateClosed)
		}
	case StateClosed:
		cb.failureTimes = nil
	}
}

// RecordFailure reports a failed call outcome. err is matched against the
// configured IsFailure predicate; errors that don't count as failures (e.g.
// NotFound, by default) leave the breaker's counters untouched.
func (cb *CircuitBreaker) RecordFailure(err error) {
	if !cb.cfg.IsFailure(err) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Now()
	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenInFlight = false
		cb.consecutiveOK = 0
		cb.openedAt = now
		cb.transition(StateOpen)
	case StateClosed:
		cb.failureTimes = append(cb.failureTimes, now)
		cb.failureTimes = pruneWindow(cb.failureTimes, now, cb.cfg.FailureWindowMs)
		if len(cb.failureTimes) >= cb.cfg.FailureThreshold {
			cb.failureTimes = nil
			cb.openedAt = now
			cb.transition(StateOpen)
		}
	}
}

func pruneWindow(times []time.Time, now time.Time, windowMs int64) []time.Time {
	cutoff := now.Add(-time.Duration(windowMs) * time.Millisecond)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		from, to := from, to
		go cb.cfg.OnStateChange(from, to)
	}
}

// Call runs fn guarded by the breaker: it fails fast with *CircuitOpenError
// while open, otherwise runs fn and records its outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		cb.RecordFailure(err)
		return err
	}
	cb.RecordSuccess()
	return nil
}
