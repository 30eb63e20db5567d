// Copyright (c) BEADS Authors
// SPDX-License-Identifier: Apache-2.0

// Package breaker provides a circuit breaker for controller dials.
//
// When the controller is down, every accepted switch would otherwise burn a
// full dial timeout before being dropped. The breaker opens after repeated
// dial failures so subsequent accepts fail fast, then probes the controller
// again after a reset interval.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration.
type Config struct {
	// MaxFailures is the number of consecutive dial failures before
	// opening the circuit.
	MaxFailures int
	// ResetTimeout is how long to stay open before allowing a probe dial.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive probe successes
	// required to close the circuit again.
	SuccessThreshold int
}

// Breaker tracks controller reachability across dial attempts.
type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	onStateChange func(from, to State)
}

// New creates a circuit breaker, applying defaults for zero config fields.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout == 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a dial attempt may proceed. It returns ErrOpen while
// the circuit is open and the reset timeout has not elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.setState(StateHalfOpen)
	}
	return nil
}

// Record feeds the outcome of a dial attempt back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		switch b.state {
		case StateClosed:
			if b.failures >= b.cfg.MaxFailures {
				b.setState(StateOpen)
			}
		case StateHalfOpen:
			// probe failed, back off again
			b.setState(StateOpen)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setState(StateClosed)
		}
	}
}

// setState transitions the breaker; callers must hold b.mu.
func (b *Breaker) setState(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	switch next {
	case StateOpen:
		b.openedAt = time.Now()
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	}

	if b.onStateChange != nil {
		go b.onStateChange(prev, next)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnStateChange registers a callback invoked on every state transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}
