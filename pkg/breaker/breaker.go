// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package breaker implements a circuit breaker for remote catalog
// backends. A backend that keeps failing is taken out of rotation for
// a cooldown period instead of being hammered on every lookup.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker refuses a call without trying
// the backend.
var ErrOpen = errors.New("breaker: circuit open")

// State is the breaker state.
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

// Config holds breaker tuning. Zero values get sensible defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that
	// opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe
	// call is let through.
	Cooldown time.Duration
	// SuccessThreshold is the number of consecutive probe successes
	// that closes the circuit again.
	SuccessThreshold int
	// OnStateChange, if set, is called synchronously on every
	// transition.
	OnStateChange func(name string, from, to State)
}

// Breaker guards calls to a single named backend.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New returns a closed breaker for the named backend.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Call runs fn if the circuit admits it. Context cancellation before
// the call counts as neither success nor failure, and a cancelled
// context during the call is not held against the backend.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.admit() {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}

	err := fn(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		return err
	}
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		switch b.state {
		case StateClosed:
			b.failures = 0
		case StateHalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.successes = 0
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens immediately.
		b.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Name returns the backend name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
