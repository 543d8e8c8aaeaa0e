/*
Copyright 2026 The rowforge Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package breaker implements a circuit breaker protecting a downstream
// dependency from being hammered during an outage.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without invoking the
// wrapped operation. Distinguishable from downstream failures so callers can
// report short-circuits separately.
var ErrOpen = errors.New("circuit breaker is open")

// State of the breaker.
type State int

const (
	// Closed lets calls through and counts consecutive failures.
	Closed State = iota
	// Open rejects calls immediately until the cooldown elapses.
	Open
	// HalfOpen admits exactly one probe call to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is safe for concurrent use: all state transitions happen under one
// mutex, while the wrapped operation itself runs unlocked.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	threshold int
	timeout   time.Duration

	now func() time.Time // test hook
}

// New returns a closed breaker that opens after threshold consecutive
// failures and probes recovery timeout after the last failure.
func New(threshold int, timeout time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		state:     Closed,
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Execute runs op under the breaker's state machine. While open it returns
// ErrOpen without calling op. The open -> half-open transition is evaluated
// lazily on the next call, not by a background timer.
func (b *Breaker) Execute(op func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := op()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) < b.timeout {
			return ErrOpen
		}
		b.state = HalfOpen
		b.probing = false
		fallthrough
	case HalfOpen:
		if b.probing {
			// A probe is already in flight; only one call may test recovery.
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = Closed
		b.failures = 0
		b.probing = false
		return
	}

	switch b.state {
	case HalfOpen:
		// The probe failed: back to open with a fresh cooldown.
		b.state = Open
		b.lastFailure = b.now()
		b.probing = false
	default:
		b.failures++
		b.lastFailure = b.now()
		if b.failures >= b.threshold {
			b.state = Open
		}
	}
}

// State returns the current state, applying the lazy open -> half-open
// transition so introspection agrees with what the next call would see.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.lastFailure) >= b.timeout {
		return HalfOpen
	}
	return b.state
}

// IsOpen reports whether calls are currently rejected outright.
func (b *Breaker) IsOpen() bool {
	return b.State() == Open
}
