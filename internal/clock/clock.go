// Copyright (c) 2026 Keyward Team
// Keyward - minion key lifecycle manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package clock provides an abstraction over time.Now for testability.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the wall clock.
var System Clock = systemClock{}

var (
	mu           sync.RWMutex
	defaultClock = System
)

// Now returns the time of the package clock.
func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return defaultClock.Now()
}

// Set replaces the package clock. Tests may set a Fake.
func Set(c Clock) {
	mu.Lock()
	defer mu.Unlock()
	defaultClock = c
}

// Reset restores the system clock.
func Reset() { Set(System) }

// Fake is a manually advanced clock.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

// NewFake returns a Fake stopped at t.
func NewFake(t time.Time) *Fake { return &Fake{t: t} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}
