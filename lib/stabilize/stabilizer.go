// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stabilize turns the failover controller's raw samples into
// a value suitable for continuous display.
//
// Three mechanisms act on every update:
//
//   - Failure holding: an Unavailable sample never changes the output.
//     The last stable value is frozen (or the unsupported sentinel is
//     kept if nothing valid was ever seen). [Stabilizer.Holding]
//     reports whether the failure is still inside the grace window.
//   - Zero confirmation: a drop to exactly 0 is only trusted after
//     ZeroConfirm consecutive zero samples, which hides single-tick
//     undercounts from counters that briefly report idle.
//   - Exponential smoothing with factor Alpha, except for the first
//     valid sample, which is taken verbatim.
//
// The Stabilizer does no I/O and has no goroutines. Update is safe for
// concurrent use; all state changes happen under one mutex.
package stabilize

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// Config holds the tuning parameters. All are externally configurable;
// DefaultConfig documents the defaults.
type Config struct {
	// FailGrace is how long after the last valid sample a failure
	// still counts as transient. Output is frozen either way; the
	// window only affects Holding.
	FailGrace time.Duration

	// Alpha is the smoothing factor in (0,1). Higher values track new
	// samples faster.
	Alpha float64

	// ZeroConfirm is how many consecutive zero samples are required
	// before a positive output is allowed to move toward zero.
	ZeroConfirm int

	// UnsupportedValue is emitted until the first valid sample. It
	// must be distinguishable from a real reading, so it has to lie
	// outside [0,100].
	UnsupportedValue int
}

// Default tuning.
const (
	DefaultFailGrace        = 5 * time.Second
	DefaultAlpha            = 0.4
	DefaultZeroConfirm      = 3
	DefaultUnsupportedValue = -1
)

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FailGrace:        DefaultFailGrace,
		Alpha:            DefaultAlpha,
		ZeroConfirm:      DefaultZeroConfirm,
		UnsupportedValue: DefaultUnsupportedValue,
	}
}

// Validate reports every out-of-range parameter.
func (c Config) Validate() error {
	var errs []error
	if c.FailGrace < 0 {
		errs = append(errs, fmt.Errorf("fail_grace must not be negative, got %v", c.FailGrace))
	}
	if !(c.Alpha > 0 && c.Alpha < 1) {
		errs = append(errs, fmt.Errorf("alpha must be in (0,1), got %v", c.Alpha))
	}
	if c.ZeroConfirm < 1 {
		errs = append(errs, fmt.Errorf("zero_confirm must be at least 1, got %d", c.ZeroConfirm))
	}
	if c.UnsupportedValue >= 0 && c.UnsupportedValue <= 100 {
		errs = append(errs, fmt.Errorf("unsupported_value must lie outside [0,100], got %d", c.UnsupportedValue))
	}
	return errors.Join(errs...)
}

// Snapshot is a copy of the Stabilizer's state.
type Snapshot struct {
	// Stable is the last emitted value, or UnsupportedValue.
	Stable int

	// Supported is true once any valid sample has been observed.
	Supported bool

	// ZeroStreak counts consecutive valid zero samples.
	ZeroStreak int

	// LastGood is the timestamp of the last valid sample; zero before
	// the first one.
	LastGood time.Time
}

// Stabilizer is the stateful filter. Construct with New.
type Stabilizer struct {
	config Config

	mu         sync.Mutex
	stable     int
	supported  bool
	zeroStreak int
	lastGood   time.Time
}

// New returns a Stabilizer in its initial state. The config is
// validated.
func New(config Config) (*Stabilizer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stabilizer config: %w", err)
	}
	return &Stabilizer{
		config: config,
		stable: config.UnsupportedValue,
	}, nil
}

// Config returns the parameters the Stabilizer was built with.
func (s *Stabilizer) Config() Config { return s.config }

// Update consumes one raw sample taken at now and returns the value to
// display: a percentage in [0,100] once any valid sample has been
// seen, UnsupportedValue before that.
func (s *Stabilizer) Update(sample provider.Sample, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, valid := sample.Value()
	if !valid {
		return s.stable
	}
	s.lastGood = now

	if raw == 0 {
		s.zeroStreak++
		if s.supported && s.stable > 0 && s.zeroStreak < s.config.ZeroConfirm {
			return s.stable
		}
	} else {
		s.zeroStreak = 0
	}

	s.stable = s.smooth(raw)
	s.supported = true
	return s.stable
}

// smooth moves stable toward raw. Must be called with s.mu held.
func (s *Stabilizer) smooth(raw int) int {
	if !s.supported {
		return raw
	}
	return clampPercent(int(math.Round(float64(s.stable) + s.config.Alpha*float64(raw-s.stable))))
}

// Holding reports whether the stabilizer is inside the grace window:
// a valid sample has been seen and now is at most FailGrace after it.
// A caller can use this to decide when a frozen value has gone stale.
func (s *Stabilizer) Holding(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supported && now.Sub(s.lastGood) <= s.config.FailGrace
}

// Reset discards all history and returns to the initial state.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stable = s.config.UnsupportedValue
	s.supported = false
	s.zeroStreak = 0
	s.lastGood = time.Time{}
}

// Snapshot returns a copy of the current state.
func (s *Stabilizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Stable:     s.stable,
		Supported:  s.supported,
		ZeroStreak: s.zeroStreak,
		LastGood:   s.lastGood,
	}
}

func clampPercent(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
