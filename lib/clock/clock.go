// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time source used by loadmeter's polling
// path. The meter stamps every sample with Clock.Now, the stabilizer's
// grace window is measured between those stamps, the CPU counter
// backend waits out its settle interval with Clock.After, and the
// daemon drives its poll loop from Clock.NewTicker.
//
// Production code uses [Real]. Tests use [Fake], whose time moves only
// when Advance is called, so grace-window and settle behavior can be
// asserted without sleeping.
package clock

import "time"

// Clock is the subset of the time package that loadmeter depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. C has capacity 1; a consumer
// that falls behind loses ticks instead of queuing them, which is the
// behavior a poll loop wants.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }
