// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sharedlib reference-counts process-wide native library
// initialization.
//
// Some vendor libraries (NVML is the motivating case) must be
// initialized once per process and shut down only when nothing in the
// process still uses them. Several provider instances may share one
// such library. A [Library] owns that lifecycle: the first [Library.Acquire]
// runs the init function, later acquires only increment a counter,
// each [Library.Release] decrements it, and the transition to zero runs
// the shutdown function. After shutdown the library can be acquired
// (and initialized) again.
//
// The counter is guarded by a mutex owned by the Library, independent
// of any provider instance.
package sharedlib

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotAcquired is returned by Release when the reference count is
// already zero.
var ErrNotAcquired = errors.New("library released more times than acquired")

// Library is a reference-counted handle on a process-wide native
// dependency. The zero value is not usable; construct with New.
type Library struct {
	name     string
	initFn   func() error
	shutdown func() error

	mu         sync.Mutex
	references int
}

// New returns a Library that calls initFn on the first acquire and
// shutdown when the last reference is released. The name appears in
// error messages.
func New(name string, initFn func() error, shutdown func() error) *Library {
	return &Library{
		name:     name,
		initFn:   initFn,
		shutdown: shutdown,
	}
}

// Name returns the library name given to New.
func (l *Library) Name() string { return l.name }

// Acquire takes a reference, initializing the library if this is the
// first one. A failed initialization leaves the count at zero, so a
// later Acquire will try again.
func (l *Library) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.references == 0 {
		if err := l.initFn(); err != nil {
			return fmt.Errorf("initializing %s: %w", l.name, err)
		}
	}
	l.references++
	return nil
}

// Release drops a reference. When the count reaches zero the library
// is shut down. The reference is dropped even if shutdown fails; the
// shutdown error is returned for the caller to log.
func (l *Library) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.references == 0 {
		return fmt.Errorf("%s: %w", l.name, ErrNotAcquired)
	}
	l.references--
	if l.references > 0 {
		return nil
	}
	if err := l.shutdown(); err != nil {
		return fmt.Errorf("shutting down %s: %w", l.name, err)
	}
	return nil
}

// References returns the current reference count.
func (l *Library) References() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.references
}
