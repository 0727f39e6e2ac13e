// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"log/slog"
)

// Provider wraps one measurement backend. Implementations must be safe
// to call from the controller's polling goroutine; the controller
// serializes calls, so a Provider need not be safe for concurrent use.
type Provider interface {
	// Name identifies the backend in logs, metrics, and the state file
	// (e.g., "nvml", "amdgpu", "command:vendor-tool").
	Name() string

	// Read performs one measurement. It must return within the
	// backend's own upper bound even if ctx has no deadline: native
	// calls are effectively immediate, counter reads take a few
	// milliseconds, subprocess and network backends enforce a
	// configured timeout. Any failure is reported as Unavailable.
	Read(ctx context.Context) Sample

	// Available is a cheap best-effort check that attempting Read is
	// worthwhile on this platform. It does not guarantee success.
	Available() bool

	// Close releases the owned native handle, if any, and drops any
	// shared library reference. Idempotent and safe to call when Read
	// never succeeded.
	Close() error
}

// Describer is implemented by providers that can name the devices
// they read, for diagnostics such as the --list output.
type Describer interface {
	Devices() []string
}

// Factory constructs a Provider. A returned error means the backend
// cannot work in this process (library absent, no matching hardware,
// invalid options); the controller never calls the factory again.
type Factory func() (Provider, error)

var (
	// ErrBackendUnavailable marks a dependency that is missing or
	// unusable on this platform for the lifetime of the process.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrTransient marks a single failed call that may succeed on the
	// next attempt.
	ErrTransient = errors.New("transient read failure")

	// ErrTimeout marks a bounded wait that expired before the backend
	// produced a result.
	ErrTimeout = errors.New("read timed out")
)

// RetryOnce runs measure, and runs it exactly once more if the first
// attempt failed with an error wrapping ErrTransient. The second
// attempt's result is final whatever it is.
func RetryOnce(ctx context.Context, measure func(context.Context) (float64, error)) (float64, error) {
	value, err := measure(ctx)
	if err == nil || !errors.Is(err, ErrTransient) {
		return value, err
	}
	if ctx.Err() != nil {
		return 0, err
	}
	return measure(ctx)
}

// Collapse converts a backend's (value, error) pair into a Sample. A
// non-nil error is logged at debug level under the provider's name and
// yields Unavailable; otherwise the value is clamped by Percent.
func Collapse(logger *slog.Logger, name string, value float64, err error) Sample {
	if err != nil {
		logger.Debug("provider read failed",
			"provider", name,
			"error", err)
		return Unavailable()
	}
	return Percent(value)
}
