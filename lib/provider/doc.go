// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the contract between loadmeter's failover
// controller and the concrete measurement backends that produce raw
// utilization samples.
//
// A [Provider] wraps exactly one backend: a vendor native library, an
// OS counter, an external command, or a remote query endpoint. The
// controller only ever sees the interface. Backends report results as
// a [Sample], which is either a percentage in [0,100] or [Unavailable].
// There is no third outcome: every internal error (missing library,
// non-success return code, parse failure, subprocess timeout) collapses
// to Unavailable at the provider boundary, and every successful raw
// value is clamped by [Percent] before it leaves the backend.
//
// The error values [ErrBackendUnavailable], [ErrTransient], and
// [ErrTimeout] classify failures inside a backend (for logging and for
// the single permitted retry in [RetryOnce]). They never cross the
// Provider boundary.
package provider
