// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile remembers which provider was working when the
// daemon last ran, so a restart can go straight back to it instead of
// rescanning from the top of the priority list.
//
// The file holds a [State]: the active provider's name, the last
// stable value, and when it was written. It is CBOR encoded through
// lib/codec and written atomically (write to temporary file, fsync,
// rename into place, fsync parent directory) so a crash mid-write
// leaves either the old state or the new one, never a torn file.
// [Check] ignores files older than a maximum age, so a hint from a
// machine whose GPU has since been swapped out goes stale on its own.
//
// Only the provider name is meant to be restored. The stable value is
// recorded for diagnostics; the stabilizer always starts from the
// unsupported sentinel.
package statefile
