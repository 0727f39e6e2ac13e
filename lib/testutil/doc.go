// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so that tests asserting "this read returns within its bound"
// do not each call time.After. They are the only place in the test
// suite where a real wall-clock timeout is used; everything else runs
// on lib/clock's fake clock.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
