// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the entrypoint error handler for the
// loadmeter binary. [Fatal] is the one place raw output goes to stderr
// before the structured logger exists (a bad flag, an unreadable
// config file) or after run() has returned.
package process
