// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package amdgpu

import (
	"fmt"

	"github.com/bureau-foundation/loadmeter/lib/provider"
)

func querySensor(uintptr, uint32) (uint32, error) {
	return 0, fmt.Errorf("amdgpu sensor ioctl requires linux: %w", provider.ErrBackendUnavailable)
}
