// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux && cgo)

package nvml

import (
	"fmt"

	"github.com/bureau-foundation/loadmeter/lib/provider"
)

var errNoNative = fmt.Errorf("nvml requires a linux build with cgo: %w", provider.ErrBackendUnavailable)

type nativeDriver struct{}

func (nativeDriver) Init() error { return errNoNative }

func (nativeDriver) Shutdown() error { return nil }

func (nativeDriver) DeviceCount() (int, error) { return 0, errNoNative }

func (nativeDriver) Device(int) (device, error) { return nil, errNoNative }
