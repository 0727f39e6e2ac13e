// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux && cgo

package nvml

import (
	"errors"
	"fmt"

	gonvml "github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// nativeDriver calls libnvidia-ml through go-nvml, which dlopens the
// library inside Init and unloads it inside Shutdown.
type nativeDriver struct{}

func (nativeDriver) Init() error { return check(gonvml.Init()) }

func (nativeDriver) Shutdown() error { return check(gonvml.Shutdown()) }

func (nativeDriver) DeviceCount() (int, error) {
	count, ret := gonvml.DeviceGetCount()
	if err := check(ret); err != nil {
		return 0, err
	}
	return count, nil
}

func (nativeDriver) Device(index int) (device, error) {
	handle, ret := gonvml.DeviceGetHandleByIndex(index)
	if err := check(ret); err != nil {
		return nil, err
	}
	return nativeDevice{handle: handle}, nil
}

type nativeDevice struct {
	handle gonvml.Device
}

func (d nativeDevice) GPUUtilization() (uint32, error) {
	rates, ret := d.handle.GetUtilizationRates()
	if err := check(ret); err != nil {
		return 0, err
	}
	return rates.Gpu, nil
}

// check maps an NVML return code onto the provider error taxonomy.
func check(ret gonvml.Return) error {
	switch ret {
	case gonvml.SUCCESS:
		return nil
	case gonvml.ERROR_TIMEOUT, gonvml.ERROR_IN_USE:
		return fmt.Errorf("%w: %s", provider.ErrTransient, gonvml.ErrorString(ret))
	case gonvml.ERROR_LIBRARY_NOT_FOUND, gonvml.ERROR_DRIVER_NOT_LOADED,
		gonvml.ERROR_NOT_SUPPORTED, gonvml.ERROR_GPU_IS_LOST, gonvml.ERROR_NO_PERMISSION:
		return fmt.Errorf("%w: %s", provider.ErrBackendUnavailable, gonvml.ErrorString(ret))
	default:
		return errors.New(gonvml.ErrorString(ret))
	}
}
