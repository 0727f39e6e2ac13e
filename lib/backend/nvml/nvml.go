// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nvml samples NVIDIA GPU utilization through the NVIDIA
// Management Library (libnvidia-ml), loaded at runtime by
// github.com/NVIDIA/go-nvml.
//
// NVML is initialized once per process. Every Provider takes a
// reference on the package-level [sharedlib.Library] at construction
// and drops it on Close, so the library stays loaded while any
// provider is open and is shut down exactly once after the last one
// closes.
//
// Builds without cgo, or for anything other than Linux, compile a stub
// whose initialization always fails, so the provider reports itself
// unavailable and the failover controller moves on.
package nvml

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/loadmeter/lib/provider"
	"github.com/bureau-foundation/loadmeter/lib/sharedlib"
)

// Kind is the configuration name of this backend.
const Kind = "nvml"

// AllDevices selects the busiest of every visible GPU.
const AllDevices = -1

// driver is the slice of NVML this package calls.
type driver interface {
	Init() error
	Shutdown() error
	DeviceCount() (int, error)
	Device(index int) (device, error)
}

type device interface {
	GPUUtilization() (uint32, error)
}

// native is the process-wide NVML binding and library its
// reference-counted lifecycle.
var (
	native  driver = nativeDriver{}
	library        = sharedlib.New("nvml", native.Init, native.Shutdown)
)

// Options configures a Provider.
type Options struct {
	// Device is the GPU index to sample, or AllDevices (the default
	// when constructed from configuration) for the busiest GPU.
	Device int
}

type handle struct {
	index  int
	device device
}

// Provider reads GPU utilization from one or all NVML devices.
type Provider struct {
	logger  *slog.Logger
	library *sharedlib.Library
	devices []handle
	closed  bool
}

var _ provider.Provider = (*Provider)(nil)

// New acquires the shared NVML library and resolves device handles.
// Fails with provider.ErrBackendUnavailable when NVML cannot be loaded
// or no matching device exists; the library reference is released on
// failure.
func New(logger *slog.Logger, options Options) (*Provider, error) {
	return newWithDriver(logger, options, library, native)
}

func newWithDriver(logger *slog.Logger, options Options, shared *sharedlib.Library, nvml driver) (*Provider, error) {
	if options.Device < AllDevices {
		return nil, fmt.Errorf("nvml device index must be %d or a GPU index, got %d", AllDevices, options.Device)
	}
	if err := shared.Acquire(); err != nil {
		return nil, fmt.Errorf("nvml: %w: %w", provider.ErrBackendUnavailable, err)
	}

	devices, err := openDevices(nvml, options.Device)
	if err != nil {
		if releaseErr := shared.Release(); releaseErr != nil {
			logger.Warn("releasing nvml after failed construction", "error", releaseErr)
		}
		return nil, err
	}
	logger.Debug("nvml provider opened devices", "count", len(devices), "device", options.Device)
	return &Provider{logger: logger, library: shared, devices: devices}, nil
}

func openDevices(nvml driver, selected int) ([]handle, error) {
	count, err := nvml.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("nvml: counting devices: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("nvml: no GPU present: %w", provider.ErrBackendUnavailable)
	}

	indices := []int{selected}
	if selected == AllDevices {
		indices = make([]int, count)
		for index := range indices {
			indices[index] = index
		}
	} else if selected >= count {
		return nil, fmt.Errorf("nvml: device %d requested, %d present: %w", selected, count, provider.ErrBackendUnavailable)
	}

	devices := make([]handle, 0, len(indices))
	for _, index := range indices {
		dev, err := nvml.Device(index)
		if err != nil {
			return nil, fmt.Errorf("nvml: device %d handle: %w", index, err)
		}
		devices = append(devices, handle{index: index, device: dev})
	}
	return devices, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Kind }

// Available reports whether the provider still holds device handles.
func (p *Provider) Available() bool { return !p.closed && len(p.devices) > 0 }

// Read returns the highest GPU utilization across the held devices.
func (p *Provider) Read(ctx context.Context) provider.Sample {
	value, err := p.busiest(ctx)
	return provider.Collapse(p.logger, Kind, value, err)
}

func (p *Provider) busiest(ctx context.Context) (float64, error) {
	if !p.Available() {
		return 0, fmt.Errorf("nvml: %w", provider.ErrBackendUnavailable)
	}
	best := -1.0
	var errs []error
	for _, h := range p.devices {
		utilization, err := provider.RetryOnce(ctx, func(context.Context) (float64, error) {
			value, err := h.device.GPUUtilization()
			return float64(value), err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", h.index, err))
			continue
		}
		best = max(best, utilization)
	}
	if best < 0 {
		return 0, errors.Join(errs...)
	}
	return best, nil
}

// Close drops the device handles and this provider's library
// reference. Idempotent.
func (p *Provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.devices = nil
	return p.library.Release()
}
