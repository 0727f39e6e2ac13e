// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend turns the providers section of the configuration
// into the failover controller's priority list. Each subpackage wraps
// one measurement mechanism; this package only knows how to build
// them from a [config.ProviderConfig].
//
// When the configuration lists no providers, [Defaults] supplies the
// built-in order for the metric: native NVML, the amdgpu sensor ioctl,
// the generic DRM sysfs attribute, then the nvidia-smi tool for GPU;
// /proc/stat then gopsutil for CPU.
package backend

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/loadmeter/lib/backend/amdgpu"
	"github.com/bureau-foundation/loadmeter/lib/backend/command"
	"github.com/bureau-foundation/loadmeter/lib/backend/drmsysfs"
	"github.com/bureau-foundation/loadmeter/lib/backend/nvml"
	"github.com/bureau-foundation/loadmeter/lib/backend/procstat"
	"github.com/bureau-foundation/loadmeter/lib/backend/prometheus"
	"github.com/bureau-foundation/loadmeter/lib/backend/psutil"
	"github.com/bureau-foundation/loadmeter/lib/clock"
	"github.com/bureau-foundation/loadmeter/lib/config"
	"github.com/bureau-foundation/loadmeter/lib/failover"
	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// Environment holds the host paths and clock the backends read from.
// The zero value means the real machine.
type Environment struct {
	// SysRoot replaces /sys.
	SysRoot string

	// DevRoot replaces /dev/dri.
	DevRoot string

	// ProcStat replaces /proc/stat.
	ProcStat string

	// Clock drives settle waits and query timestamps. Default
	// clock.Real().
	Clock clock.Clock
}

// Defaults returns the built-in priority list for metric.
func Defaults(metric config.Metric) []config.ProviderConfig {
	switch metric {
	case config.CPU:
		return []config.ProviderConfig{
			{Kind: config.KindProcStat},
			{Kind: config.KindPsutil},
		}
	default:
		return []config.ProviderConfig{
			{Kind: config.KindNVML},
			{Kind: config.KindAMDGPU},
			{Kind: config.KindDRMSysfs},
			{Kind: config.KindNvidiaSMI},
		}
	}
}

// Slots builds one lazily constructed slot per entry. An empty entries
// list selects Defaults(metric). Nothing is constructed here; an
// unknown kind is the only error.
func Slots(logger *slog.Logger, metric config.Metric, entries []config.ProviderConfig, environment Environment) ([]failover.Slot, error) {
	if len(entries) == 0 {
		entries = Defaults(metric)
	}
	if environment.Clock == nil {
		environment.Clock = clock.Real()
	}

	slots := make([]failover.Slot, 0, len(entries))
	for i, entry := range entries {
		factory, err := factoryFor(logger, entry, environment)
		if err != nil {
			return nil, fmt.Errorf("providers[%d]: %w", i, err)
		}
		slots = append(slots, failover.Slot{Name: entry.SlotName(), New: factory})
	}
	return slots, nil
}

func factoryFor(logger *slog.Logger, entry config.ProviderConfig, environment Environment) (provider.Factory, error) {
	name := entry.SlotName()
	logger = logger.With("provider", name)

	switch entry.Kind {
	case config.KindNVML:
		options := nvml.Options{Device: entry.DeviceIndex()}
		return func() (provider.Provider, error) {
			return built(nvml.New(logger, options))
		}, nil

	case config.KindAMDGPU:
		options := amdgpu.Options{SysRoot: environment.SysRoot, DevRoot: environment.DevRoot}
		return func() (provider.Provider, error) {
			return built(amdgpu.New(logger, options))
		}, nil

	case config.KindDRMSysfs:
		return func() (provider.Provider, error) {
			return built(drmsysfs.New(logger, environment.SysRoot))
		}, nil

	case config.KindNvidiaSMI:
		options := command.NvidiaSMI()
		options.Timeout = entry.Timeout
		return func() (provider.Provider, error) {
			return built(command.New(logger, options))
		}, nil

	case config.KindCommand:
		options := command.Options{
			Name:    name,
			Argv:    append([]string(nil), entry.Command...),
			Timeout: entry.Timeout,
		}
		return func() (provider.Provider, error) {
			return built(command.New(logger, options))
		}, nil

	case config.KindProcStat:
		options := procstat.Options{Path: environment.ProcStat, Clock: environment.Clock}
		return func() (provider.Provider, error) {
			return built(procstat.New(logger, options))
		}, nil

	case config.KindPsutil:
		return func() (provider.Provider, error) {
			return built(psutil.New(logger))
		}, nil

	case config.KindPrometheus:
		options := prometheus.Options{
			Name:    name,
			Address: entry.Address,
			Query:   entry.Query,
			Scale:   entry.Scale,
			Timeout: entry.Timeout,
			Clock:   environment.Clock,
		}
		return func() (provider.Provider, error) {
			return built(prometheus.New(logger, options))
		}, nil

	default:
		return nil, fmt.Errorf("unknown provider kind %q", entry.Kind)
	}
}

// built drops the concrete pointer on failure so the controller never
// sees a non-nil interface wrapping a nil provider.
func built[P provider.Provider](instance P, err error) (provider.Provider, error) {
	if err != nil {
		return nil, err
	}
	return instance, nil
}
