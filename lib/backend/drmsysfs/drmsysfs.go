// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package drmsysfs samples GPU load from the gpu_busy_percent attribute
// that amdgpu and several other DRM drivers expose in sysfs:
//
//	/sys/class/drm/card0/device/gpu_busy_percent
//
// It needs no device permissions, which makes it the fallback when the
// render node ioctl is not accessible. A read reports the busiest card.
package drmsysfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/loadmeter/lib/hwinfo"
	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// Kind is the configuration name of this backend.
const Kind = "drm-sysfs"

const busyAttribute = "gpu_busy_percent"

// Provider reads gpu_busy_percent for every card that exposes it.
type Provider struct {
	logger *slog.Logger
	paths  map[string]string // card name to attribute path
	cards  []string          // sorted card names
	labels []string          // cards with their PCI vendor
	closed bool
}

var (
	_ provider.Provider  = (*Provider)(nil)
	_ provider.Describer = (*Provider)(nil)
)

// New finds the cards under sysRoot (default /sys) that expose
// gpu_busy_percent. Fails with provider.ErrBackendUnavailable if none
// do.
func New(logger *slog.Logger, sysRoot string) (*Provider, error) {
	if sysRoot == "" {
		sysRoot = hwinfo.DefaultSysRoot
	}
	cards, err := hwinfo.Cards(sysRoot)
	if err != nil {
		return nil, fmt.Errorf("drm-sysfs: %w: %w", provider.ErrBackendUnavailable, err)
	}

	result := &Provider{logger: logger, paths: make(map[string]string)}
	for _, card := range cards {
		path := filepath.Join(card.DevicePath, busyAttribute)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		result.paths[card.Name] = path
		result.cards = append(result.cards, card.Name)
		result.labels = append(result.labels, card.Label())
	}
	if len(result.cards) == 0 {
		return nil, fmt.Errorf("drm-sysfs: no card exposes %s: %w", busyAttribute, provider.ErrBackendUnavailable)
	}
	logger.Debug("drm-sysfs provider found cards", "cards", result.labels)
	return result, nil
}

// Devices implements provider.Describer.
func (p *Provider) Devices() []string {
	return append([]string(nil), p.labels...)
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Kind }

// Available reports whether any busy attribute is still present.
// Attributes vanish when a device is unbound or hot-unplugged.
func (p *Provider) Available() bool {
	if p.closed {
		return false
	}
	for _, card := range p.cards {
		if _, err := os.Stat(p.paths[card]); err == nil {
			return true
		}
	}
	return false
}

// Read returns the highest gpu_busy_percent across the cards.
func (p *Provider) Read(ctx context.Context) provider.Sample {
	value, err := p.busiest()
	return provider.Collapse(p.logger, Kind, value, err)
}

func (p *Provider) busiest() (float64, error) {
	if p.closed {
		return 0, fmt.Errorf("drm-sysfs: %w", provider.ErrBackendUnavailable)
	}
	best, found := 0, false
	var errs []error
	for _, card := range p.cards {
		busy, err := hwinfo.ReadSysfsInt(p.paths[card])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", card, err))
			continue
		}
		if !found || busy > best {
			best, found = busy, true
		}
	}
	if !found {
		return 0, errors.Join(errs...)
	}
	return float64(best), nil
}

// Close marks the provider closed. Attribute files are opened per read.
func (p *Provider) Close() error {
	p.closed = true
	return nil
}
