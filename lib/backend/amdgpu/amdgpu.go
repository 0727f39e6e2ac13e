// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package amdgpu samples AMD GPU load through the amdgpu kernel
// driver's AMDGPU_INFO_SENSOR ioctl on DRM render nodes
// (/dev/dri/renderD*), the interface rocm-smi uses internally. Requires
// video or render group membership.
//
// No cgo is required: the ioctl is issued with golang.org/x/sys/unix
// using the kernel UAPI struct layout.
//
// The provider opens every amdgpu render node at construction and
// holds the descriptors until Close. A read reports the busiest GPU.
package amdgpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/loadmeter/lib/hwinfo"
	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// Kind is the configuration name of this backend.
const Kind = "amdgpu"

// DefaultDevRoot is where render nodes live on a live system.
const DefaultDevRoot = "/dev/dri"

// sensorGPULoad is AMDGPU_SENSOR_GPU_LOAD: utilization percent, 0-100.
const sensorGPULoad = 0x4

// Options configures a Provider. Zero fields take live-system defaults.
type Options struct {
	// SysRoot is the sysfs mount point. Default /sys.
	SysRoot string

	// DevRoot is the directory holding render nodes. Default /dev/dri.
	DevRoot string
}

// sensorQuery issues one sensor query against an open render node.
type sensorQuery func(fd uintptr, sensorType uint32) (uint32, error)

type renderNode struct {
	card  string
	label string
	file  *os.File
}

// Provider reads GPU_LOAD from every amdgpu render node it holds open.
type Provider struct {
	logger *slog.Logger
	nodes  []renderNode
	query  sensorQuery
	closed bool
}

var (
	_ provider.Provider  = (*Provider)(nil)
	_ provider.Describer = (*Provider)(nil)
)

// New discovers amdgpu cards and opens their render nodes. A card whose
// render node cannot be opened (missing permissions) is logged and
// skipped. Fails with provider.ErrBackendUnavailable if no render node
// could be opened.
func New(logger *slog.Logger, options Options) (*Provider, error) {
	return newWithQuery(logger, options, querySensor)
}

func newWithQuery(logger *slog.Logger, options Options, query sensorQuery) (*Provider, error) {
	if options.SysRoot == "" {
		options.SysRoot = hwinfo.DefaultSysRoot
	}
	if options.DevRoot == "" {
		options.DevRoot = DefaultDevRoot
	}

	cards, err := hwinfo.Cards(options.SysRoot)
	if err != nil {
		return nil, fmt.Errorf("amdgpu: %w: %w", provider.ErrBackendUnavailable, err)
	}

	result := &Provider{logger: logger, query: query}
	for _, card := range cards {
		if card.Driver != "amdgpu" {
			continue
		}
		renderPath := renderNodeForDevice(card.DevicePath, options.SysRoot, options.DevRoot)
		if renderPath == "" {
			logger.Warn("no render node found for amdgpu device", "card", card.Name)
			continue
		}
		file, err := os.OpenFile(renderPath, os.O_RDWR, 0)
		if err != nil {
			logger.Warn("cannot open amdgpu render node",
				"card", card.Name,
				"render_node", renderPath,
				"error", err)
			continue
		}
		result.nodes = append(result.nodes, renderNode{card: card.Name, label: card.Label(), file: file})
	}

	if len(result.nodes) == 0 {
		return nil, fmt.Errorf("amdgpu: no usable render node: %w", provider.ErrBackendUnavailable)
	}
	logger.Debug("amdgpu provider opened render nodes", "gpus", result.Devices())
	return result, nil
}

// Devices implements provider.Describer.
func (p *Provider) Devices() []string {
	labels := make([]string, 0, len(p.nodes))
	for _, node := range p.nodes {
		labels = append(labels, node.label)
	}
	return labels
}

// renderNodeForDevice finds the render node for the same PCI device as
// a card. Card and render node indices need not match (card0 may be
// renderD129), so both device symlinks are resolved and compared.
func renderNodeForDevice(devicePath, sysRoot, devRoot string) string {
	cardPCIPath, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return ""
	}

	drmBase := filepath.Join(sysRoot, "class/drm")
	entries, err := os.ReadDir(drmBase)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "renderD") {
			continue
		}
		renderPCIPath, err := filepath.EvalSymlinks(filepath.Join(drmBase, name, "device"))
		if err != nil {
			continue
		}
		if renderPCIPath == cardPCIPath {
			return filepath.Join(devRoot, name)
		}
	}
	return ""
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Kind }

// Available reports whether any render node is still open.
func (p *Provider) Available() bool { return !p.closed && len(p.nodes) > 0 }

// Read returns the highest GPU_LOAD across the open render nodes.
// Nodes whose query fails are ignored unless all of them fail.
func (p *Provider) Read(ctx context.Context) provider.Sample {
	value, err := p.busiest(ctx)
	return provider.Collapse(p.logger, Kind, value, err)
}

func (p *Provider) busiest(ctx context.Context) (float64, error) {
	if !p.Available() {
		return 0, fmt.Errorf("amdgpu: %w", provider.ErrBackendUnavailable)
	}

	best := -1.0
	var errs []error
	for _, node := range p.nodes {
		fd := node.file.Fd()
		load, err := provider.RetryOnce(ctx, func(context.Context) (float64, error) {
			value, err := p.query(fd, sensorGPULoad)
			return float64(value), err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", node.card, err))
			continue
		}
		best = max(best, load)
	}
	if best < 0 {
		return 0, errors.Join(errs...)
	}
	return best, nil
}

// Close closes every render node. Idempotent.
func (p *Provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, node := range p.nodes {
		if err := node.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s render node: %w", node.card, err))
		}
	}
	p.nodes = nil
	return errors.Join(errs...)
}
