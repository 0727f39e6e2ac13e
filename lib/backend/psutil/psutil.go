// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package psutil samples host CPU utilization through gopsutil, which
// covers platforms without a Linux /proc. gopsutil keeps its own
// previous-call counters, so an interval of zero yields the
// utilization since the last call without blocking.
package psutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// Kind is the configuration name of this backend.
const Kind = "psutil"

// percentFunc matches cpu.PercentWithContext.
type percentFunc func(ctx context.Context, interval time.Duration, perCPU bool) ([]float64, error)

// Provider reads aggregate CPU utilization from gopsutil.
type Provider struct {
	logger  *slog.Logger
	percent percentFunc
	closed  bool
}

var _ provider.Provider = (*Provider)(nil)

// New primes gopsutil's counters with one call. Fails with
// provider.ErrBackendUnavailable if the platform is unsupported.
func New(logger *slog.Logger) (*Provider, error) {
	return newWithPercent(logger, cpu.PercentWithContext)
}

func newWithPercent(logger *slog.Logger, percent percentFunc) (*Provider, error) {
	if _, err := percent(context.Background(), 0, false); err != nil {
		return nil, fmt.Errorf("psutil: %w: %w", provider.ErrBackendUnavailable, err)
	}
	return &Provider{logger: logger, percent: percent}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Kind }

// Available reports whether the provider is open.
func (p *Provider) Available() bool { return !p.closed }

// Read returns CPU utilization since the previous call.
func (p *Provider) Read(ctx context.Context) provider.Sample {
	value, err := p.measure(ctx)
	return provider.Collapse(p.logger, Kind, value, err)
}

func (p *Provider) measure(ctx context.Context) (float64, error) {
	if p.closed {
		return 0, fmt.Errorf("psutil: %w", provider.ErrBackendUnavailable)
	}
	percents, err := p.percent(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, errors.New("psutil returned no CPU percentage")
	}
	return percents[0], nil
}

// Close marks the provider closed.
func (p *Provider) Close() error {
	p.closed = true
	return nil
}
