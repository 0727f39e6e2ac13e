// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package procstat samples host CPU utilization from the aggregate
// line of /proc/stat. Utilization is a rate, so every read is a delta
// against the previous read; the provider holds that baseline as its
// owned state and takes the first one at construction.
//
// When two reads land within the same kernel accounting tick the delta
// is empty. The provider then waits a short settle interval and
// measures once more rather than report a meaningless value.
package procstat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/loadmeter/lib/clock"
	"github.com/bureau-foundation/loadmeter/lib/hwinfo"
	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// Kind is the configuration name of this backend.
const Kind = "procstat"

// DefaultSettle is the wait before re-measuring an empty delta. The
// kernel accounts CPU time in jiffies (usually 4ms or 10ms).
const DefaultSettle = 50 * time.Millisecond

// Options configures a Provider. Zero fields take defaults.
type Options struct {
	// Path is the stat file. Default /proc/stat.
	Path string

	// Clock times the settle wait. Default clock.Real().
	Clock clock.Clock

	// Settle is the wait before re-measuring an empty delta.
	Settle time.Duration
}

// Provider computes CPU utilization between successive reads.
type Provider struct {
	logger   *slog.Logger
	path     string
	clock    clock.Clock
	settle   time.Duration
	baseline hwinfo.CPUReading
	closed   bool
}

var _ provider.Provider = (*Provider)(nil)

// New takes the initial baseline. Fails with
// provider.ErrBackendUnavailable if the stat file cannot be parsed.
func New(logger *slog.Logger, options Options) (*Provider, error) {
	if options.Path == "" {
		options.Path = hwinfo.DefaultProcStat
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Settle <= 0 {
		options.Settle = DefaultSettle
	}

	baseline, err := hwinfo.ReadCPUStats(options.Path)
	if err != nil {
		return nil, fmt.Errorf("procstat: %w: %w", provider.ErrBackendUnavailable, err)
	}
	return &Provider{
		logger:   logger,
		path:     options.Path,
		clock:    options.Clock,
		settle:   options.Settle,
		baseline: baseline,
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return Kind }

// Available reports whether the stat file exists.
func (p *Provider) Available() bool {
	if p.closed {
		return false
	}
	_, err := os.Stat(p.path)
	return err == nil
}

// Read returns utilization since the previous read (or construction).
func (p *Provider) Read(ctx context.Context) provider.Sample {
	value, err := provider.RetryOnce(ctx, p.measure)
	return provider.Collapse(p.logger, Kind, value, err)
}

// measure reads the counters and advances the baseline. An empty or
// backwards delta resets the baseline and is reported transient after
// the settle wait, so RetryOnce measures again against the fresh
// baseline.
func (p *Provider) measure(ctx context.Context) (float64, error) {
	if p.closed {
		return 0, fmt.Errorf("procstat: %w", provider.ErrBackendUnavailable)
	}
	current, err := hwinfo.ReadCPUStats(p.path)
	if err != nil {
		return 0, err
	}
	percent, ok := hwinfo.CPUPercent(p.baseline, current)
	p.baseline = current
	if ok {
		return percent, nil
	}

	select {
	case <-p.clock.After(p.settle):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return 0, fmt.Errorf("procstat: no CPU time elapsed since previous read: %w", provider.ErrTransient)
}

// Close marks the provider closed.
func (p *Provider) Close() error {
	p.closed = true
	return nil
}
