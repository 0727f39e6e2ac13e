// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package meter ties a failover controller to a stabilizer. Each
// [Meter.Poll] takes one raw sample, stamps it with the clock, and
// feeds it through the stabilizer. The meter has no timer of its own;
// the caller decides when to poll.
package meter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/loadmeter/lib/clock"
	"github.com/bureau-foundation/loadmeter/lib/provider"
	"github.com/bureau-foundation/loadmeter/lib/stabilize"
	"github.com/bureau-foundation/loadmeter/lib/statefile"
)

// Sampler produces raw samples. *failover.Controller implements it.
type Sampler interface {
	Sample(ctx context.Context) provider.Sample
	Active() string
	Close()
}

// Reading is the outcome of one poll.
type Reading struct {
	// Raw is the controller's sample, possibly Unavailable.
	Raw provider.Sample

	// Value is the stabilized output: a percentage in [0,100], or the
	// unsupported sentinel before the first valid sample.
	Value int

	// Supported is false until any valid sample has been seen.
	Supported bool

	// Provider is the provider that produced Raw, or "" when Raw is
	// Unavailable.
	Provider string

	// Time is when the poll started.
	Time time.Time

	// Holding is true when Raw failed but the last valid sample is
	// still inside the grace window. Value is frozen either way.
	Holding bool
}

// Option configures a Meter.
type Option func(*Meter)

// WithRegisterer exports the meter's gauges through registerer.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(m *Meter) { m.registerer = registerer }
}

// Meter polls a Sampler through a Stabilizer. Poll, Reset, and State
// are safe for concurrent use.
type Meter struct {
	logger     *slog.Logger
	sampler    Sampler
	stabilizer *stabilize.Stabilizer
	clock      clock.Clock
	registerer prometheus.Registerer
	metrics    *metrics

	mu           sync.Mutex
	lastProvider string
	expired      bool
}

// New returns a Meter. The meter takes ownership of sampler and closes
// it in Close.
func New(logger *slog.Logger, sampler Sampler, stabilizer *stabilize.Stabilizer, clk clock.Clock, options ...Option) *Meter {
	m := &Meter{
		logger:     logger,
		sampler:    sampler,
		stabilizer: stabilizer,
		clock:      clk,
	}
	for _, option := range options {
		option(m)
	}
	m.metrics = newMetrics(m.registerer)
	m.metrics.utilization.Set(float64(stabilizer.Config().UnsupportedValue))
	return m
}

// Poll takes one sample and returns the stabilized reading.
func (m *Meter) Poll(ctx context.Context) Reading {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	raw := m.sampler.Sample(ctx)
	value := m.stabilizer.Update(raw, now)
	snapshot := m.stabilizer.Snapshot()

	reading := Reading{
		Raw:       raw,
		Value:     value,
		Supported: snapshot.Supported,
		Time:      now,
	}

	if percent, ok := raw.Value(); ok {
		reading.Provider = m.sampler.Active()
		m.lastProvider = reading.Provider
		if m.expired {
			m.logger.Info("utilization readings resumed", "provider", reading.Provider)
			m.expired = false
		}
		m.metrics.raw.Set(float64(percent))
		m.metrics.polls.WithLabelValues("valid").Inc()
	} else {
		reading.Holding = m.stabilizer.Holding(now)
		switch {
		case reading.Holding:
			m.metrics.polls.WithLabelValues("holding").Inc()
		default:
			m.metrics.polls.WithLabelValues("failed").Inc()
			if snapshot.Supported && !m.expired {
				m.logger.Warn("no valid sample within the grace window; output frozen",
					"value", value,
					"since", snapshot.LastGood)
				m.expired = true
			}
		}
	}

	m.metrics.utilization.Set(float64(value))
	if snapshot.Supported {
		m.metrics.supported.Set(1)
	} else {
		m.metrics.supported.Set(0)
	}

	m.logger.Debug("poll",
		"raw", raw.String(),
		"value", value,
		"provider", reading.Provider,
		"holding", reading.Holding)
	return reading
}

// Reset returns the stabilizer to its initial unsupported state. The
// controller keeps its active provider.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stabilizer.Reset()
	m.expired = false
	m.metrics.utilization.Set(float64(m.stabilizer.Config().UnsupportedValue))
	m.metrics.supported.Set(0)
}

// State returns what should be persisted across restarts: the last
// provider that produced a valid sample and the current output.
func (m *Meter) State() statefile.State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return statefile.State{
		Provider: m.lastProvider,
		Stable:   m.stabilizer.Snapshot().Stable,
		Written:  m.clock.Now(),
	}
}

// Close closes the sampler. Poll after Close reports Unavailable
// samples and a frozen value.
func (m *Meter) Close() {
	m.sampler.Close()
}
