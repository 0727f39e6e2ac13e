// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package failover picks a working measurement backend out of a
// prioritized list and keeps using it until it stops working.
//
// A [Controller] holds one slot per configured backend, in priority
// order. Slots start empty: a provider is constructed the first time
// the scan reaches it, and a slot whose construction fails stays
// broken for the life of the process. Each [Controller.Sample] first
// asks the active provider (sticky fast path) and only on failure
// scans the slots from the top. The controller depends on nothing but
// the [provider.Provider] interface.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// Slot is one entry of the priority list.
type Slot struct {
	// Name identifies the slot. Must be unique within a controller and
	// should match the Name of the provider the factory builds.
	Name string

	// New constructs the provider. Called at most once.
	New provider.Factory
}

// SlotStatus describes one slot for diagnostics.
type SlotStatus struct {
	Name        string
	Constructed bool
	Broken      bool
	Active      bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithRegisterer registers the controller's Prometheus collectors with
// registerer. Without it the collectors still count but are not
// exported.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(c *Controller) { c.registerer = registerer }
}

// WithFailureLogInterval sets the minimum spacing between "every
// provider failed" warnings. The first one is always logged.
func WithFailureLogInterval(interval time.Duration) Option {
	return func(c *Controller) { c.allFailedLog.Interval = interval }
}

const defaultFailureLogInterval = time.Minute

type slot struct {
	name     string
	factory  provider.Factory
	instance provider.Provider
	broken   bool
}

// Controller samples through the first working provider. All methods
// are safe for concurrent use; a single mutex serializes them so the
// active slot is never torn down mid-read.
type Controller struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics

	allFailedLog rate.Sometimes

	mu     sync.Mutex
	slots  []*slot
	active int // index into slots, -1 when none
	closed bool
}

// New returns a Controller over slots, in the given priority order. No
// provider is constructed until the first Sample. Slot names must be
// non-empty and unique.
func New(logger *slog.Logger, slots []Slot, options ...Option) (*Controller, error) {
	controller := &Controller{
		logger:       logger,
		allFailedLog: rate.Sometimes{First: 1, Interval: defaultFailureLogInterval},
		active:       -1,
	}
	for _, option := range options {
		option(controller)
	}

	seen := make(map[string]bool, len(slots))
	var errs []error
	for index, entry := range slots {
		switch {
		case entry.Name == "":
			errs = append(errs, fmt.Errorf("slot %d has no name", index))
		case seen[entry.Name]:
			errs = append(errs, fmt.Errorf("duplicate slot name %q", entry.Name))
		case entry.New == nil:
			errs = append(errs, fmt.Errorf("slot %q has no factory", entry.Name))
		}
		seen[entry.Name] = true
		controller.slots = append(controller.slots, &slot{name: entry.Name, factory: entry.New})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	controller.metrics = newMetrics(controller.registerer)
	return controller, nil
}

// Sample returns one raw reading from the first provider that can
// produce one, or Unavailable if none can. It never blocks beyond the
// providers' own read bounds.
func (c *Controller) Sample(ctx context.Context) provider.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return provider.Unavailable()
	}

	previous := c.active
	if previous >= 0 {
		if sample := c.read(ctx, previous, false); sample.Valid() {
			return sample
		}
		c.active = -1
	}

	for index := range c.slots {
		if index == previous {
			continue
		}
		sample := c.read(ctx, index, true)
		if !sample.Valid() {
			continue
		}
		c.switchTo(previous, index)
		return sample
	}

	if previous >= 0 {
		c.logger.Info("active provider lost", "provider", c.slots[previous].name)
	}
	c.allFailedLog.Do(func() {
		c.logger.Warn("no provider produced a sample", "providers", len(c.slots))
	})
	return provider.Unavailable()
}

// read constructs the slot's provider if needed and takes one reading.
// Must be called with c.mu held.
func (c *Controller) read(ctx context.Context, index int, checkAvailable bool) provider.Sample {
	entry := c.slots[index]
	if !c.construct(entry) {
		return provider.Unavailable()
	}
	if checkAvailable && !entry.instance.Available() {
		c.metrics.reads.WithLabelValues(entry.name, outcomeSkipped).Inc()
		return provider.Unavailable()
	}
	sample := entry.instance.Read(ctx)
	outcome := outcomeValid
	if !sample.Valid() {
		outcome = outcomeUnavailable
	}
	c.metrics.reads.WithLabelValues(entry.name, outcome).Inc()
	return sample
}

// construct ensures entry has an instance, returning false if the slot
// is broken. Must be called with c.mu held.
func (c *Controller) construct(entry *slot) bool {
	if entry.broken {
		return false
	}
	if entry.instance != nil {
		return true
	}
	instance, err := entry.factory()
	if err != nil {
		entry.broken = true
		c.metrics.constructFailures.WithLabelValues(entry.name).Inc()
		c.logger.Info("provider unavailable",
			"provider", entry.name,
			"error", err)
		return false
	}
	entry.instance = instance
	c.logger.Debug("provider constructed", "provider", entry.name)
	return true
}

// switchTo records index as active. Must be called with c.mu held.
func (c *Controller) switchTo(previous, index int) {
	c.active = index
	if previous >= 0 {
		c.metrics.failovers.Inc()
		c.logger.Info("active provider changed",
			"from", c.slots[previous].name,
			"to", c.slots[index].name)
		return
	}
	c.logger.Info("active provider selected", "provider", c.slots[index].name)
}

// Prefer makes the named slot active, so the next Sample tries it
// first. A preference that does not work is demoted on that first
// failing Sample. Returns false if no usable slot has that name.
func (c *Controller) Prefer(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	for index, entry := range c.slots {
		if entry.name != name {
			continue
		}
		if entry.broken {
			return false
		}
		c.active = index
		return true
	}
	return false
}

// Active returns the name of the active provider, or "" if there is
// none.
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active < 0 {
		return ""
	}
	return c.slots[c.active].name
}

// Status reports every slot in priority order.
func (c *Controller) Status() []SlotStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]SlotStatus, len(c.slots))
	for index, entry := range c.slots {
		statuses[index] = SlotStatus{
			Name:        entry.name,
			Constructed: entry.instance != nil,
			Broken:      entry.broken,
			Active:      index == c.active,
		}
	}
	return statuses
}

// Close closes every constructed provider. Close errors are logged and
// discarded so one failing provider does not keep the others open.
// Further calls do nothing; Sample returns Unavailable afterward.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.active = -1
	for _, entry := range c.slots {
		if entry.instance == nil {
			continue
		}
		if err := entry.instance.Close(); err != nil {
			c.logger.Warn("closing provider failed",
				"provider", entry.name,
				"error", err)
		}
		entry.instance = nil
	}
}
