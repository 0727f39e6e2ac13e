// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/loadmeter/lib/clock"
	"github.com/bureau-foundation/loadmeter/lib/codec"
	"github.com/bureau-foundation/loadmeter/lib/failover"
	"github.com/bureau-foundation/loadmeter/lib/meter"
	"github.com/bureau-foundation/loadmeter/lib/statefile"
)

// daemon drives the meter from a ticker and persists the active
// provider whenever it changes.
type daemon struct {
	logger    *slog.Logger
	meter     *meter.Meter
	clock     clock.Clock
	interval  time.Duration
	statePath string

	// display, when set, receives every reading.
	display func(meter.Reading)

	savedProvider string
}

// run polls immediately and then every interval until ctx is done.
// The state file is written once more on the way out.
func (d *daemon) run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	d.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			d.saveState()
			return nil
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *daemon) poll(ctx context.Context) {
	reading := d.meter.Poll(ctx)
	if d.display != nil {
		d.display(reading)
	}
	if reading.Provider != "" && reading.Provider != d.savedProvider {
		d.saveState()
	}
}

// saveState writes the meter's state if a provider has ever worked.
// Failures are logged; the daemon keeps running without persistence.
func (d *daemon) saveState() {
	if d.statePath == "" {
		return
	}
	state := d.meter.State()
	if state.Provider == "" {
		return
	}
	if err := statefile.Write(d.statePath, state); err != nil {
		d.logger.Warn("writing state file failed",
			"path", d.statePath,
			"error", err)
		return
	}
	d.savedProvider = state.Provider
}

// restoreProvider moves the controller's fast path to the provider
// recorded in a fresh state file. Only the provider is restored; the
// stabilizer starts unsupported regardless. A file that cannot be
// decoded is removed so the next save starts clean.
func restoreProvider(logger *slog.Logger, controller *failover.Controller, path string, maxAge time.Duration, now time.Time) {
	if path == "" {
		return
	}
	state, found, err := statefile.Check(path, maxAge, now)
	if err != nil {
		logger.Warn("discarding unreadable state file",
			"path", path,
			"error", err)
		if err := statefile.Clear(path); err != nil {
			logger.Warn("removing state file failed", "error", err)
		}
		return
	}
	if !found || state.Provider == "" {
		return
	}
	if controller.Prefer(state.Provider) {
		logger.Info("resuming with remembered provider",
			"provider", state.Provider,
			"written", state.Written)
		return
	}
	logger.Info("remembered provider is not available",
		"provider", state.Provider)
}

// printState writes a state file in readable form followed by its raw
// CBOR diagnostic notation.
func printState(w io.Writer, path string) error {
	if path == "" {
		return errors.New("no state_file configured")
	}
	state, err := statefile.Read(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	notation, err := codec.Diagnose(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	fmt.Fprintf(w, "provider: %s\n", state.Provider)
	fmt.Fprintf(w, "stable:   %d\n", state.Stable)
	fmt.Fprintf(w, "written:  %s\n", state.Written.Format(time.RFC3339))
	fmt.Fprintf(w, "cbor:     %s\n", notation)
	return nil
}

// serveMetrics starts the Prometheus exporter. It returns the bound
// address and a function that shuts the server down.
func serveMetrics(logger *slog.Logger, address string, gatherer prometheus.Gatherer) (string, func(), error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
	return listener.Addr().String(), shutdown, nil
}
