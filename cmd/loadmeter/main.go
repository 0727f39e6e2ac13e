// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/loadmeter/lib/backend"
	"github.com/bureau-foundation/loadmeter/lib/clock"
	"github.com/bureau-foundation/loadmeter/lib/config"
	"github.com/bureau-foundation/loadmeter/lib/failover"
	"github.com/bureau-foundation/loadmeter/lib/meter"
	"github.com/bureau-foundation/loadmeter/lib/process"
	"github.com/bureau-foundation/loadmeter/lib/stabilize"
	"github.com/bureau-foundation/loadmeter/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		process.Fatal(err)
	}
}

// flags holds the parsed command line.
type flags struct {
	configPath  string
	listen      string
	once        bool
	watch       bool
	noColor     bool
	list        bool
	showState   bool
	showVersion bool
	help        bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	var parsed flags
	flagSet := pflag.NewFlagSet("loadmeter", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&parsed.configPath, "config", "", "path to the config file (default: $LOADMETER_CONFIG, else built-in defaults)")
	flagSet.StringVar(&parsed.listen, "listen", "", "serve Prometheus metrics on this host:port (overrides metrics.listen)")
	flagSet.BoolVar(&parsed.once, "once", false, "take one sample, print it, and exit")
	flagSet.BoolVar(&parsed.watch, "watch", false, "draw a live gauge on stdout")
	flagSet.BoolVar(&parsed.noColor, "no-color", false, "disable colors in --watch and --list output")
	flagSet.BoolVar(&parsed.list, "list", false, "try every configured provider and report which work")
	flagSet.BoolVar(&parsed.showState, "state", false, "print the state file and exit")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")
	flagSet.BoolVarP(&parsed.help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			parsed.help = true
			return &parsed, flagSet, nil
		}
		return nil, flagSet, err
	}
	if remaining := flagSet.Args(); len(remaining) > 0 {
		return nil, flagSet, fmt.Errorf("unexpected argument: %s", remaining[0])
	}

	var modes []string
	for name, set := range map[string]bool{"--once": parsed.once, "--watch": parsed.watch, "--list": parsed.list, "--state": parsed.showState} {
		if set {
			modes = append(modes, name)
		}
	}
	if len(modes) > 1 {
		slices.Sort(modes)
		return nil, flagSet, fmt.Errorf("%s cannot be combined", strings.Join(modes, " and "))
	}
	return &parsed, flagSet, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	parsed, flagSet, err := parseFlags(args)
	if err != nil {
		return err
	}
	if parsed.help {
		printHelp(stdout, flagSet)
		return nil
	}
	if parsed.showVersion {
		fmt.Fprintf(stdout, "loadmeter %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(parsed.configPath)
	if err != nil {
		return err
	}
	if parsed.listen != "" {
		cfg.Metrics.Listen = parsed.listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(stderr, cfg.Log)
	if err != nil {
		return err
	}

	if parsed.showState {
		return printState(stdout, cfg.StateFile)
	}

	realClock := clock.Real()
	slots, err := backend.Slots(logger, cfg.Metric, cfg.Providers, backend.Environment{Clock: realClock})
	if err != nil {
		return err
	}

	if parsed.list {
		return listProviders(ctx, logger, stdout, slots, parsed.noColor)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	controller, err := failover.New(logger, slots, failover.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("building provider list: %w", err)
	}
	stabilizer, err := stabilize.New(cfg.StabilizerSettings())
	if err != nil {
		controller.Close()
		return fmt.Errorf("building stabilizer: %w", err)
	}
	utilization := meter.New(logger, controller, stabilizer, realClock, meter.WithRegisterer(registry))
	defer utilization.Close()

	statePath := cfg.StateFile
	if statePath != "" {
		if err := cfg.EnsureStateDirectory(); err != nil {
			logger.Warn("state file disabled", "error", err)
			statePath = ""
		}
	}
	restoreProvider(logger, controller, statePath, cfg.StateMaxAge, realClock.Now())

	d := &daemon{
		logger:    logger,
		meter:     utilization,
		clock:     realClock,
		interval:  cfg.PollInterval,
		statePath: statePath,
	}

	if parsed.once {
		reading := utilization.Poll(ctx)
		fmt.Fprintln(stdout, formatReading(reading))
		d.saveState()
		return nil
	}

	if cfg.Metrics.Listen != "" {
		address, shutdown, err := serveMetrics(logger, cfg.Metrics.Listen, registry)
		if err != nil {
			return err
		}
		defer shutdown()
		logger.Info("serving metrics", "address", address)
	}

	if parsed.watch {
		display := newGauge(stdout, strings.ToUpper(string(cfg.Metric)), parsed.noColor)
		defer display.finish()
		d.display = display.draw
	}

	logger.Info("loadmeter running",
		"metric", cfg.Metric,
		"poll_interval", cfg.PollInterval,
		"providers", len(slots))
	err = d.run(ctx)
	for _, status := range controller.Status() {
		logger.Debug("provider slot",
			"provider", status.Name,
			"constructed", status.Constructed,
			"broken", status.Broken,
			"active", status.Active)
	}
	logger.Info("shutting down")
	return err
}

// loadConfig reads --config, else LOADMETER_CONFIG, else returns the
// defaults. Only an explicitly named file may be missing with an error.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, options)
	} else {
		handler = slog.NewTextHandler(w, options)
	}
	return slog.New(handler), nil
}

// formatReading renders a reading for --once.
func formatReading(reading meter.Reading) string {
	if !reading.Supported {
		return "unsupported"
	}
	return fmt.Sprintf("%d", reading.Value)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `loadmeter reports a steady GPU or CPU utilization percentage.

Backends are tried in priority order and the first that works is kept
until it fails. Readings are held across short outages, isolated zero
samples are ignored, and the rest is smoothed.

Usage:
  loadmeter [flags]

Examples:
  # Print the current GPU utilization once
  loadmeter --once

  # Watch CPU utilization with a config file
  loadmeter --config cpu.yaml --watch

  # Run as a daemon exporting Prometheus gauges
  loadmeter --listen 127.0.0.1:9464

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
