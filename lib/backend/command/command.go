// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package command samples utilization by running an external program
// and parsing its standard output. Each non-empty output line that
// parses as a number is one reading; the provider reports the largest,
// so a tool that prints one line per GPU yields the busiest GPU.
//
// Every run is bounded: the process is killed when the timeout
// expires, and pipe draining after the kill is capped by
// exec.Cmd.WaitDelay so a grandchild holding stdout open cannot stall
// the read.
//
// [NvidiaSMI] returns the options for the stock nvidia-smi query.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// Backend kinds served by this package.
const (
	Kind          = "command"
	NvidiaSMIKind = "nvidia-smi"
)

// DefaultTimeout bounds a run when Options.Timeout is zero.
const DefaultTimeout = 3 * time.Second

// waitDelay bounds how long Run waits for output pipes to close after
// the process was killed or exited.
const waitDelay = 500 * time.Millisecond

// Output beyond these sizes is discarded. Utilization tools print a
// few lines; anything larger is a misbehaving program.
const (
	maxStdout = 16 << 10
	maxStderr = 4 << 10
)

// Options configures a Provider.
type Options struct {
	// Name identifies the provider. Default "command:<basename of
	// Argv[0]>".
	Name string

	// Argv is the program and its arguments. Argv[0] is resolved
	// against PATH at construction.
	Argv []string

	// Timeout bounds one run. Default DefaultTimeout.
	Timeout time.Duration
}

// NvidiaSMI returns options that query utilization.gpu for every
// NVIDIA GPU through nvidia-smi.
func NvidiaSMI() Options {
	return Options{
		Name: NvidiaSMIKind,
		Argv: []string{
			"nvidia-smi",
			"--query-gpu=utilization.gpu",
			"--format=csv,noheader,nounits",
		},
	}
}

// Provider runs one external command per Read.
type Provider struct {
	logger  *slog.Logger
	name    string
	path    string
	args    []string
	timeout time.Duration
	closed  bool
}

var _ provider.Provider = (*Provider)(nil)

// New resolves the program and returns a Provider. Fails with
// provider.ErrBackendUnavailable if the program is not on PATH.
func New(logger *slog.Logger, options Options) (*Provider, error) {
	if len(options.Argv) == 0 || options.Argv[0] == "" {
		return nil, errors.New("command provider needs a program to run")
	}
	if options.Timeout < 0 {
		return nil, fmt.Errorf("command timeout must not be negative, got %v", options.Timeout)
	}
	if options.Timeout == 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Name == "" {
		options.Name = Kind + ":" + filepath.Base(options.Argv[0])
	}

	path, err := exec.LookPath(options.Argv[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", options.Name, provider.ErrBackendUnavailable, err)
	}

	return &Provider{
		logger:  logger,
		name:    options.Name,
		path:    path,
		args:    options.Argv[1:],
		timeout: options.Timeout,
	}, nil
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

// Available reports whether the resolved executable still exists.
func (p *Provider) Available() bool {
	if p.closed {
		return false
	}
	_, err := os.Stat(p.path)
	return err == nil
}

// Read runs the command once and returns the largest number it
// printed.
func (p *Provider) Read(ctx context.Context) provider.Sample {
	value, err := p.run(ctx)
	return provider.Collapse(p.logger, p.name, value, err)
}

func (p *Provider) run(ctx context.Context) (float64, error) {
	if p.closed {
		return 0, fmt.Errorf("%s: %w", p.name, provider.ErrBackendUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: maxStdout}
	stderr := &cappedBuffer{limit: maxStderr}
	command := exec.CommandContext(ctx, p.path, p.args...)
	command.Stdout = stdout
	command.Stderr = stderr
	command.WaitDelay = waitDelay

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%s after %v: %w", p.name, p.timeout, provider.ErrTimeout)
		}
		return 0, formatError(p.name, stderr, err)
	}
	if stdout.overflowed {
		return 0, fmt.Errorf("%s: output exceeds %d bytes", p.name, maxStdout)
	}
	return parseOutput(stdout.String())
}

// parseOutput returns the largest number found on any line. Lines that
// do not parse ("[N/A]", "[Not Supported]") are ignored unless no line
// parses.
func parseOutput(output string) (float64, error) {
	best, found := 0.0, false
	for _, line := range strings.Split(output, "\n") {
		field := strings.TrimSpace(line)
		if field == "" {
			continue
		}
		// Tolerate a trailing unit from tools that ignore nounits.
		field = strings.TrimSpace(strings.TrimSuffix(field, "%"))
		value, err := strconv.ParseFloat(field, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		if !found || value > best {
			best, found = value, true
		}
	}
	if !found {
		return 0, fmt.Errorf("no numeric value in output %q", strings.TrimSpace(output))
	}
	return best, nil
}

// formatError prefers the program's stderr over the generic exec error.
func formatError(name string, stderr *cappedBuffer, err error) error {
	stderrText := strings.TrimSpace(stderr.String())
	if stderrText != "" {
		return fmt.Errorf("%s: %s", name, stderrText)
	}
	return fmt.Errorf("%s: %w", name, err)
}

// Close marks the provider closed. No process outlives a Read, so
// there is nothing to release.
func (p *Provider) Close() error {
	p.closed = true
	return nil
}

// cappedBuffer keeps the first limit bytes written to it and drops the
// rest. Writes always report success so the child never sees EPIPE.
// The buffer is a named field so io.Copy cannot reach its ReadFrom.
type cappedBuffer struct {
	buffer     bytes.Buffer
	limit      int
	overflowed bool
}

func (b *cappedBuffer) Write(data []byte) (int, error) {
	room := b.limit - b.buffer.Len()
	if len(data) > room {
		b.overflowed = true
		if room > 0 {
			b.buffer.Write(data[:room])
		}
		return len(data), nil
	}
	return b.buffer.Write(data)
}

func (b *cappedBuffer) String() string { return b.buffer.String() }
