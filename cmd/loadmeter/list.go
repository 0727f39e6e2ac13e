// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/loadmeter/lib/failover"
	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// listProviders constructs each slot in priority order, takes one
// reading from it, and closes it again.
func listProviders(ctx context.Context, logger *slog.Logger, w io.Writer, slots []failover.Slot, noColor bool) error {
	renderer := newRenderer(w, noColor)
	working := renderer.NewStyle().Foreground(lipgloss.Color("2"))
	failing := renderer.NewStyle().Foreground(lipgloss.Color("1"))
	muted := renderer.NewStyle().Faint(true)

	nameWidth := 0
	for _, slot := range slots {
		nameWidth = max(nameWidth, len(slot.Name))
	}

	for _, slot := range slots {
		name := fmt.Sprintf("%-*s", nameWidth, slot.Name)
		instance, err := slot.New()
		if err != nil {
			fmt.Fprintf(w, "%s  %s  %s\n", name, failing.Render("unavailable"), muted.Render(err.Error()))
			continue
		}

		devices := ""
		if describer, ok := instance.(provider.Describer); ok {
			if labels := describer.Devices(); len(labels) > 0 {
				devices = "  " + muted.Render(strings.Join(labels, ", "))
			}
		}

		sample := instance.Read(ctx)
		if sample.Valid() {
			fmt.Fprintf(w, "%s  %s  %s%s\n", name, working.Render("ok"), sample, devices)
		} else {
			fmt.Fprintf(w, "%s  %s  %s%s\n", name, failing.Render("no sample"), muted.Render("constructed, but the read failed"), devices)
		}

		if err := instance.Close(); err != nil {
			logger.Warn("closing provider failed",
				"provider", slot.Name,
				"error", err)
		}
	}
	return nil
}
