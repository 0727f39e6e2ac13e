// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/bureau-foundation/loadmeter/lib/meter"
)

const gaugeWidth = 20

// Thresholds for the gauge color, in percent.
const (
	mediumLoad = 50
	highLoad   = 80
)

// gauge draws one line per reading. On a terminal the line is redrawn
// in place; otherwise each reading gets its own line so the output
// stays readable in a log or pipe.
type gauge struct {
	out     io.Writer
	label   string
	inPlace bool
	drawn   bool

	provider string

	low    lipgloss.Style
	medium lipgloss.Style
	high   lipgloss.Style
	dim    lipgloss.Style
	text   lipgloss.Style
}

func newGauge(out io.Writer, label string, noColor bool) *gauge {
	renderer := newRenderer(out, noColor)
	return &gauge{
		out:     out,
		label:   label,
		inPlace: isTerminal(out),
		low:     renderer.NewStyle().Foreground(lipgloss.Color("2")),
		medium:  renderer.NewStyle().Foreground(lipgloss.Color("3")),
		high:    renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dim:     renderer.NewStyle().Faint(true),
		text:    renderer.NewStyle().Bold(true),
	}
}

// newRenderer returns a lipgloss renderer for out. Without a terminal
// lipgloss already detects the ASCII profile; noColor forces it.
func newRenderer(out io.Writer, noColor bool) *lipgloss.Renderer {
	renderer := lipgloss.NewRenderer(out)
	if noColor {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return renderer
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// line renders a reading without any cursor control.
func (g *gauge) line(reading meter.Reading) string {
	if reading.Provider != "" {
		g.provider = reading.Provider
	}
	if !reading.Supported {
		return fmt.Sprintf("%s %s %s",
			g.text.Render(g.label),
			g.dim.Render("["+strings.Repeat("·", gaugeWidth)+"]"),
			g.dim.Render("unsupported"))
	}

	filled := reading.Value * gaugeWidth / 100
	style := g.low
	switch {
	case reading.Value >= highLoad:
		style = g.high
	case reading.Value >= mediumLoad:
		style = g.medium
	}
	bar := "[" + style.Render(strings.Repeat("█", filled)) +
		g.dim.Render(strings.Repeat("░", gaugeWidth-filled)) + "]"

	var status string
	switch {
	case reading.Raw.Valid():
	case reading.Holding:
		status = " " + g.dim.Render("(holding)")
	default:
		status = " " + g.dim.Render("(stale)")
	}

	return fmt.Sprintf("%s %s %s %s%s",
		g.text.Render(g.label),
		bar,
		style.Render(fmt.Sprintf("%3d%%", reading.Value)),
		g.dim.Render(g.provider),
		status)
}

func (g *gauge) draw(reading meter.Reading) {
	line := g.line(reading)
	if g.inPlace {
		// Carriage return, line, erase to end of line.
		fmt.Fprint(g.out, "\r"+line+"\x1b[K")
	} else {
		fmt.Fprintln(g.out, line)
	}
	g.drawn = true
}

// finish leaves the cursor on a fresh line after in-place drawing.
func (g *gauge) finish() {
	if g.inPlace && g.drawn {
		fmt.Fprintln(g.out)
	}
}
