// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bureau-foundation/loadmeter/lib/meter"
	"github.com/bureau-foundation/loadmeter/lib/provider"
)

func TestGaugeLine(t *testing.T) {
	tests := []struct {
		name    string
		reading meter.Reading
		want    []string
		filled  int
	}{
		{
			name:    "unsupported",
			reading: meter.Reading{Raw: provider.Unavailable(), Value: -1},
			want:    []string{"GPU", "unsupported"},
		},
		{
			name:    "valid",
			reading: meter.Reading{Raw: provider.Percent(62), Value: 62, Supported: true, Provider: "nvml"},
			want:    []string{"GPU", " 62%", "nvml"},
			filled:  12,
		},
		{
			name:    "full",
			reading: meter.Reading{Raw: provider.Percent(100), Value: 100, Supported: true, Provider: "nvml"},
			want:    []string{"100%"},
			filled:  20,
		},
		{
			name:    "holding",
			reading: meter.Reading{Raw: provider.Unavailable(), Value: 40, Supported: true, Holding: true},
			want:    []string{" 40%", "(holding)"},
			filled:  8,
		},
		{
			name:    "stale",
			reading: meter.Reading{Raw: provider.Unavailable(), Value: 40, Supported: true},
			want:    []string{" 40%", "(stale)"},
			filled:  8,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			display := newGauge(&bytes.Buffer{}, "GPU", true)
			line := display.line(test.reading)
			for _, want := range test.want {
				if !strings.Contains(line, want) {
					t.Errorf("line %q missing %q", line, want)
				}
			}
			if got := strings.Count(line, "█"); got != test.filled {
				t.Errorf("line %q has %d filled cells, want %d", line, got, test.filled)
			}
			if strings.Contains(line, "\x1b[") {
				t.Errorf("line %q contains escape sequences with colors disabled", line)
			}
		})
	}
}

func TestGaugeRemembersProvider(t *testing.T) {
	display := newGauge(&bytes.Buffer{}, "CPU", true)
	display.line(meter.Reading{Raw: provider.Percent(10), Value: 10, Supported: true, Provider: "procstat"})
	line := display.line(meter.Reading{Raw: provider.Unavailable(), Value: 10, Supported: true, Holding: true})
	if !strings.Contains(line, "procstat") {
		t.Errorf("line %q lost the provider name during a failure", line)
	}
}

func TestGaugeDrawsLinePerReadingOffTerminal(t *testing.T) {
	var output bytes.Buffer
	display := newGauge(&output, "GPU", true)
	display.draw(meter.Reading{Raw: provider.Percent(10), Value: 10, Supported: true, Provider: "nvml"})
	display.draw(meter.Reading{Raw: provider.Percent(20), Value: 20, Supported: true, Provider: "nvml"})
	display.finish()

	if display.inPlace {
		t.Fatal("bytes.Buffer detected as a terminal")
	}
	lines := strings.Split(strings.TrimSuffix(output.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("got %d lines, want 2: %q", len(lines), output.String())
	}
	if strings.Contains(output.String(), "\r") {
		t.Error("carriage return written to a non-terminal")
	}
}
