// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meter

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bureau-foundation/loadmeter/lib/clock"
	"github.com/bureau-foundation/loadmeter/lib/provider"
	"github.com/bureau-foundation/loadmeter/lib/stabilize"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedSampler returns queued samples in order, then Unavailable.
type scriptedSampler struct {
	active  string
	samples []provider.Sample
	closed  bool
}

func (s *scriptedSampler) Sample(context.Context) provider.Sample {
	if s.closed || len(s.samples) == 0 {
		return provider.Unavailable()
	}
	next := s.samples[0]
	s.samples = s.samples[1:]
	return next
}

func (s *scriptedSampler) Active() string { return s.active }

func (s *scriptedSampler) Close() { s.closed = true }

func (s *scriptedSampler) queue(samples ...provider.Sample) {
	s.samples = append(s.samples, samples...)
}

type harness struct {
	sampler  *scriptedSampler
	clock    *clock.FakeClock
	registry *prometheus.Registry
	meter    *Meter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	stabilizer, err := stabilize.New(stabilize.DefaultConfig())
	if err != nil {
		t.Fatalf("stabilize.New: %v", err)
	}
	h := &harness{
		sampler:  &scriptedSampler{active: "nvml"},
		clock:    clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		registry: prometheus.NewRegistry(),
	}
	h.meter = New(discardLogger(), h.sampler, stabilizer, h.clock, WithRegisterer(h.registry))
	return h
}

func (h *harness) poll() Reading {
	return h.meter.Poll(context.Background())
}

func TestUnsupportedBeforeFirstSample(t *testing.T) {
	h := newHarness(t)

	reading := h.poll()
	if reading.Value != -1 || reading.Supported || reading.Holding || reading.Provider != "" {
		t.Errorf("reading = %+v, want unsupported sentinel", reading)
	}
	if got := promtestutil.ToFloat64(h.meter.metrics.utilization); got != -1 {
		t.Errorf("utilization gauge = %v, want -1", got)
	}
	if got := promtestutil.ToFloat64(h.meter.metrics.supported); got != 0 {
		t.Errorf("supported gauge = %v, want 0", got)
	}
}

func TestPollLifecycle(t *testing.T) {
	h := newHarness(t)

	h.sampler.queue(provider.Percent(50))
	reading := h.poll()
	if reading.Value != 50 || !reading.Supported || reading.Provider != "nvml" {
		t.Fatalf("first reading = %+v, want 50 from nvml", reading)
	}
	if !reading.Time.Equal(h.clock.Now()) {
		t.Errorf("reading time = %v, want %v", reading.Time, h.clock.Now())
	}

	// A failure inside the grace window holds the value.
	h.clock.Advance(time.Second)
	reading = h.poll()
	if reading.Value != 50 || !reading.Holding || reading.Provider != "" {
		t.Errorf("reading inside grace = %+v, want 50 holding", reading)
	}

	// Past the grace window the value stays frozen but is no longer
	// holding.
	h.clock.Advance(5 * time.Second)
	reading = h.poll()
	if reading.Value != 50 || reading.Holding {
		t.Errorf("reading past grace = %+v, want frozen 50, not holding", reading)
	}

	// Recovery smooths from the frozen value: 50 + 0.4*(80-50) = 62.
	h.sampler.active = "amdgpu"
	h.sampler.queue(provider.Percent(80))
	reading = h.poll()
	if reading.Value != 62 || reading.Provider != "amdgpu" {
		t.Errorf("recovered reading = %+v, want 62 from amdgpu", reading)
	}

	if got := promtestutil.ToFloat64(h.meter.metrics.utilization); got != 62 {
		t.Errorf("utilization gauge = %v, want 62", got)
	}
	if got := promtestutil.ToFloat64(h.meter.metrics.raw); got != 80 {
		t.Errorf("raw gauge = %v, want 80", got)
	}
	if got := promtestutil.ToFloat64(h.meter.metrics.supported); got != 1 {
		t.Errorf("supported gauge = %v, want 1", got)
	}
	for result, want := range map[string]float64{"valid": 2, "holding": 1, "failed": 1} {
		if got := promtestutil.ToFloat64(h.meter.metrics.polls.WithLabelValues(result)); got != want {
			t.Errorf("polls{result=%q} = %v, want %v", result, got, want)
		}
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t)

	h.sampler.queue(provider.Percent(70))
	h.poll()
	h.meter.Reset()

	reading := h.poll()
	if reading.Value != -1 || reading.Supported {
		t.Errorf("reading after Reset = %+v, want unsupported", reading)
	}
	if got := promtestutil.ToFloat64(h.meter.metrics.utilization); got != -1 {
		t.Errorf("utilization gauge after Reset = %v, want -1", got)
	}

	h.sampler.queue(provider.Percent(10))
	if reading := h.poll(); reading.Value != 10 {
		t.Errorf("first sample after Reset = %d, want 10 verbatim", reading.Value)
	}
}

func TestState(t *testing.T) {
	h := newHarness(t)

	if state := h.meter.State(); state.Provider != "" || state.Stable != -1 {
		t.Errorf("initial state = %+v", state)
	}

	h.sampler.active = "drm-sysfs"
	h.sampler.queue(provider.Percent(33))
	h.poll()

	// A later failure does not erase the provider that last worked.
	h.sampler.active = ""
	h.clock.Advance(time.Minute)
	h.poll()

	state := h.meter.State()
	if state.Provider != "drm-sysfs" || state.Stable != 33 {
		t.Errorf("state = %+v, want drm-sysfs at 33", state)
	}
	if !state.Written.Equal(h.clock.Now()) {
		t.Errorf("Written = %v, want %v", state.Written, h.clock.Now())
	}
}

func TestCloseClosesSampler(t *testing.T) {
	h := newHarness(t)
	h.meter.Close()
	if !h.sampler.closed {
		t.Error("Close did not close the sampler")
	}
	if reading := h.poll(); reading.Raw.Valid() {
		t.Errorf("Poll after Close = %+v", reading)
	}
}
