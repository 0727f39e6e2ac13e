// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	utilization prometheus.Gauge
	raw         prometheus.Gauge
	supported   prometheus.Gauge
	polls       *prometheus.CounterVec
}

// newMetrics builds the meter's gauges. A nil registerer yields
// working but unregistered collectors.
func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)
	return &metrics{
		utilization: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadmeter_utilization_percent",
			Help: "Stabilized utilization, or the unsupported sentinel before the first valid sample.",
		}),
		raw: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadmeter_raw_percent",
			Help: "Most recent valid raw sample before stabilization.",
		}),
		supported: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadmeter_supported",
			Help: "1 once any provider has produced a valid sample, 0 before.",
		}),
		polls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadmeter_polls_total",
				Help: "Polls by result: valid, holding (failure inside the grace window), or failed.",
			},
			[]string{"result"},
		),
	}
}
