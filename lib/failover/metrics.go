// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package failover

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Read outcomes recorded in loadmeter_provider_reads_total.
const (
	outcomeValid       = "valid"
	outcomeUnavailable = "unavailable"
	outcomeSkipped     = "skipped"
)

type metrics struct {
	reads             *prometheus.CounterVec
	failovers         prometheus.Counter
	constructFailures *prometheus.CounterVec
}

// newMetrics builds the controller's collectors. A nil registerer
// yields working but unregistered collectors.
func newMetrics(registerer prometheus.Registerer) *metrics {
	factory := promauto.With(registerer)
	return &metrics{
		reads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadmeter_provider_reads_total",
				Help: "Provider reads attempted by the failover controller, by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		failovers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "loadmeter_failovers_total",
				Help: "Times the active provider was replaced by a different one.",
			},
		),
		constructFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadmeter_provider_construct_failures_total",
				Help: "Provider constructions that failed and left the slot permanently unavailable.",
			},
			[]string{"provider"},
		),
	}
}
