// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"math"
	"strconv"
)

// Sample is the outcome of one measurement: a utilization percentage
// in [0,100], or Unavailable. The zero Sample is Unavailable, so a
// backend that returns early on error cannot accidentally report 0%.
type Sample struct {
	percent int
	valid   bool
}

// Unavailable returns the failure outcome.
func Unavailable() Sample {
	return Sample{}
}

// Percent converts a raw backend reading into a Sample. The value is
// rounded to the nearest integer and clamped to [0,100]. NaN and
// infinities are garbage from a misbehaving backend and produce
// Unavailable.
func Percent(raw float64) Sample {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return Unavailable()
	}
	rounded := math.Round(raw)
	if rounded < 0 {
		rounded = 0
	}
	if rounded > 100 {
		rounded = 100
	}
	return Sample{percent: int(rounded), valid: true}
}

// Valid reports whether the sample carries a reading.
func (s Sample) Valid() bool { return s.valid }

// Value returns the percentage and whether it is valid. The percentage
// is 0 for an Unavailable sample.
func (s Sample) Value() (int, bool) { return s.percent, s.valid }

// String renders "42%" or "unavailable".
func (s Sample) String() string {
	if !s.valid {
		return "unavailable"
	}
	return strconv.Itoa(s.percent) + "%"
}
