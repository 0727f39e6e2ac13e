// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo reads the Linux sysfs and procfs files that the
// utilization backends sample.
//
// # DRM helpers
//
// [Cards] enumerates DRM card devices under a sysfs root and reports
// each card's driver and PCI vendor, which the GPU backends use to pick
// the devices they understand. [ReadSysfsString] and [ReadSysfsInt]
// read single-value attribute files.
//
// # CPU counters
//
// [ReadCPUStats] parses the aggregate line of /proc/stat into
// cumulative busy and idle jiffies; [CPUPercent] turns two readings
// into a utilization percentage.
//
// Every function takes its root or file path as a parameter so tests
// can point it at a synthetic tree under t.TempDir().
package hwinfo
