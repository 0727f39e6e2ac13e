// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// loadmeter reports a steady GPU or CPU utilization percentage from
// whichever measurement backend works on this machine.
//
// Backends are tried in priority order (native NVML, the amdgpu sensor
// ioctl, the DRM sysfs attribute, nvidia-smi for GPU; /proc/stat and
// gopsutil for CPU, or an explicit list from the config file). The
// first one that produces a sample is kept until it fails. Raw samples
// pass through a stabilizer that holds the value across short outages,
// ignores isolated zero readings, and smooths the rest.
//
// Modes:
//
//	loadmeter                 poll until SIGINT/SIGTERM, export gauges
//	loadmeter --once          print one value and exit
//	loadmeter --watch         draw a live gauge on stdout
//	loadmeter --list          report which providers work here
//	loadmeter --state         print the remembered provider state
//
// The config file comes from --config or LOADMETER_CONFIG; without
// either, built-in defaults apply.
package main
