// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultProcStat is the kernel CPU accounting file on a live system.
const DefaultProcStat = "/proc/stat"

// CPUReading captures cumulative CPU time from /proc/stat for delta
// computation. The first line of /proc/stat aggregates all CPUs:
//
//	cpu  user nice system idle iowait irq softirq steal guest guest_nice
//
// busy = user + nice + system + irq + softirq + steal
// idle = idle + iowait
//
// guest and guest_nice are already included in user/nice (kernel
// accounting) so they are not added separately.
type CPUReading struct {
	Busy uint64
	Idle uint64
}

// Total returns busy plus idle jiffies.
func (r CPUReading) Total() uint64 { return r.Busy + r.Idle }

var errMalformedStat = errors.New("malformed cpu line")

// ReadCPUStats parses the aggregate cpu line of the /proc/stat file at
// path.
func ReadCPUStats(path string) (CPUReading, error) {
	file, err := os.Open(path)
	if err != nil {
		return CPUReading{}, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return CPUReading{}, fmt.Errorf("reading %s: %w", path, err)
		}
		return CPUReading{}, fmt.Errorf("%s: empty file", path)
	}

	// At least user..steal must be present after the "cpu" label.
	fields := strings.Fields(scanner.Text())
	if len(fields) < 9 || fields[0] != "cpu" {
		return CPUReading{}, fmt.Errorf("%s: %w", path, errMalformedStat)
	}

	var values [8]uint64
	for i := range values {
		parsed, err := strconv.ParseUint(fields[i+1], 10, 64)
		if err != nil {
			return CPUReading{}, fmt.Errorf("%s: %w: %v", path, errMalformedStat, err)
		}
		values[i] = parsed
	}

	// Fields (0-indexed after stripping "cpu"):
	//   0=user, 1=nice, 2=system, 3=idle, 4=iowait,
	//   5=irq, 6=softirq, 7=steal
	return CPUReading{
		Busy: values[0] + values[1] + values[2] + values[5] + values[6] + values[7],
		Idle: values[3] + values[4],
	}, nil
}

// CPUPercent computes utilization between two sequential readings. The
// second result is false when no time elapsed between them or when the
// counters went backwards (CPU hotplug, counter reset), in which case
// the caller should take a fresh baseline.
func CPUPercent(previous, current CPUReading) (float64, bool) {
	if current.Busy < previous.Busy || current.Idle < previous.Idle {
		return 0, false
	}
	busyDelta := current.Busy - previous.Busy
	totalDelta := busyDelta + (current.Idle - previous.Idle)
	if totalDelta == 0 {
		return 0, false
	}
	return float64(busyDelta) / float64(totalDelta) * 100, true
}
