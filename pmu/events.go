// Package pmu acquires performance-monitor counters for a trace session and
// names the event bus numbers used to wire PMU events into the trace unit.
package pmu

import (
	"fmt"
	"strconv"
	"strings"
)

// Cortex-A53/A57/A72 PMU event bus numbers. The same numbers select the
// event on the perf side (raw event config) and on the trace-unit side
// (external input routing).
const (
	EventSWIncr          = 0x00
	EventL1ICacheRefill  = 0x01
	EventL1ITLBRefill    = 0x02
	EventL1DCacheRefill  = 0x03
	EventL1DCache        = 0x04
	EventL1DTLBRefill    = 0x05
	EventLoadRetired     = 0x06
	EventStoreRetired    = 0x07
	EventInstRetired     = 0x08
	EventExcTaken        = 0x09
	EventExcReturn       = 0x0A
	EventCIDWriteRetired = 0x0B
	EventBranchMispred   = 0x10
	EventCPUCycles       = 0x11
	EventBranchPred      = 0x12
	EventMemAccess       = 0x13
	EventL1ICache        = 0x14
	EventL1DCacheWB      = 0x15
	EventL2DCache        = 0x16
	EventL2DCacheRefill  = 0x17
	EventL2DCacheWB      = 0x18
	EventBusAccess       = 0x19
	EventMemError        = 0x1A
	EventBusCycles       = 0x1D
)

// Event is one PMU event to count, with the name it is reported under.
type Event struct {
	Name   string
	Number int
}

// DefaultEvents are the counters the profiling driver reads around a trace
// session when the configuration names none.
var DefaultEvents = []Event{
	{Name: "l2d-cache-refill", Number: EventL2DCacheRefill},
	{Name: "l2d-cache-wb", Number: EventL2DCacheWB},
}

// ParseEvent parses a "name:number" event spec as used by the profiling
// configuration. The number may be decimal or 0x-prefixed hex.
func ParseEvent(spec string) (Event, error) {
	name, num, ok := strings.Cut(spec, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Event{}, fmt.Errorf("pmu: event spec %q is not name:number", spec)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(num), 0, 32)
	if err != nil {
		return Event{}, fmt.Errorf("pmu: event spec %q: %w", spec, err)
	}
	return Event{Name: name, Number: int(n)}, nil
}

// Delta subtracts prev from curr element-wise. Lengths must match; the
// counters are monotonic within one session.
func Delta(curr, prev []uint64) []uint64 {
	d := make([]uint64, len(curr))
	for i := range curr {
		d[i] = curr[i] - prev[i]
	}
	return d
}
