//go:build linux

package pmu

import (
	"fmt"

	"github.com/elastic/go-perf"
)

// Group is an open set of PMU counters read together. The first event is
// the group leader; one read returns all values atomically with respect to
// each other.
type Group struct {
	events []Event
	leader *perf.Event
}

// OpenGroup opens the events as one perf event group counting the calling
// process on any CPU. Counters start enabled.
func OpenGroup(events []Event) (*Group, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("pmu: no events to open")
	}

	var g perf.Group
	for _, ev := range events {
		g.Add(&perf.Attr{
			Label:  ev.Name,
			Type:   perf.RawEvent,
			Config: uint64(ev.Number),
		})
	}

	leader, err := g.Open(perf.CallingThread, perf.AnyCPU)
	if err != nil {
		return nil, fmt.Errorf("pmu: open counter group: %w", err)
	}
	if err := leader.Enable(); err != nil {
		leader.Close()
		return nil, fmt.Errorf("pmu: enable counter group: %w", err)
	}
	return &Group{events: events, leader: leader}, nil
}

// Events returns the events this group was opened with, in read order.
func (g *Group) Events() []Event {
	return g.events
}

// Read returns the current raw counter values in the order the events were
// opened.
func (g *Group) Read() ([]uint64, error) {
	gc, err := g.leader.ReadGroupCount()
	if err != nil {
		return nil, fmt.Errorf("pmu: read counter group: %w", err)
	}
	if len(gc.Values) != len(g.events) {
		return nil, fmt.Errorf("pmu: read %d values, expected %d", len(gc.Values), len(g.events))
	}
	values := make([]uint64, len(gc.Values))
	for i, v := range gc.Values {
		values[i] = v.Value
	}
	return values, nil
}

// Close releases the group's file descriptors.
func (g *Group) Close() error {
	return g.leader.Close()
}
