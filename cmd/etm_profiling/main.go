//go:build linux

// Command etm_profiling configures one trace unit for a profiling session:
// it maps the unit's register window, applies the requested address-range
// and PMU-event routing, runs an enable/disable interval and reports the
// PMU counter deltas observed across it.
//
// Trace sink configuration and decoding of the captured byte stream are
// separate concerns handled by other tools.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"
	log "github.com/sirupsen/logrus"

	"csetm/etm"
	"csetm/mmio"
	"csetm/pmu"
)

// apuETMBase is the register base of the first APU core's trace unit on the
// ZynqMP (ZCU102/Kria) target; the per-core windows are 0x100000 apart.
const (
	apuETMBase   = 0xFEC40000
	apuETMStride = 0x100000
)

type eventList []pmu.Event

func (e *eventList) String() string {
	return fmt.Sprintf("%d events", len(*e))
}

func (e *eventList) Set(spec string) error {
	ev, err := pmu.ParseEvent(spec)
	if err != nil {
		return err
	}
	*e = append(*e, ev)
	return nil
}

func main() {
	fs := flag.NewFlagSet("etm_profiling", flag.ExitOnError)
	var (
		unit          = fs.Int("unit", 0, "trace unit instance to configure (0..3)")
		base          = fs.Uint64("base", 0, "register base address override (default: APU ETM for -unit)")
		traceID       = fs.Uint("trace-id", 1, "trace stream ID (0x01..0x6F)")
		rangeStart    = fs.Uint64("range-start", 0, "include instruction range start address")
		rangeEnd      = fs.Uint64("range-end", 0, "include instruction range end address")
		contextID     = fs.Uint64("context-id", 0, "restrict tracing to this context ID (PID)")
		counterReload = fs.Uint64("counter-reload", 0, "fire an event packet every N counted events (32-bit counter)")
		duration      = fs.Duration("duration", 5*time.Second, "length of the enabled trace interval")
		stall         = fs.Uint("stall", 0, "processor stall level 0..15 for overflow prevention")
		verbose       = fs.Bool("v", false, "debug logging")
		_             = fs.String("config", "", "config file (flag-per-line)")
	)
	var events eventList
	fs.Var(&events, "pmu-event", "PMU event to route into the trace, name:number (repeatable)")

	err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("ETM_PROFILING"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := run(*unit, *base, uint8(*traceID), *rangeStart, *rangeEnd,
		*contextID, uint32(*counterReload), uint32(*stall), *duration, events); err != nil {
		log.Fatal(err)
	}
}

func run(unit int, base uint64, traceID uint8, rangeStart, rangeEnd, contextID uint64,
	counterReload, stall uint32, duration time.Duration, events []pmu.Event) error {
	if base == 0 {
		base = apuETMBase + uint64(unit)*apuETMStride
	}

	region, err := mmio.Map(base, etm.BlockSize)
	if err != nil {
		return fmt.Errorf("map trace unit %d at 0x%X: %w", unit, base, err)
	}
	defer region.Close()

	u, err := etm.New(unit, region)
	if err != nil {
		return err
	}

	u.Unlock()
	log.Infof("etm%d at 0x%X: %s", unit, base, u.Capabilities())
	u.Reset()

	if err := u.SetTraceID(traceID); err != nil {
		return err
	}
	if stall != 0 {
		u.SetStall(stall)
	}
	if contextID != 0 {
		u.SetContextIDFilter(contextID)
	}
	if rangeEnd > rangeStart {
		if err := u.RegisterRange(rangeStart, rangeEnd, contextID != 0); err != nil {
			return err
		}
	}
	for _, ev := range events {
		if counterReload != 0 {
			if err := u.LargeCounterFireEvent(ev.Number, counterReload); err != nil {
				return err
			}
			// Only one chained counter pair exists; further events are
			// routed straight through.
			counterReload = 0
			continue
		}
		if err := u.RegisterPMUEvent(ev.Number); err != nil {
			return err
		}
	}

	counted := events
	if len(counted) == 0 {
		counted = pmu.DefaultEvents
	}
	group, err := pmu.OpenGroup(counted)
	if err != nil {
		return err
	}
	defer group.Close()

	prev, err := group.Read()
	if err != nil {
		return err
	}

	u.Enable()
	log.Infof("etm%d enabled for %s", unit, duration)
	time.Sleep(duration)
	u.Disable()
	log.Infof("etm%d disabled, status %+v", unit, u.Status())

	curr, err := group.Read()
	if err != nil {
		return err
	}
	for i, d := range pmu.Delta(curr, prev) {
		fmt.Printf("%-24s %12d\n", counted[i].Name, d)
	}
	return nil
}
