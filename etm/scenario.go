package etm

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Scenario builders. Each one draws slots from the unit's pools and
// sequences the register primitives into one user-visible feature. A
// returned ErrResourceExhausted means the configuration sequence must be
// abandoned: the partially wired state is only safe because the unit has
// not been enabled yet.

// RegisterRange includes the instruction address range [start, end] in the
// trace. It claims one address comparator pair, programs the two halves
// with the range bounds and flags the pair in the ViewInst include control.
// With cmpContextID set the range only matches the process programmed via
// SetContextIDFilter.
func (u *TraceUnit) RegisterRange(start, end uint64, cmpContextID bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	base, err := u.addrCmp.allocPair()
	if err != nil {
		return fmt.Errorf("etm%d: register range: %w", u.id, err)
	}
	u.setAddrComparator(base, start, cmpContextID)
	u.setAddrComparator(base+1, end, cmpContextID)
	u.dev.Write32(TRCVIIECTLR, u.dev.Read32(TRCVIIECTLR)|1<<uint(base/2))

	log.Debugf("etm%d: range 0x%X..0x%X on comparator pair %d/%d", u.id, start, end, base, base+1)
	return nil
}

// RegisterStartStopAddr switches ViewInst into start/stop filtering: trace
// turns on when execution reaches start and off when it reaches stop. The
// two comparators are claimed as independent singles, not a pair; start/stop
// slots are flagged individually and the stop flag lives in the control
// register's high half. Context ID comparison is forced on for both.
func (u *TraceUnit) RegisterStartStopAddr(start, stop uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	startCmp, err := u.addrCmp.allocSingle()
	if err != nil {
		return fmt.Errorf("etm%d: register start/stop: %w", u.id, err)
	}
	stopCmp, err := u.addrCmp.allocSingle()
	if err != nil {
		return fmt.Errorf("etm%d: register start/stop: %w", u.id, err)
	}
	u.setAddrComparator(startCmp, start, true)
	u.setAddrComparator(stopCmp, stop, true)
	u.dev.Write32(TRCVICTLR, victlrStartStopMode)
	v := u.dev.Read32(TRCVISSCTLR)
	v |= 1 << uint(startCmp)
	v |= 1 << uint(stopCmp+vissStopShift)
	u.dev.Write32(TRCVISSCTLR, v)

	log.Debugf("etm%d: start/stop 0x%X (cmp %d) .. 0x%X (cmp %d)", u.id, start, startCmp, stop, stopCmp)
	return nil
}

// RegisterSingleAddrMatchEvent emits an event packet whenever the exact
// instruction address is hit: one comparator watches the address, one
// resource selector watches the comparator, and the selector is bound to an
// event-packet position which is then enabled in the trace mask.
func (u *TraceUnit) RegisterSingleAddrMatchEvent(addr uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	cmp, err := u.addrCmp.allocSingle()
	if err != nil {
		return fmt.Errorf("etm%d: single address match: %w", u.id, err)
	}
	rs, err := u.resSel.allocSingle()
	if err != nil {
		return fmt.Errorf("etm%d: single address match: %w", u.id, err)
	}
	slot, err := u.extSel.allocSingle()
	if err != nil {
		return fmt.Errorf("etm%d: single address match: %w", u.id, err)
	}

	u.setAddrComparator(cmp, addr, true)
	u.SetResourceSelector(rs, GroupSingleAddr, cmp, NoOperand, false, false)
	if err := u.SetEventSelect(slot, rs, false); err != nil {
		return err
	}
	u.SetEventTrace(1<<uint(slot), false)

	log.Debugf("etm%d: address 0x%X -> event position %d (cmp %d, rs %d)", u.id, addr, slot, cmp, rs)
	return nil
}

// RegisterPMUEvent routes a PMU event bus into the trace stream as event
// packets. This is the four-step routing pipeline every event scenario
// reuses: event bus -> external input selector -> resource selector ->
// event-packet position -> trace-enable mask.
func (u *TraceUnit) RegisterPMUEvent(eventBus int) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	rs, err := u.resSel.allocSingle()
	if err != nil {
		return fmt.Errorf("etm%d: register PMU event %d: %w", u.id, eventBus, err)
	}
	slot, err := u.extSel.allocSingle()
	if err != nil {
		return fmt.Errorf("etm%d: register PMU event %d: %w", u.id, eventBus, err)
	}

	u.SetExternalInput(eventBus, slot)
	u.SetResourceSelector(rs, GroupExternalInput, slot, NoOperand, false, false)
	if err := u.SetEventSelect(slot, rs, false); err != nil {
		return err
	}
	u.SetEventTrace(1<<uint(slot), false)

	log.Debugf("etm%d: event bus %d -> event position %d (rs %d, extsel %d)", u.id, eventBus, slot, rs, slot)
	return nil
}

// AlwaysFireEvent binds the constant-true resource to event position pos so
// packets are emitted at the maximum rate. Useful to measure the trace
// path's raw packet throughput.
func (u *TraceUnit) AlwaysFireEvent(pos int) error {
	if err := u.SetEventSelect(pos, ResourceAlways, false); err != nil {
		return err
	}
	u.SetEventTrace(1<<uint(pos), false)
	return nil
}

// SingleCounter programs 16-bit counter 0 to count occurrences of the given
// PMU event bus, self-reloading from reload when it hits zero.
func (u *TraceUnit) SingleCounter(eventBus int, reload uint16) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, err := u.singleCounterLocked(eventBus, reload)
	return err
}

func (u *TraceUnit) singleCounterLocked(eventBus int, reload uint16) (int, error) {
	rs, err := u.resSel.allocSingle()
	if err != nil {
		return 0, fmt.Errorf("etm%d: single counter: %w", u.id, err)
	}
	slot, err := u.extSel.allocSingle()
	if err != nil {
		return 0, fmt.Errorf("etm%d: single counter: %w", u.id, err)
	}

	// Counter 0 decrements when the resource fires.
	u.dev.Write32(cntctlr(0), uint32(rs))
	u.dev.Write32(cntvr(0), uint32(reload))

	u.SetResourceSelector(rs, GroupExternalInput, slot, NoOperand, false, false)
	u.SetExternalInput(eventBus, slot)

	u.dev.Write32(cntctlr(0), u.dev.Read32(cntctlr(0))|1<<cntctlrReloadBit)
	u.dev.Write32(cntrldvr(0), uint32(reload))

	log.Debugf("etm%d: counter 0 counts event bus %d, reload %d (rs %d, extsel %d)",
		u.id, eventBus, reload, rs, slot)
	return rs, nil
}

// SingleCounterFireEvent is SingleCounter plus an event packet at position 3
// every time the counter wraps: a second selector watches the counter-zero
// signal and is bound to the event logic.
func (u *TraceUnit) SingleCounterFireEvent(eventBus int, reload uint16) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, err := u.singleCounterLocked(eventBus, reload); err != nil {
		return err
	}
	rsFire, err := u.resSel.allocSingle()
	if err != nil {
		return fmt.Errorf("etm%d: single counter fire event: %w", u.id, err)
	}
	u.SetResourceSelector(rsFire, GroupCounterSeq, 0, NoOperand, false, false)

	const pos = NumEventSlots - 1
	if err := u.SetEventSelect(pos, rsFire, false); err != nil {
		return err
	}
	u.SetEventTrace(1<<pos, false)
	return nil
}

// SetLargeCounter composes a 32-bit self-reloading counter from the two
// adjacent 16-bit slots starting at base. The low slot carries bits 0..15
// of value and reload, the high slot bits 16..31 plus the chain flag that
// makes the hardware treat the pair as one down-counter. The target
// implements exactly one chainable pair, so base must be 0.
func (u *TraceUnit) SetLargeCounter(base int, value uint32) error {
	if base != 0 {
		return fmt.Errorf("large counter base %d: only counter pair 0/1 exists on this target: %w",
			base, ErrPrecondition)
	}
	u.dev.Write32(cntvr(base), value&0xFFFF)
	u.dev.Write32(cntvr(base+1), value>>16)
	u.dev.Write32(cntrldvr(base), value&0xFFFF)
	u.dev.Write32(cntrldvr(base+1), value>>16)

	u.dev.Write32(cntctlr(base), u.dev.Read32(cntctlr(base))|1<<cntctlrReloadBit)
	u.dev.Write32(cntctlr(base+1), u.dev.Read32(cntctlr(base+1))|1<<cntctlrReloadBit|1<<cntctlrChainBit)
	return nil
}

// ReadLargeCounter composes the live 32-bit value from the two halves.
// The two 16-bit reads are not atomic with respect to hardware decrements:
// a value read while tracing is enabled may be torn.
func (u *TraceUnit) ReadLargeCounter(base int) (uint32, error) {
	if base != 0 {
		return 0, fmt.Errorf("large counter base %d: only counter pair 0/1 exists on this target: %w",
			base, ErrPrecondition)
	}
	return u.dev.Read32(cntvr(base)) | u.dev.Read32(cntvr(base+1))<<16, nil
}

// LargeCounterOnEvent counts the given PMU event bus on the chained 32-bit
// counter pair 0/1 with the given reload value.
func (u *TraceUnit) LargeCounterOnEvent(eventBus int, reload uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, err := u.largeCounterOnEventLocked(eventBus, reload)
	return err
}

func (u *TraceUnit) largeCounterOnEventLocked(eventBus int, reload uint32) (int, error) {
	rs, err := u.resSel.allocSingle()
	if err != nil {
		return 0, fmt.Errorf("etm%d: large counter: %w", u.id, err)
	}
	slot, err := u.extSel.allocSingle()
	if err != nil {
		return 0, fmt.Errorf("etm%d: large counter: %w", u.id, err)
	}

	u.SetExternalInput(eventBus, slot)
	u.SetResourceSelector(rs, GroupExternalInput, slot, NoOperand, false, false)
	if err := u.SetLargeCounter(0, reload); err != nil {
		return 0, err
	}
	// The low half decrements when the PMU resource fires.
	u.dev.Write32(cntctlr(0), u.dev.Read32(cntctlr(0))|uint32(rs))

	log.Debugf("etm%d: 32-bit counter counts event bus %d, reload %d (rs %d, extsel %d)",
		u.id, eventBus, reload, rs, slot)
	return rs, nil
}

// LargeCounterFireEvent counts the PMU event bus on the 32-bit counter pair
// and emits an event packet at position 3 each time the whole counter wraps.
// A selector pair watches the two counter-zero signals; the pair combines
// them with AND, so it fires only when both halves are zero.
func (u *TraceUnit) LargeCounterFireEvent(eventBus int, reload uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	rsPair, err := u.resSel.allocPair()
	if err != nil {
		return fmt.Errorf("etm%d: large counter fire event: %w", u.id, err)
	}
	if _, err := u.largeCounterOnEventLocked(eventBus, reload); err != nil {
		return err
	}

	u.SetResourceSelector(rsPair, GroupCounterSeq, 0, NoOperand, false, false)
	u.SetResourceSelector(rsPair+1, GroupCounterSeq, 1, NoOperand, false, false)

	const pos = NumEventSlots - 1
	if err := u.SetEventSelect(pos, rsPair, true); err != nil {
		return err
	}
	u.SetEventTrace(1<<pos, false)
	return nil
}

// LargeCounterRapidFire drives the 32-bit counter pair from the constant
// TRUE resource so it decrements every cycle, emitting an event packet at
// position pos on every wrap. Like AlwaysFireEvent this exists to exercise
// the trace path, with the rate divided by the reload value.
func (u *TraceUnit) LargeCounterRapidFire(pos int, reload uint32) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	rsPair, err := u.resSel.allocPair()
	if err != nil {
		return fmt.Errorf("etm%d: large counter rapid fire: %w", u.id, err)
	}
	if err := u.SetLargeCounter(0, reload); err != nil {
		return err
	}
	u.dev.Write32(cntctlr(0), u.dev.Read32(cntctlr(0))|ResourceAlways)

	u.SetResourceSelector(rsPair, GroupCounterSeq, 0, NoOperand, false, false)
	u.SetResourceSelector(rsPair+1, GroupCounterSeq, 1, NoOperand, false, false)

	if err := u.SetEventSelect(pos, rsPair, true); err != nil {
		return err
	}
	u.SetEventTrace(1<<uint(pos), false)
	return nil
}
