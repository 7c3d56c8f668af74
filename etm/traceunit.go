package etm

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"csetm/mmio"
)

// ResourceGroup selects the hardware signal group a resource selector
// watches. Values match the TRCRSCTLR GROUP field encoding.
type ResourceGroup uint32

const (
	GroupExternalInput ResourceGroup = 0b0000
	GroupCounterSeq    ResourceGroup = 0b0010
	GroupSingleAddr    ResourceGroup = 0b0100
	GroupAddrRange     ResourceGroup = 0b0101
	GroupContextID     ResourceGroup = 0b0110
	GroupVMID          ResourceGroup = 0b0111
)

func (g ResourceGroup) String() string {
	switch g {
	case GroupExternalInput:
		return "EXTIN"
	case GroupCounterSeq:
		return "COUNTER_SEQ"
	case GroupSingleAddr:
		return "SINGLE_ADDR"
	case GroupAddrRange:
		return "ADDR_RANGE"
	case GroupContextID:
		return "CONTEXT_ID"
	case GroupVMID:
		return "VMID"
	default:
		return "UNKNOWN"
	}
}

// NoOperand marks the second selector operand as unused. Only the
// counter/sequencer group has a second operand (the sequencer state).
const NoOperand = -1

// Reserved resource selector slots, fixed by the architecture and never
// issued by the selector pool.
const (
	ResourceNever  = 0 // always false
	ResourceAlways = 1 // always true
)

// MaxTraceUnits is the number of trace unit instances on the target
// (one per processor core).
const MaxTraceUnits = 4

// NumEventSlots is the number of event-packet output positions.
const NumEventSlots = 4

// TraceUnit is one ETMv4 instance. It owns the register window and the
// three slot pools of that instance. All configuration methods mutate
// hardware state through the register device only.
//
// Configuration is expected to happen from one goroutine before Enable. An
// internal mutex keeps the pool cursors consistent if scenario builders are
// nevertheless called concurrently, but interleaved register programming of
// one instance from multiple goroutines is the caller's problem.
type TraceUnit struct {
	id  int
	dev mmio.Device

	mu      sync.Mutex
	addrCmp Pool // address comparator slots 0..7
	resSel  Pool // resource selector slots 2..15 (0,1 reserved)
	extSel  Pool // external input selector slots 0..3
}

// New creates the trace unit with the given instance ID (0..3) over its
// register window. Pool cursors are initialized once here and never reset;
// the hardware resources are not virtualized within a session.
func New(id int, dev mmio.Device) (*TraceUnit, error) {
	if id < 0 || id >= MaxTraceUnits {
		return nil, fmt.Errorf("trace unit id %d outside 0..%d: %w",
			id, MaxTraceUnits-1, ErrPrecondition)
	}
	return &TraceUnit{
		id:      id,
		dev:     dev,
		addrCmp: NewPool("address comparators", 0, 7),
		resSel:  NewPool("resource selectors", 2, 15),
		extSel:  NewPool("external input selectors", 0, 3),
	}, nil
}

// ID returns the positional instance identity.
func (u *TraceUnit) ID() int {
	return u.id
}

// Status is a readback snapshot of the unit's control and lock state.
type Status struct {
	ProgCtrl     uint32
	TraceStatus  uint32
	OSLockStatus uint32
}

// Status reads back the programming, trace and OS-lock status registers.
func (u *TraceUnit) Status() Status {
	return Status{
		ProgCtrl:     u.dev.Read32(TRCPRGCTLR),
		TraceStatus:  u.dev.Read32(TRCSTATR),
		OSLockStatus: u.dev.Read32(TRCOSLSR),
	}
}

// Unlock writes the software lock key and clears the OS lock, making the
// configuration registers writable. No status polling is required.
func (u *TraceUnit) Unlock() {
	u.dev.Write32(TRCLAR, unlockKey)
	u.dev.Write32(TRCOSLAR, 0)
}

// Lock re-engages the software lock.
func (u *TraceUnit) Lock() {
	u.dev.Write32(TRCLAR, 0)
}

// Reset programs the documented baseline into every configuration register,
// clearing whatever the previous session (or power-up garbage) left behind.
// Call it before any scenario builder.
func (u *TraceUnit) Reset() {
	u.dev.Write32(TRCCONFIGR, 0)
	u.dev.Write32(TRCEVENTCTL0R, 0)
	u.dev.Write32(TRCEVENTCTL1R, 0)
	u.dev.Write32(TRCSTALLCTLR, 0)
	u.dev.Write32(TRCSYNCPR, resetSyncPeriod)
	u.dev.Write32(TRCTRACEIDR, resetTraceID)
	u.dev.Write32(TRCTSCTLR, 0)
	u.dev.Write32(TRCVICTLR, resetVICTLR)
	u.dev.Write32(TRCVIIECTLR, 0)
	u.dev.Write32(TRCVISSCTLR, 0)
	u.dev.Write32(TRCEXTINSELR, 0)

	// Slots 0 and 1 are the fixed FALSE/TRUE resources and have no control
	// register state to clear.
	for n := 2; n < numResourceSels; n++ {
		u.dev.Write32(rsctlr(n), 0)
	}
	for n := 0; n < numAddrComparators; n++ {
		u.dev.Write64(acvr(n), 0)
		u.dev.Write64(acatr(n), 0)
	}
	for n := 0; n < numContextIDCmps; n++ {
		u.dev.Write64(cidcvr(n), 0)
		u.dev.Write64(vmidcvr(n), 0)
	}
	for n := 0; n < numCounters; n++ {
		u.dev.Write32(cntctlr(n), 0)
		u.dev.Write32(cntrldvr(n), 0)
		u.dev.Write32(cntvr(n), 0)
	}
}

// Enable starts the trace unit and spins until the status register reports
// it left the idle state. The wait is unbounded: the transition latency is
// fixed by the silicon, not by data-dependent work.
func (u *TraceUnit) Enable() {
	u.dev.Write32(TRCPRGCTLR, 1)
	for u.dev.Read32(TRCSTATR)&(1<<statrIdleBit) != 0 {
	}
}

// Disable stops the trace unit and spins until it reports idle again.
func (u *TraceUnit) Disable() {
	u.dev.Write32(TRCPRGCTLR, 0)
	for u.dev.Read32(TRCSTATR)&(1<<statrIdleBit) == 0 {
	}
}

// IsIdle reports whether the unit is in the idle state.
func (u *TraceUnit) IsIdle() bool {
	return u.dev.Read32(TRCSTATR)&(1<<statrIdleBit) != 0
}

// SetTraceID programs the trace stream ID. Valid CoreSight source IDs are
// 0x01..0x6F; 0x00 and 0x70..0x7F are reserved by the architecture.
func (u *TraceUnit) SetTraceID(id uint8) error {
	if id == 0 || id >= 0x70 {
		return fmt.Errorf("trace ID 0x%02X outside valid range 0x01..0x6F: %w",
			id, ErrPrecondition)
	}
	u.dev.Write32(TRCTRACEIDR, uint32(id))
	return nil
}

// SetSyncPeriod programs the sync packet period field: 0 disables
// periodic sync, 0b01000..0b10100 select 2^8..2^20 bytes per packet.
func (u *TraceUnit) SetSyncPeriod(p uint32) {
	u.dev.Write32(TRCSYNCPR, p)
}

// SetStall programs the invasion level 0..15 at which the unit is allowed
// to stall the processor to avoid trace overflow. Level 0 turns stalling
// and overflow prevention off.
func (u *TraceUnit) SetStall(level uint32) {
	v := u.dev.Read32(TRCSTALLCTLR)
	if level != 0 {
		v |= 1 << stallCtlISTALLBit
		v |= 1 << stallCtlNOOVERFLOWBit
		v |= level & 0xF
	} else {
		v &^= 1 << stallCtlISTALLBit
		v &^= 1 << stallCtlNOOVERFLOWBit
	}
	u.dev.Write32(TRCSTALLCTLR, v)
}

// SetCycleCountThreshold enables cycle counting with the given instruction
// cycle count threshold. A threshold below the implementation minimum
// (TRCIDR3.CCITMIN) cannot be honored: cycle counting is left disabled and
// a warning is logged.
func (u *TraceUnit) SetCycleCountThreshold(cci uint32) {
	ccimin := u.dev.Read32(TRCIDR3) & 0xFFF
	cfg := u.dev.Read32(TRCCONFIGR)
	if cci < ccimin {
		log.Warnf("etm%d: cycle count threshold %d below implementation minimum %d, cycle count not enabled",
			u.id, cci, ccimin)
		u.dev.Write32(TRCCONFIGR, cfg&^(1<<configrCCBit))
		return
	}
	u.dev.Write32(TRCCONFIGR, cfg|1<<configrCCBit)
	u.dev.Write32(TRCCCCTLR, cci)
}

// SetBranchBroadcast enables branch broadcasting over the address ranges
// selected by mask, optionally inverting the range match sense.
func (u *TraceUnit) SetBranchBroadcast(invert bool, mask uint8) {
	u.dev.Write32(TRCCONFIGR, u.dev.Read32(TRCCONFIGR)|1<<configrBBBit)
	v := u.dev.Read32(TRCBBCTLR)
	if invert {
		v |= 1 << bbctlrModeBit
	} else {
		v &^= 1 << bbctlrModeBit
	}
	u.dev.Write32(TRCBBCTLR, v|uint32(mask))
}

// SetContextIDFilter programs context ID comparator 0 to match cid with no
// mask, so address comparators flagged for context comparison only fire for
// that process.
func (u *TraceUnit) SetContextIDFilter(cid uint64) {
	u.dev.Write64(cidcvr(0), cid)
	u.dev.Write32(TRCCIDCCTLR0, 0)
}

// setAddrComparator programs one address comparator slot with an instruction
// address match, optionally tied to context ID comparator 0. The VMID
// compare bit is always cleared: the slot is left in plain match mode.
func (u *TraceUnit) setAddrComparator(slot int, addr uint64, cmpContextID bool) {
	u.dev.Write64(acvr(slot), addr)
	t := u.dev.Read64(acatr(slot))
	if cmpContextID {
		t |= 1 << acatrCtxtIDCmpBit
	} else {
		t &^= 1 << acatrCtxtIDCmpBit
	}
	t &^= 1 << acatrVMIDCmpBit
	u.dev.Write64(acatr(slot), t)
}

// SetResourceSelector programs selector slot index to watch the given
// signal group. op1 selects the member signal within the group. op2 is only
// meaningful for the counter/sequencer group, where it selects a sequencer
// state; pass NoOperand otherwise. invert negates the selector output,
// pairInvert negates the combined output of a selector pair.
//
// Slots 0 and 1 are the architectural FALSE/TRUE resources. Writing them is
// accepted by hardware but almost always a caller mistake, so it is logged
// and performed as requested.
func (u *TraceUnit) SetResourceSelector(index int, group ResourceGroup, op1, op2 int, invert, pairInvert bool) {
	if index < ResourceAlways+1 {
		log.Warnf("etm%d: resource selector %d is a reserved constant slot, programming it anyway",
			u.id, index)
	}
	v := uint32(1) << uint(op1)
	if group == GroupCounterSeq && op2 >= 0 {
		v |= 1 << uint(op2+rsctlrSeqSelShift)
	}
	v |= uint32(group) << rsctlrGroupShift
	if invert {
		v |= 1 << rsctlrInvertBit
	}
	if pairInvert {
		v |= 1 << rsctlrPairInvBit
	}
	u.dev.Write32(rsctlr(index), u.dev.Read32(rsctlr(index))|v)
}

// SetExternalInput routes the PMU event bus number into external input
// selector slot 0..3 by ORing it into the slot's byte field of the shared
// select register. An out-of-range slot is reported and ignored.
func (u *TraceUnit) SetExternalInput(eventBus int, slot int) {
	if slot < 0 || slot > 3 {
		log.Warnf("etm%d: external input selector slot %d outside 0..3, ignored", u.id, slot)
		return
	}
	v := u.dev.Read32(TRCEXTINSELR)
	v |= uint32(eventBus) << uint(8*slot)
	u.dev.Write32(TRCEXTINSELR, v)
}

// SetEventSelect binds the resource at resourceIndex (a pair base when
// isPair is set) to event-packet output position packetSlot 0..3. Pairs are
// addressed by their base slot halved, per the event select encoding.
func (u *TraceUnit) SetEventSelect(packetSlot, resourceIndex int, isPair bool) error {
	if packetSlot < 0 || packetSlot >= NumEventSlots {
		return fmt.Errorf("event packet position %d outside 0..%d: %w",
			packetSlot, NumEventSlots-1, ErrPrecondition)
	}
	if !isPair && resourceIndex < ResourceAlways+1 {
		log.Warnf("etm%d: event select %d uses reserved constant resource %d, make sure it is intended",
			u.id, packetSlot, resourceIndex)
	}
	sel := resourceIndex
	if isPair {
		sel = resourceIndex / 2
	}
	shift := uint(eventSelFieldWidth * packetSlot)
	v := u.dev.Read32(TRCEVENTCTL0R)
	v |= uint32(sel) << shift
	if isPair {
		v |= 1 << (eventSelPairBit + shift)
	} else {
		v &^= 1 << (eventSelPairBit + shift)
	}
	u.dev.Write32(TRCEVENTCTL0R, v)
	return nil
}

// SetEventTrace ORs mask into the set of event-packet positions that are
// actually emitted into the trace stream, and drives the ATB trigger enable.
func (u *TraceUnit) SetEventTrace(mask uint32, atbTrigger bool) {
	v := u.dev.Read32(TRCEVENTCTL1R)
	v |= mask
	if atbTrigger {
		v |= 1 << eventCtl1ATBBit
	} else {
		v &^= 1 << eventCtl1ATBBit
	}
	u.dev.Write32(TRCEVENTCTL1R, v)
}
