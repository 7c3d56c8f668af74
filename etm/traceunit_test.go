package etm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"csetm/mmio"
)

func newTestUnit(t *testing.T) (*TraceUnit, *mmio.Block) {
	t.Helper()
	dev := mmio.NewBlock(BlockSize)
	u, err := New(0, dev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return u, dev
}

func TestNewRejectsBadInstance(t *testing.T) {
	dev := mmio.NewBlock(BlockSize)
	if _, err := New(4, dev); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("New(4): got %v, want ErrPrecondition", err)
	}
	if _, err := New(-1, dev); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("New(-1): got %v, want ErrPrecondition", err)
	}
}

func TestUnlockWritesKeyAndClearsOSLock(t *testing.T) {
	u, dev := newTestUnit(t)
	dev.Write32(TRCOSLAR, 1)

	u.Unlock()
	if got := dev.Read32(TRCLAR); got != 0xC5ACCE55 {
		t.Fatalf("TRCLAR = 0x%X, want 0xC5ACCE55", got)
	}
	if got := dev.Read32(TRCOSLAR); got != 0 {
		t.Fatalf("TRCOSLAR = 0x%X, want 0", got)
	}

	u.Lock()
	if got := dev.Read32(TRCLAR); got != 0 {
		t.Fatalf("TRCLAR after Lock = 0x%X, want 0", got)
	}
}

func TestResetEstablishesBaseline(t *testing.T) {
	u, dev := newTestUnit(t)

	// Fill everything Reset must clear with garbage.
	for _, off := range []uint32{
		TRCCONFIGR, TRCEVENTCTL0R, TRCEVENTCTL1R, TRCSTALLCTLR,
		TRCSYNCPR, TRCTRACEIDR, TRCTSCTLR, TRCVICTLR, TRCVIIECTLR,
		TRCVISSCTLR, TRCEXTINSELR,
	} {
		dev.Write32(off, 0xDEADBEEF)
	}
	for n := 2; n < 32; n++ {
		dev.Write32(rsctlr(n), 0xDEADBEEF)
	}
	for n := 0; n < 16; n++ {
		dev.Write64(acvr(n), 0xDEADBEEFDEADBEEF)
		dev.Write64(acatr(n), 0xDEADBEEFDEADBEEF)
	}
	for n := 0; n < 8; n++ {
		dev.Write64(cidcvr(n), 0xDEADBEEFDEADBEEF)
		dev.Write64(vmidcvr(n), 0xDEADBEEFDEADBEEF)
	}
	for n := 0; n < 4; n++ {
		dev.Write32(cntctlr(n), 0xDEADBEEF)
		dev.Write32(cntrldvr(n), 0xDEADBEEF)
		dev.Write32(cntvr(n), 0xDEADBEEF)
	}

	u.Reset()

	want := map[string]uint32{
		"TRCCONFIGR":    0,
		"TRCEVENTCTL0R": 0,
		"TRCEVENTCTL1R": 0,
		"TRCSTALLCTLR":  0,
		"TRCSYNCPR":     0b10100,
		"TRCTRACEIDR":   1,
		"TRCTSCTLR":     0,
		"TRCVICTLR":     0x201,
		"TRCVIIECTLR":   0,
		"TRCVISSCTLR":   0,
		"TRCEXTINSELR":  0,
	}
	got := map[string]uint32{
		"TRCCONFIGR":    dev.Read32(TRCCONFIGR),
		"TRCEVENTCTL0R": dev.Read32(TRCEVENTCTL0R),
		"TRCEVENTCTL1R": dev.Read32(TRCEVENTCTL1R),
		"TRCSTALLCTLR":  dev.Read32(TRCSTALLCTLR),
		"TRCSYNCPR":     dev.Read32(TRCSYNCPR),
		"TRCTRACEIDR":   dev.Read32(TRCTRACEIDR),
		"TRCTSCTLR":     dev.Read32(TRCTSCTLR),
		"TRCVICTLR":     dev.Read32(TRCVICTLR),
		"TRCVIIECTLR":   dev.Read32(TRCVIIECTLR),
		"TRCVISSCTLR":   dev.Read32(TRCVISSCTLR),
		"TRCEXTINSELR":  dev.Read32(TRCEXTINSELR),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("baseline mismatch (-want +got):\n%s", diff)
	}

	for n := 2; n < 32; n++ {
		if v := dev.Read32(rsctlr(n)); v != 0 {
			t.Fatalf("TRCRSCTLR%d = 0x%X after reset", n, v)
		}
	}
	for n := 0; n < 16; n++ {
		if dev.Read64(acvr(n)) != 0 || dev.Read64(acatr(n)) != 0 {
			t.Fatalf("address comparator %d not cleared", n)
		}
	}
	for n := 0; n < 8; n++ {
		if dev.Read64(cidcvr(n)) != 0 || dev.Read64(vmidcvr(n)) != 0 {
			t.Fatalf("context ID comparator %d not cleared", n)
		}
	}
	for n := 0; n < 4; n++ {
		if dev.Read32(cntctlr(n)) != 0 || dev.Read32(cntrldvr(n)) != 0 || dev.Read32(cntvr(n)) != 0 {
			t.Fatalf("counter %d not cleared", n)
		}
	}
}

// pollDevice simulates the hardware's programming-status transition: the
// idle bit follows TRCPRGCTLR writes only after a fixed number of status
// polls.
type pollDevice struct {
	*mmio.Block
	latency int // polls remaining until the idle bit follows prog ctrl
	polls   int
}

func (d *pollDevice) Write32(off uint32, val uint32) {
	if off == TRCPRGCTLR {
		d.latency = 3
	}
	d.Block.Write32(off, val)
}

func (d *pollDevice) Read32(off uint32) uint32 {
	if off != TRCSTATR {
		return d.Block.Read32(off)
	}
	d.polls++
	if d.latency > 0 {
		d.latency--
		// Still in the previous state.
		if d.Block.Read32(TRCPRGCTLR) == 1 {
			return 1 << statrIdleBit
		}
		return 0
	}
	if d.Block.Read32(TRCPRGCTLR) == 1 {
		return 0
	}
	return 1 << statrIdleBit
}

func TestEnableDisableWaitsForStatusTransition(t *testing.T) {
	dev := &pollDevice{Block: mmio.NewBlock(BlockSize)}
	u, err := New(0, dev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	u.Enable()
	if u.IsIdle() {
		t.Fatal("unit reports idle right after Enable")
	}
	if dev.polls < 3 {
		t.Fatalf("Enable polled %d times, want at least 3", dev.polls)
	}

	u.Disable()
	if !u.IsIdle() {
		t.Fatal("unit does not report idle after Disable")
	}
}

func TestSetTraceIDRange(t *testing.T) {
	u, dev := newTestUnit(t)

	if err := u.SetTraceID(0x13); err != nil {
		t.Fatalf("SetTraceID(0x13): %v", err)
	}
	if got := dev.Read32(TRCTRACEIDR); got != 0x13 {
		t.Fatalf("TRCTRACEIDR = 0x%X, want 0x13", got)
	}
	for _, id := range []uint8{0, 0x70, 0x7F} {
		if err := u.SetTraceID(id); !errors.Is(err, ErrPrecondition) {
			t.Fatalf("SetTraceID(0x%02X): got %v, want ErrPrecondition", id, err)
		}
	}
}

func TestSetStallLevels(t *testing.T) {
	u, dev := newTestUnit(t)

	u.SetStall(5)
	v := dev.Read32(TRCSTALLCTLR)
	if v&(1<<8) == 0 || v&(1<<13) == 0 {
		t.Fatalf("TRCSTALLCTLR = 0x%X, stall/overflow bits not set", v)
	}
	if v&0xF != 5 {
		t.Fatalf("TRCSTALLCTLR level = %d, want 5", v&0xF)
	}

	u.SetStall(0)
	v = dev.Read32(TRCSTALLCTLR)
	if v&(1<<8) != 0 || v&(1<<13) != 0 {
		t.Fatalf("TRCSTALLCTLR = 0x%X, stall bits still set after level 0", v)
	}
}

func TestCycleCountThresholdHonorsMinimum(t *testing.T) {
	u, dev := newTestUnit(t)
	dev.Write32(TRCIDR3, 16) // CCITMIN

	u.SetCycleCountThreshold(8)
	if dev.Read32(TRCCONFIGR)&(1<<4) != 0 {
		t.Fatal("cycle counting enabled below CCITMIN")
	}

	u.SetCycleCountThreshold(100)
	if dev.Read32(TRCCONFIGR)&(1<<4) == 0 {
		t.Fatal("cycle counting not enabled")
	}
	if got := dev.Read32(TRCCCCTLR); got != 100 {
		t.Fatalf("TRCCCCTLR = %d, want 100", got)
	}
}

func TestSetExternalInputSlotRange(t *testing.T) {
	u, dev := newTestUnit(t)

	u.SetExternalInput(22, 1)
	if got := dev.Read32(TRCEXTINSELR); got != 22<<8 {
		t.Fatalf("TRCEXTINSELR = 0x%X, want 0x%X", got, 22<<8)
	}

	// Out of range is reported and ignored.
	u.SetExternalInput(7, 4)
	u.SetExternalInput(7, -1)
	if got := dev.Read32(TRCEXTINSELR); got != 22<<8 {
		t.Fatalf("TRCEXTINSELR = 0x%X after out-of-range writes, want 0x%X", got, 22<<8)
	}
}

func TestSetResourceSelectorEncoding(t *testing.T) {
	u, dev := newTestUnit(t)

	u.SetResourceSelector(4, GroupExternalInput, 2, NoOperand, false, false)
	got := dev.Read32(rsctlr(4))
	want := uint32(1<<2) | uint32(GroupExternalInput)<<16
	if got != want {
		t.Fatalf("TRCRSCTLR4 = 0x%X, want 0x%X", got, want)
	}

	u.SetResourceSelector(5, GroupCounterSeq, 0, 1, true, true)
	got = dev.Read32(rsctlr(5))
	want = 1 | 1<<(1+4) | uint32(GroupCounterSeq)<<16 | 1<<20 | 1<<21
	if got != want {
		t.Fatalf("TRCRSCTLR5 = 0x%X, want 0x%X", got, want)
	}
}

func TestSetEventSelectEncoding(t *testing.T) {
	u, dev := newTestUnit(t)

	if err := u.SetEventSelect(2, 9, false); err != nil {
		t.Fatalf("SetEventSelect: %v", err)
	}
	if got := dev.Read32(TRCEVENTCTL0R); got != 9<<16 {
		t.Fatalf("TRCEVENTCTL0R = 0x%X, want 0x%X", got, 9<<16)
	}

	// Pair resources are addressed by their halved base index with the
	// pair flag in the field's top bit.
	if err := u.SetEventSelect(3, 6, true); err != nil {
		t.Fatalf("SetEventSelect pair: %v", err)
	}
	got := dev.Read32(TRCEVENTCTL0R)
	want := uint32(9<<16) | 3<<24 | 1<<31
	if got != want {
		t.Fatalf("TRCEVENTCTL0R = 0x%X, want 0x%X", got, want)
	}

	if err := u.SetEventSelect(4, 2, false); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("SetEventSelect(4): got %v, want ErrPrecondition", err)
	}
}

func TestSetEventTraceMaskAndTrigger(t *testing.T) {
	u, dev := newTestUnit(t)

	u.SetEventTrace(0x3, true)
	if got := dev.Read32(TRCEVENTCTL1R); got != 0x3|1<<11 {
		t.Fatalf("TRCEVENTCTL1R = 0x%X, want 0x%X", got, 0x3|1<<11)
	}
	u.SetEventTrace(0x8, false)
	if got := dev.Read32(TRCEVENTCTL1R); got != 0xB {
		t.Fatalf("TRCEVENTCTL1R = 0x%X, want 0xB", got)
	}
}

func TestSetContextIDFilter(t *testing.T) {
	u, dev := newTestUnit(t)
	dev.Write32(TRCCIDCCTLR0, 0xFF)

	u.SetContextIDFilter(0x1234)
	if got := dev.Read64(cidcvr(0)); got != 0x1234 {
		t.Fatalf("TRCCIDCVR0 = 0x%X, want 0x1234", got)
	}
	if got := dev.Read32(TRCCIDCCTLR0); got != 0 {
		t.Fatalf("TRCCIDCCTLR0 = 0x%X, want 0", got)
	}
}

func TestCapabilitiesDecode(t *testing.T) {
	u, dev := newTestUnit(t)
	// Cortex-A53 ETMv4.0 ID register values.
	dev.Write32(TRCIDR0, 0x28000EA1)
	dev.Write32(TRCIDR1, 0x4100F404)
	dev.Write32(TRCIDR3, 0x80000004)

	c := u.Capabilities()
	if c.MajVersion() != 4 || c.MinVersion() != 0 {
		t.Fatalf("version = %d.%d, want 4.0", c.MajVersion(), c.MinVersion())
	}
	if !c.HasRetStack() {
		t.Fatal("HasRetStack = false")
	}
	if !c.HasBranchBroadcast() {
		t.Fatal("HasBranchBroadcast = false")
	}
	if !c.HasCycleCount() {
		t.Fatal("HasCycleCount = false")
	}
	if got := c.CycleCountMin(); got != 4 {
		t.Fatalf("CycleCountMin = %d, want 4", got)
	}
	if c.SyncPeriodFixed() {
		t.Fatal("SyncPeriodFixed = true")
	}
	if !c.HasOverflowPrevention() {
		t.Fatal("HasOverflowPrevention = false")
	}
	if got := c.NumEvents(); got != 4 {
		t.Fatalf("NumEvents = %d, want 4", got)
	}
}
