// Package etm configures ETMv4 trace units: resource allocation, register
// primitives and the scenario builders composed from them.
package etm

// ETMv4 register offsets within one 4KiB component block.
// Array registers take the slot index n; widths are 32-bit unless noted.
const (
	TRCPRGCTLR    uint32 = 0x004 // programming control (enable bit)
	TRCSTATR      uint32 = 0x00C // trace status
	TRCCONFIGR    uint32 = 0x010 // trace configuration
	TRCEVENTCTL0R uint32 = 0x020 // event control 0 (event selects)
	TRCEVENTCTL1R uint32 = 0x024 // event control 1 (trace mask, ATB trigger)
	TRCSTALLCTLR  uint32 = 0x02C // stall control
	TRCTSCTLR     uint32 = 0x030 // global timestamp control
	TRCSYNCPR     uint32 = 0x034 // sync period
	TRCCCCTLR     uint32 = 0x038 // cycle count control
	TRCBBCTLR     uint32 = 0x03C // branch broadcast control
	TRCTRACEIDR   uint32 = 0x040 // trace stream ID
	TRCVICTLR     uint32 = 0x080 // ViewInst main control
	TRCVIIECTLR   uint32 = 0x084 // ViewInst include/exclude control
	TRCVISSCTLR   uint32 = 0x088 // ViewInst start/stop control
	TRCEXTINSELR  uint32 = 0x120 // external input select
	TRCIDR0       uint32 = 0x1E0 // ID register 0
	TRCIDR1       uint32 = 0x1E4 // ID register 1
	TRCIDR2       uint32 = 0x1E8 // ID register 2
	TRCIDR3       uint32 = 0x1EC // ID register 3
	TRCOSLAR      uint32 = 0x300 // OS lock access
	TRCOSLSR      uint32 = 0x304 // OS lock status
	TRCLAR        uint32 = 0xFB0 // software lock access
	TRCLSR        uint32 = 0xFB4 // software lock status
	TRCCIDCCTLR0  uint32 = 0x680 // context ID comparator control 0

	// Array register bases.
	TRCCNTRLDVR uint32 = 0x140 // counter reload value, 4 slots
	TRCCNTCTLR  uint32 = 0x150 // counter control, 4 slots
	TRCCNTVR    uint32 = 0x160 // counter value, 4 slots
	TRCRSCTLR   uint32 = 0x200 // resource selector control, slots 0..31
	TRCACVR     uint32 = 0x400 // address comparator value, 64-bit, 16 slots
	TRCACATR    uint32 = 0x480 // address comparator access type, 64-bit, 16 slots
	TRCCIDCVR   uint32 = 0x600 // context ID comparator value, 64-bit, 8 slots
	TRCVMIDCVR  uint32 = 0x640 // VMID comparator value, 64-bit, 8 slots
)

// BlockSize is the size of one trace unit's register window.
const BlockSize = 0x1000

// unlockKey is the CoreSight software lock key written to TRCLAR.
const unlockKey uint32 = 0xC5ACCE55

// Slot counts of the fixed target layout.
const (
	numAddrComparators = 16 // register slots; the target implements 8
	numContextIDCmps   = 8
	numCounters        = 4
	numResourceSels    = 32
)

// Baseline values established by Reset.
const (
	resetSyncPeriod uint32 = 0b10100 // 2^20 bytes per sync packet
	resetTraceID    uint32 = 0x1
	resetVICTLR     uint32 = 0x201 // event = always-true resource 1, SSSTATUS set
)

// TRCSTATR bits.
const statrIdleBit = 0 // set while the trace unit is idle (not tracing)

// TRCACATRn bits.
const (
	acatrCtxtIDCmpBit = 2 // compare context ID comparator 0 result
	acatrVMIDCmpBit   = 3 // compare VMID comparator result
)

// TRCRSCTLRn fields.
const (
	rsctlrGroupShift  = 16
	rsctlrInvertBit   = 20
	rsctlrPairInvBit  = 21
	rsctlrSeqSelShift = 4 // counter/sequencer group: sequencer states start here
)

// TRCEVENTCTL0R fields: one byte per event-packet position, pair flag in
// the byte's top bit.
const (
	eventSelFieldWidth = 8
	eventSelPairBit    = 7
)

// TRCEVENTCTL1R bits.
const eventCtl1ATBBit = 11

// TRCCNTCTLRn bits.
const (
	cntctlrReloadBit = 16 // reload from TRCCNTRLDVR on zero
	cntctlrChainBit  = 17 // decrement on the previous counter's reload (32-bit chain)
)

// TRCSTALLCTLR bits.
const (
	stallCtlISTALLBit     = 8  // stall the processor when overflow is imminent
	stallCtlNOOVERFLOWBit = 13 // trace-unit overflow prevention
)

// TRCVISSCTLR stop-address bits live in the register's high half.
const vissStopShift = 16

// TRCBBCTLR bits.
const bbctlrModeBit = 8 // invert range match sense

// TRCCONFIGR bits.
const (
	configrBBBit = 3 // branch broadcast enable
	configrCCBit = 4 // cycle count enable
)

// TRCVICTLR value selecting address start/stop filtering instead of the
// include/exclude ranges.
const victlrStartStopMode uint32 = 0x1

// Offset helpers for the array registers.

func rsctlr(n int) uint32 { return TRCRSCTLR + uint32(n)*4 }

func acvr(n int) uint32 { return TRCACVR + uint32(n)*8 }

func acatr(n int) uint32 { return TRCACATR + uint32(n)*8 }

func cidcvr(n int) uint32 { return TRCCIDCVR + uint32(n)*8 }

func vmidcvr(n int) uint32 { return TRCVMIDCVR + uint32(n)*8 }

func cntrldvr(n int) uint32 { return TRCCNTRLDVR + uint32(n)*4 }

func cntctlr(n int) uint32 { return TRCCNTCTLR + uint32(n)*4 }

func cntvr(n int) uint32 { return TRCCNTVR + uint32(n)*4 }
