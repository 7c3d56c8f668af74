package etm

import "fmt"

// Capabilities decodes the implementation ID registers of one trace unit.
// Fields cover the features the configuration layer cares about; the full
// ID register contents stay readable through the raw values.
type Capabilities struct {
	RegIDR0 uint32
	RegIDR1 uint32
	RegIDR2 uint32
	RegIDR3 uint32
}

// Capabilities reads the unit's ID registers. The unit must be unlocked.
func (u *TraceUnit) Capabilities() Capabilities {
	return Capabilities{
		RegIDR0: u.dev.Read32(TRCIDR0),
		RegIDR1: u.dev.Read32(TRCIDR1),
		RegIDR2: u.dev.Read32(TRCIDR2),
		RegIDR3: u.dev.Read32(TRCIDR3),
	}
}

// MajVersion returns the major architecture version from TRCIDR1.
func (c Capabilities) MajVersion() uint8 {
	return uint8((c.RegIDR1 >> 8) & 0xF)
}

// MinVersion returns the minor architecture version from TRCIDR1.
func (c Capabilities) MinVersion() uint8 {
	return uint8((c.RegIDR1 >> 4) & 0xF)
}

// HasRetStack indicates return stack support.
func (c Capabilities) HasRetStack() bool {
	return (c.RegIDR0 & 0x200) == 0x200
}

// HasCondTrace indicates conditional instruction tracing support.
func (c Capabilities) HasCondTrace() bool {
	return (c.RegIDR0 & 0x40) == 0x40
}

// HasBranchBroadcast indicates branch broadcast tracing support.
func (c Capabilities) HasBranchBroadcast() bool {
	return (c.RegIDR0 & 0x20) == 0x20
}

// HasCycleCount indicates cycle counting support.
func (c Capabilities) HasCycleCount() bool {
	return (c.RegIDR0 & 0x80) == 0x80
}

// NumEvents returns the number of implemented event-packet positions.
func (c Capabilities) NumEvents() uint8 {
	return uint8(((c.RegIDR0 >> 10) & 0x3) + 1)
}

// CycleCountMin returns the smallest programmable cycle count threshold.
func (c Capabilities) CycleCountMin() uint32 {
	return c.RegIDR3 & 0xFFF
}

// SyncPeriodFixed indicates that TRCSYNCPR is read-only on this
// implementation, making SetSyncPeriod a no-op.
func (c Capabilities) SyncPeriodFixed() bool {
	return (c.RegIDR3 & (1 << 25)) != 0
}

// HasOverflowPrevention indicates TRCSTALLCTLR.NOOVERFLOW support.
func (c Capabilities) HasOverflowPrevention() bool {
	return (c.RegIDR3 & (1 << 31)) != 0
}

func (c Capabilities) String() string {
	return fmt.Sprintf("ETMv4.%d retstack=%t cond=%t bb=%t cc=%t ccimin=%d events=%d",
		c.MinVersion(), c.HasRetStack(), c.HasCondTrace(), c.HasBranchBroadcast(),
		c.HasCycleCount(), c.CycleCountMin(), c.NumEvents())
}
