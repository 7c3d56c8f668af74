// Package mmio provides access to memory-mapped hardware register blocks.
package mmio

import (
	"encoding/binary"
	"fmt"
)

// Device is the register access contract used by the trace-unit code.
// Offsets are byte offsets from the start of one component's register block.
type Device interface {
	// Read32 reads a 32-bit register at the given offset
	Read32(off uint32) uint32

	// Write32 writes a 32-bit register at the given offset
	Write32(off uint32, val uint32)

	// Read64 reads a 64-bit register at the given offset
	Read64(off uint32) uint64

	// Write64 writes a 64-bit register at the given offset
	Write64(off uint32, val uint64)
}

// Block implements Device over a single contiguous byte region.
// The region is typically an mmap'd 4KiB component window, but a plain
// byte slice works the same way and is how the register model is tested.
type Block struct {
	// Data holds the register contents, little-endian
	Data []byte
}

// NewBlock creates a zeroed block of the given size.
func NewBlock(size int) *Block {
	return &Block{Data: make([]byte, size)}
}

// Wrap creates a block over an existing byte region without copying it.
func Wrap(data []byte) *Block {
	return &Block{Data: data}
}

// Read32 implements Device.Read32.
func (b *Block) Read32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(b.Data[off : off+4])
}

// Write32 implements Device.Write32.
func (b *Block) Write32(off uint32, val uint32) {
	binary.LittleEndian.PutUint32(b.Data[off:off+4], val)
}

// Read64 implements Device.Read64.
func (b *Block) Read64(off uint32) uint64 {
	return binary.LittleEndian.Uint64(b.Data[off : off+8])
}

// Write64 implements Device.Write64.
func (b *Block) Write64(off uint32, val uint64) {
	binary.LittleEndian.PutUint64(b.Data[off:off+8], val)
}

// Size returns the block length in bytes.
func (b *Block) Size() int {
	return len(b.Data)
}

// CheckOffset verifies that a register access at off of the given width
// stays inside the block.
func (b *Block) CheckOffset(off uint32, width int) error {
	if int(off)+width > len(b.Data) {
		return fmt.Errorf("register offset 0x%X (+%d) is beyond block size 0x%X",
			off, width, len(b.Data))
	}
	return nil
}
