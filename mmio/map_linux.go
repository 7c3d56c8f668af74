//go:build linux

package mmio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Region is a Block backed by a live /dev/mem mapping.
type Region struct {
	Block
	mapped []byte
}

// Map maps size bytes of physical address space at base through /dev/mem.
// base must be page aligned. The mapping is shared and uncached as far as
// /dev/mem provides; all register access must still go through the 32/64-bit
// Device methods.
func Map(base uint64, size int) (*Region, error) {
	fd, err := unix.Open("/dev/mem", unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/mem: %w", err)
	}
	defer unix.Close(fd)

	mem, err := unix.Mmap(fd, int64(base), size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap 0x%X (+0x%X): %w", base, size, err)
	}
	return &Region{Block: Block{Data: mem}, mapped: mem}, nil
}

// Close unmaps the region. The Region must not be used afterwards.
func (r *Region) Close() error {
	if r.mapped == nil {
		return nil
	}
	err := unix.Munmap(r.mapped)
	r.mapped = nil
	r.Data = nil
	if err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
