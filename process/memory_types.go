package process

import (
	"fmt"
)

// ProcessMemoryAddress represents a memory address within an address space
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

// Add offsets an address by a relative virtual address.
func (pma ProcessMemoryAddress) Add(rva uint32) ProcessMemoryAddress {
	return pma + ProcessMemoryAddress(rva)
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}

// PageSize is the granularity used for zero-fill reads.
const PageSize = 0x1000
