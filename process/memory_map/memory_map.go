package memory_map

import (
	"fmt"
	"sort"
)

// MemoryMapItem represents a memory region in an address space
type MemoryMapItem struct {
	Address  uint64 `json:"Address"`            // The starting address of the memory region
	Size     uint   `json:"Size"`               // The size of the memory region in bytes
	Perms    string `json:"Perms"`              // Permissions (e.g., "r-xp" for read, execute, private)
	Offset   uint64 `json:"Offset,omitempty"`   // Offset into the backing file, if any
	Path     string `json:"Path,omitempty"`     // Backing file, if any
	Physical uint64 `json:"Physical,omitempty"` // Physical address of the first byte, zero when unknown
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s", mmItem.Address, mmItem.Size, mmItem.Perms)
}

func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + uint64(mmItem.Size)
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return len(mmItem.Perms) > 0 && mmItem.Perms[0] == 'r'
}

func (mmItem MemoryMapItem) IsWritable() bool {
	return len(mmItem.Perms) > 1 && mmItem.Perms[1] == 'w'
}

// MemoryMap defines the interface for operations related to a process's memory map
type MemoryMap interface {
	// ReadMemoryMap reads and parses the memory map for a process
	ReadMemoryMap(pid int) ([]MemoryMapItem, error)

	// IsReadablePerms checks if a memory region has read permissions
	IsReadablePerms(perms string) bool
}

// Sort orders a memory map by address, which FindRegion requires.
func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// IsValidAddress checks if an address is within a mapped memory region
func IsValidAddress(addr uint64, memoryMap []MemoryMapItem) bool {
	return FindRegion(addr, memoryMap) != nil
}

// FindRegion returns the region containing addr. The map must be sorted.
func FindRegion(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}

	return nil
}

// Translate maps addr through the region's physical base. Regions without a
// known physical base translate to themselves.
func Translate(addr uint64, memoryMap []MemoryMapItem) (uint64, bool) {
	region := FindRegion(addr, memoryMap)
	if region == nil {
		return 0, false
	}
	if region.Physical == 0 {
		return addr, true
	}
	return region.Physical + (addr - region.Address), true
}
