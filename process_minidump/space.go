package process_minidump

import (
	"fmt"
	"sort"

	"gopedump/process"

	"github.com/go-delve/delve/pkg/proc/core/minidump"
)

// MinidumpSpace is the address space held in a minidump's memory lists.
type MinidumpSpace struct {
	ranges []minidump.MemoryRange // sorted by Addr, empty ranges dropped
}

var _ process.AddressSpace = (*MinidumpSpace)(nil)
var _ process.MemoryReader = (*MinidumpSpace)(nil)

func NewMinidumpSpace(ranges []minidump.MemoryRange) *MinidumpSpace {
	sorted := make([]minidump.MemoryRange, 0, len(ranges))
	for _, r := range ranges {
		if len(r.Data) > 0 {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Addr < sorted[j].Addr
	})
	return &MinidumpSpace{ranges: sorted}
}

// Ranges returns the captured ranges in address order.
func (m *MinidumpSpace) Ranges() []minidump.MemoryRange {
	return m.ranges
}

func (m *MinidumpSpace) find(addr uint64) *minidump.MemoryRange {
	i := sort.Search(len(m.ranges), func(i int) bool {
		return m.ranges[i].Addr+uint64(len(m.ranges[i].Data)) > addr
	})
	if i < len(m.ranges) && m.ranges[i].Addr <= addr {
		return &m.ranges[i]
	}
	return nil
}

// ReadMemory reads size bytes at addr, following on into the next range when
// two ranges are adjacent.
func (m *MinidumpSpace) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	r := m.find(uint64(addr))
	if r == nil {
		return nil, process.ErrAddressNotMapped
	}

	offset := uint64(addr) - r.Addr
	if offset+uint64(size) <= uint64(len(r.Data)) {
		return r.Data[offset : offset+uint64(size)], nil
	}

	buf := make([]byte, 0, size)
	cur := uint64(addr)
	for uint64(len(buf)) < uint64(size) {
		r := m.find(cur)
		if r == nil {
			return buf, fmt.Errorf("read %d bytes at 0x%x: %w", size, uint64(addr), process.ErrShortRead)
		}
		chunk := r.Data[cur-r.Addr:]
		if want := uint64(size) - uint64(len(buf)); uint64(len(chunk)) > want {
			chunk = chunk[:want]
		}
		buf = append(buf, chunk...)
		cur += uint64(len(chunk))
	}
	return buf, nil
}

func (m *MinidumpSpace) ZRead(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) []byte {
	return process.ZeroFill(m, addr, size)
}

func (m *MinidumpSpace) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	return m.find(uint64(addr)) != nil
}

// Translate is the identity; a minidump carries no physical addresses.
func (m *MinidumpSpace) Translate(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, bool) {
	if !m.IsValidAddress(addr) {
		return 0, false
	}
	return addr, true
}
