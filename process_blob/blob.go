package process_blob

import (
	"fmt"

	"gopedump/process"
)

// ProcessBlob is a flat buffer of memory starting at a base address.
type ProcessBlob struct {
	baseaddress process.ProcessMemoryAddress
	data        []byte
}

var _ process.AddressSpace = (*ProcessBlob)(nil)
var _ process.MemoryReader = (*ProcessBlob)(nil)

func NewProcessBlob(baseAddress process.ProcessMemoryAddress, data []byte) *ProcessBlob {
	return &ProcessBlob{
		baseaddress: baseAddress,
		data:        data,
	}
}

func (p *ProcessBlob) Data() []byte {
	return p.data
}

func (p *ProcessBlob) Base() process.ProcessMemoryAddress {
	return p.baseaddress
}

// ReadMemory reads size bytes at addr. A read running off the end returns the
// bytes that exist together with process.ErrShortRead.
func (p *ProcessBlob) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if !p.IsValidAddress(addr) {
		return nil, process.ErrAddressNotMapped
	}

	offset := uint64(addr - p.baseaddress)
	end := offset + uint64(size)
	if end > uint64(len(p.data)) || end < offset {
		return p.data[offset:], fmt.Errorf("read %d bytes at 0x%x: %w", size, addr, process.ErrShortRead)
	}
	return p.data[offset:end], nil
}

func (p *ProcessBlob) ZRead(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) []byte {
	return process.ZeroFill(p, addr, size)
}

func (p *ProcessBlob) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	return addr >= p.baseaddress && uint64(addr-p.baseaddress) < uint64(len(p.data))
}

// Translate is the identity for mapped addresses; a flat blob has no page tables.
func (p *ProcessBlob) Translate(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, bool) {
	if !p.IsValidAddress(addr) {
		return 0, false
	}
	return addr, true
}
